package patreon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/rewardledger/pkg/config"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

const (
	defaultBaseURL           = "https://www.patreon.com/api/oauth2/v2"
	defaultPageSize          = 500
	errorBodyReadLimit int64 = 1024
	memberFields             = "full_name,email,patron_status,last_charge_status,last_charge_date,pledge_relationship_start,lifetime_support_cents,currently_entitled_amount_cents,is_follower"
	userFields               = "full_name,vanity,url,email"
	jsonAPIContentType       = "application/vnd.api+json"
)

var errAccessTokenRequired = errors.New("patreon access token is required")

// Client reads campaign membership from the Patreon v2 API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	pageSize   int
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithPageSize overrides the member page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient builds a client authenticated with a creator access token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// NewFromConfig builds a client from the Patreon config section.
func NewFromConfig(cfg config.PatreonConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClient(cfg.AccessToken,
		WithBaseURL(cfg.BaseURL),
		WithPageSize(cfg.PageSize),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
}

// Member is one campaign membership joined with its patron profile.
type Member struct {
	PatronID                     string
	CampaignID                   string
	Email                        string
	FullName                     string
	Vanity                       string
	URL                          string
	PatronStatus                 string
	LastChargeStatus             string
	LastChargeDate               *time.Time
	PledgeRelationshipStart      *time.Time
	LifetimeSupportCents         int64
	CurrentlyEntitledAmountCents int64
	IsFollower                   bool
}

// MemberPage is one page of the member listing. NextCursor is empty on the
// last page.
type MemberPage struct {
	Members    []Member
	NextCursor string
}

type memberAttributes struct {
	FullName                     string     `json:"full_name"`
	Email                        string     `json:"email"`
	PatronStatus                 *string    `json:"patron_status"`
	LastChargeStatus             *string    `json:"last_charge_status"`
	LastChargeDate               *time.Time `json:"last_charge_date"`
	PledgeRelationshipStart      *time.Time `json:"pledge_relationship_start"`
	LifetimeSupportCents         int64      `json:"lifetime_support_cents"`
	CurrentlyEntitledAmountCents int64      `json:"currently_entitled_amount_cents"`
	IsFollower                   bool       `json:"is_follower"`
}

type userAttributes struct {
	FullName string `json:"full_name"`
	Vanity   string `json:"vanity"`
	URL      string `json:"url"`
	Email    string `json:"email"`
}

type resourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type membersResponse struct {
	Data []struct {
		ID            string           `json:"id"`
		Type          string           `json:"type"`
		Attributes    memberAttributes `json:"attributes"`
		Relationships struct {
			User struct {
				Data *resourceRef `json:"data"`
			} `json:"user"`
		} `json:"relationships"`
	} `json:"data"`
	Included []struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"included"`
	Meta struct {
		Pagination struct {
			Cursors struct {
				Next *string `json:"next"`
			} `json:"cursors"`
		} `json:"pagination"`
	} `json:"meta"`
}

// ListMembers fetches one page of a campaign's members starting at cursor.
func (c *Client) ListMembers(ctx context.Context, campaignID, cursor string) (*MemberPage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeExternalSync, "patreon client not configured")
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.membersURL(campaignID, cursor), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeExternalSync, err, "build member list request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", jsonAPIContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeExternalSync, err, "execute member list request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeExternalSync, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "member list request failed")
	}

	var apiResp membersResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeExternalSync, err, "decode member list response")
	}

	users := make(map[string]userAttributes, len(apiResp.Included))
	for _, inc := range apiResp.Included {
		if inc.Type != "user" {
			continue
		}
		var attrs userAttributes
		if err := json.Unmarshal(inc.Attributes, &attrs); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeExternalSync, err, "decode included user")
		}
		users[inc.ID] = attrs
	}

	page := &MemberPage{Members: make([]Member, 0, len(apiResp.Data))}
	for _, d := range apiResp.Data {
		ref := d.Relationships.User.Data
		if ref == nil || ref.ID == "" {
			// members without a user relationship cannot be linked
			continue
		}
		user := users[ref.ID]
		email := d.Attributes.Email
		if email == "" {
			email = user.Email
		}
		fullName := d.Attributes.FullName
		if fullName == "" {
			fullName = user.FullName
		}
		page.Members = append(page.Members, Member{
			PatronID:                     ref.ID,
			CampaignID:                   campaignID,
			Email:                        strings.TrimSpace(email),
			FullName:                     fullName,
			Vanity:                       user.Vanity,
			URL:                          user.URL,
			PatronStatus:                 deref(d.Attributes.PatronStatus),
			LastChargeStatus:             deref(d.Attributes.LastChargeStatus),
			LastChargeDate:               utc(d.Attributes.LastChargeDate),
			PledgeRelationshipStart:      utc(d.Attributes.PledgeRelationshipStart),
			LifetimeSupportCents:         d.Attributes.LifetimeSupportCents,
			CurrentlyEntitledAmountCents: d.Attributes.CurrentlyEntitledAmountCents,
			IsFollower:                   d.Attributes.IsFollower,
		})
	}
	if next := apiResp.Meta.Pagination.Cursors.Next; next != nil {
		page.NextCursor = *next
	}
	return page, nil
}

func (c *Client) membersURL(campaignID, cursor string) string {
	q := url.Values{}
	q.Set("include", "user")
	q.Set("fields[member]", memberFields)
	q.Set("fields[user]", userFields)
	q.Set("page[count]", strconv.Itoa(c.pageSize))
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		q.Set("page[cursor]", cursor)
	}
	base := strings.TrimRight(c.baseURL, "/")
	return fmt.Sprintf("%s/campaigns/%s/members?%s", base, url.PathEscape(campaignID), q.Encode())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
