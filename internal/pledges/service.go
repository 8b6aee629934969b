package pledges

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/internal/transactions"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/metrics"
	"github.com/angelmondragon/rewardledger/pkg/patreon"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MemberSource lists campaign members page by page.
type MemberSource interface {
	ListMembers(ctx context.Context, campaignID, cursor string) (*patreon.MemberPage, error)
}

type granter interface {
	Grant(ctx context.Context, input transactions.CreateInput, opts transactions.GrantOptions) (*models.PaymentTransaction, error)
}

type accountLinker interface {
	AccountIDsByEmails(ctx context.Context, emails []string) (map[string]uuid.UUID, error)
}

// ServiceParams groups dependencies for the pledge reconciler.
type ServiceParams struct {
	Repo              Repository
	Source            MemberSource
	Ledger            granter
	Accounts          accountLinker
	TransactionRunner txRunner
	Automation        config.AutomationConfig
	Rewards           config.RewardsConfig
	Metrics           *metrics.LedgerMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

// SyncReport summarizes one pull of the configured campaigns.
type SyncReport struct {
	Pages          int
	UsersWritten   int
	MembersWritten int
}

// RewardReport summarizes one ProcessRewards run.
type RewardReport struct {
	Eligible      int
	Rewarded      int
	Unlinked      int
	RewardedCents int64
}

// Service mirrors pledge platform memberships and turns new support into
// ledger transactions.
type Service struct {
	repo       Repository
	source     MemberSource
	ledger     granter
	accounts   accountLinker
	tx         txRunner
	automation config.AutomationConfig
	rewards    config.RewardsConfig
	metrics    *metrics.LedgerMetrics
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the pledge reconciler. Source may be nil when only the
// reward side is used.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("pledge repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("transaction ledger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account linker required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       params.Repo,
		source:     params.Source,
		ledger:     params.Ledger,
		accounts:   params.Accounts,
		tx:         params.TransactionRunner,
		automation: params.Automation,
		rewards:    params.Rewards,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        func() time.Time { return now().UTC() },
	}, nil
}

// Load reads the mirror and the pledge transaction history into a snapshot.
func (s *Service) Load(ctx context.Context) (*Snapshot, error) {
	users, err := s.repo.Users(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load patreon users")
	}
	members, err := s.repo.Members(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load patreon members")
	}
	granted, err := s.repo.GrantedCents(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pledge transactions")
	}
	return NewSnapshot(users, members, granted), nil
}

// Sync pulls every configured campaign into the mirror. Each page is written
// in its own DB transaction; a pull error stops the run and keeps what was
// already committed.
func (s *Service) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if s.source == nil {
		return report, pkgerrors.New(pkgerrors.CodeDependency, "pledge platform client not configured")
	}
	snap, err := s.Load(ctx)
	if err != nil {
		return report, err
	}

	for _, raw := range s.rewards.Campaigns {
		campaignID := strings.TrimSpace(raw)
		if campaignID == "" {
			continue
		}
		campaignCtx := s.logg.WithField(ctx, "campaign_id", campaignID)
		cursor := ""
		for {
			page, err := s.source.ListMembers(campaignCtx, campaignID, cursor)
			if err != nil {
				return report, err
			}
			report.Pages++

			ws := Diff(snap, page.Members, s.now())
			if !ws.Empty() {
				if err := s.persist(campaignCtx, ws); err != nil {
					return report, err
				}
				snap.Apply(ws)
				report.UsersWritten += len(ws.Users)
				report.MembersWritten += len(ws.Members)
			}

			if page.NextCursor == "" || page.NextCursor == cursor {
				break
			}
			cursor = page.NextCursor
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"pages":           report.Pages,
		"users_written":   report.UsersWritten,
		"members_written": report.MembersWritten,
	}), "pledge sync finished")
	return report, nil
}

func (s *Service) persist(ctx context.Context, ws WriteSet) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.SaveUsers(ctx, ws.Users); err != nil {
			return err
		}
		return txRepo.SaveMembers(ctx, ws.Members)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist pledge page")
	}
	return nil
}

// ProcessRewards grants every linked member the support not yet rewarded.
// While automated rewards are off it only logs who is eligible.
func (s *Service) ProcessRewards(ctx context.Context) (RewardReport, error) {
	var report RewardReport
	snap, err := s.Load(ctx)
	if err != nil {
		return report, err
	}

	var errs error
	for _, key := range sortedKeys(snap) {
		due := snap.Due(key)
		if due <= 0 {
			continue
		}
		report.Eligible++
		memberCtx := s.memberCtx(ctx, key)

		if !s.automation.RewardsEnabled {
			s.logg.Info(s.logg.WithField(memberCtx, "due_cents", due), "pledge reward eligible, automated rewards disabled")
			continue
		}

		txn, err := s.Reward(memberCtx, snap, key, due)
		switch {
		case err == nil && txn == nil:
			report.Unlinked++
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("patron %s campaign %s: %w", key.PatronID, key.CampaignID, err))
		default:
			report.Rewarded++
			report.RewardedCents += due
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"eligible":       report.Eligible,
		"rewarded":       report.Rewarded,
		"unlinked":       report.Unlinked,
		"rewarded_cents": report.RewardedCents,
		"enabled":        s.automation.RewardsEnabled,
	}), "pledge rewards finished")
	return report, errs
}

// Reward grants dueCents to the account linked to the member and advances
// rewarded_cents in the same DB transaction. It returns a nil transaction
// when no account is linked to the patron.
func (s *Service) Reward(ctx context.Context, snap *Snapshot, key MemberKey, dueCents int64) (*models.PaymentTransaction, error) {
	if dueCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "due cents must be positive")
	}
	if _, ok := snap.Members[key]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
	}
	accountID, err := s.Link(ctx, snap, key.PatronID)
	if err != nil {
		return nil, err
	}
	if accountID == uuid.Nil {
		s.logg.Info(ctx, "patron has no linked account")
		return nil, nil
	}

	expected := snap.Members[key].RewardedCents
	next := snap.Rewarded(key) + dueCents
	usd := decimal.New(dueCents, -2)
	campaignID := key.CampaignID

	txn, err := s.ledger.Grant(ctx, transactions.CreateInput{
		AccountID:             accountID,
		Vendor:                enums.VendorPledge,
		VendorProfileID:       key.PatronID,
		AccountCurrencyUSD:    usd,
		AccountCurrencyQuoted: usd.Round(2).Mul(s.rewards.Multiplier()),
		SubscriptionID:        &campaignID,
	}, transactions.GrantOptions{
		AfterFulfill: func(ctx context.Context, tx *gorm.DB, _ *models.PaymentTransaction) error {
			ok, err := s.repo.WithTx(tx).AdvanceRewarded(ctx, key, expected, next)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance rewarded cents")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "rewarded cents changed concurrently")
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	snap.recordReward(key, next, dueCents)
	s.metrics.PledgeRewarded(key.CampaignID, dueCents)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"account_id":     accountID.String(),
		"transaction_id": txn.ID.String(),
		"due_cents":      dueCents,
	}), "pledge reward granted")
	return txn, nil
}

// Link resolves a patron to an account by case-insensitive email match.
func (s *Service) Link(ctx context.Context, snap *Snapshot, patronID string) (uuid.UUID, error) {
	user, ok := snap.Users[patronID]
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if !ok || email == "" {
		return uuid.Nil, nil
	}
	ids, err := s.accounts.AccountIDsByEmails(ctx, []string{email})
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link patron account")
	}
	return ids[email], nil
}

func (s *Service) memberCtx(ctx context.Context, key MemberKey) context.Context {
	return s.logg.WithPatron(ctx, key.PatronID, key.CampaignID)
}
