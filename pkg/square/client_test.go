package square

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

func TestEnsureIdempotencyKey(t *testing.T) {
	c := &Client{}
	if got := c.ensureIdempotencyKey("pref", "custom-key"); got != "custom-key" {
		t.Fatalf("expected provided key, got %q", got)
	}
	if got := c.ensureIdempotencyKey("prefix", ""); !strings.HasPrefix(got, "prefix-") {
		t.Fatalf("generated idempotency key %q missing prefix", got)
	}
}

func TestRedact(t *testing.T) {
	c := &Client{}
	out := c.redact("payment_token", "abc123")
	if out != "[REDACTED]" {
		t.Fatalf("expected redacted value, got %v", out)
	}
	if v := c.redact("status", "ok"); v != "ok" {
		t.Fatalf("unexpected redaction for safe key")
	}
	if v := c.redact("card_id", "ccof:abc"); v != "ccof:abc" {
		t.Fatalf("card ids should stay visible, got %v", v)
	}
	if v := c.redact("source_id", "cnon:abc"); v != "[REDACTED]" {
		t.Fatalf("card nonces must be redacted, got %v", v)
	}
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusPaymentRequired, pkgerrors.CodeVendorChargeFailed},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := domainCodeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapSquareError(t *testing.T) {
	c := &Client{}
	table := []struct {
		name     string
		status   int
		payload  string
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			status:   http.StatusUnauthorized,
			payload:  `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`,
			wantCode: pkgerrors.CodeUnauthorized,
		},
		{
			name:     "idempotency key reused",
			status:   http.StatusConflict,
			payload:  `{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`,
			wantCode: pkgerrors.CodeIdempotency,
		},
		{
			name:     "card declined",
			status:   http.StatusBadRequest,
			payload:  `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`,
			wantCode: pkgerrors.CodeVendorChargeFailed,
		},
	}
	for _, tt := range table {
		err := sqcore.NewAPIError(tt.status, errors.New(tt.payload))
		mapped := c.mapSquareError(err, "operation")
		if mapped == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		typed := pkgerrors.As(mapped)
		if typed == nil {
			t.Fatalf("%s: result is not pkgerror", tt.name)
		}
		if typed.Code() != tt.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.wantCode, typed.Code())
		}
	}
}

func TestExtractSquareErrors(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	apiErr := sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload))
	got := c.extractSquareErrors(apiErr)
	if len(got) != 1 {
		t.Fatalf("expected 1 error, got %d", len(got))
	}
	if got[0].GetCode() != sq.ErrorCodeBadRequest {
		t.Fatalf("unexpected error code %s", got[0].GetCode())
	}
}

func TestPaymentParamsToSquareRequest(t *testing.T) {
	params := PaymentCreateParams{
		AmountCents: 1999,
		LocationID:  "LOC",
		CustomerID:  "CUST",
		SourceID:    "ccof:card",
		ReferenceID: "tx-1",
		Note:        " 2000 coins ",
	}
	req := params.toSquareRequest("tx-1")
	if req.IdempotencyKey != "tx-1" || req.SourceID != "ccof:card" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 1999 || *req.AmountMoney.Currency != sq.Currency("USD") {
		t.Fatalf("unexpected amount %+v", req.AmountMoney)
	}
	if req.Autocomplete == nil || !*req.Autocomplete {
		t.Fatal("payments must autocomplete")
	}
	if req.Note == nil || *req.Note != "2000 coins" {
		t.Fatalf("note not trimmed: %v", req.Note)
	}
}

func TestNormalizeEnv(t *testing.T) {
	if env, err := normalizeEnv(""); err != nil || env != sandboxEnv {
		t.Fatalf("expected sandbox default, got %q %v", env, err)
	}
	if env, err := normalizeEnv(" Production "); err != nil || env != productionEnv {
		t.Fatalf("expected production, got %q %v", env, err)
	}
	if _, err := normalizeEnv("staging"); err == nil {
		t.Fatal("expected invalid environment error")
	}
}

func TestEnsureCustomerRequiresReference(t *testing.T) {
	var nilClient *Client
	if _, err := nilClient.EnsureCustomer(context.Background(), CustomerCreateParams{ReferenceID: "acct"}); err != errAccessTokenRequired {
		t.Fatalf("expected access token error, got %v", err)
	}
	c := &Client{}
	if _, err := c.EnsureCustomer(context.Background(), CustomerCreateParams{Email: "a@example.com"}); err != errReferenceIDRequired {
		t.Fatalf("expected reference id error, got %v", err)
	}
	if cust, err := c.FindCustomerByReference(context.Background(), "  "); err != nil || cust != nil {
		t.Fatalf("blank reference should find nothing, got %v %v", cust, err)
	}
}
