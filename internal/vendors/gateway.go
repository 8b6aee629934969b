package vendors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/validation"
)

// Gateway is the vendor surface the ledgers charge through. Implementations
// never expose vendor payloads to callers.
type Gateway interface {
	Vendor() enums.Vendor
	GetCustomerProfileID(ctx context.Context, customer Customer) (string, error)
	CreateCard(ctx context.Context, profileID string, input CardInput) (*Card, error)
	GetCard(ctx context.Context, cardID string) (*Card, error)
	DeleteCard(ctx context.Context, cardID string) error
	ChargeCard(ctx context.Context, profileID, cardID string, charge Charge) (*ChargeResult, error)
}

// Customer identifies the account a vendor profile is looked up for.
type Customer struct {
	AccountID   uuid.UUID
	Email       string
	DisplayName string
}

// CardInput is the tokenized card handed in by the payment form.
type CardInput struct {
	SourceToken       string `json:"source_token" validate:"required,max=512"`
	CardholderName    string `json:"cardholder_name" validate:"omitempty,max=120"`
	VerificationToken string `json:"verification_token" validate:"omitempty,max=512"`
}

// Card is the opaque view of a vaulted card.
type Card struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int64  `json:"exp_month"`
	ExpYear   int64  `json:"exp_year"`
	Enabled   bool   `json:"enabled"`
}

// Charge describes one payment attempt. IdempotencyKey is the transaction id,
// so a retried charge for the same transaction cannot bill twice.
type Charge struct {
	AmountUSD      decimal.Decimal
	IdempotencyKey string
	Description    string
}

// ChargeResult carries the vendor reference of a successful charge.
type ChargeResult struct {
	VendorTransactionID string
}

// AmountCents converts a USD amount to whole cents, rounding half away from zero.
func AmountCents(usd decimal.Decimal) int64 {
	return usd.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ValidateCardInput rejects malformed card data before any vendor call.
func ValidateCardInput(input CardInput) error {
	return validation.Struct(input)
}

// Registry resolves the gateway for a vendor.
type Registry struct {
	gateways map[enums.Vendor]Gateway
}

// NewRegistry indexes gateways by the vendor they serve.
func NewRegistry(gateways ...Gateway) (*Registry, error) {
	reg := &Registry{gateways: make(map[enums.Vendor]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		v := gw.Vendor()
		if !v.IsValid() {
			return nil, fmt.Errorf("gateway for unknown vendor %q", v)
		}
		if _, dup := reg.gateways[v]; dup {
			return nil, fmt.Errorf("duplicate gateway for vendor %q", v)
		}
		reg.gateways[v] = gw
	}
	return reg, nil
}

// Get returns the gateway for v or a validation error when none is wired.
func (r *Registry) Get(v enums.Vendor) (Gateway, error) {
	if r != nil {
		if gw, ok := r.gateways[v]; ok {
			return gw, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("vendor %q has no gateway", v)).
		WithDetails(map[string]any{"vendor": string(v)})
}

// Vendors lists the vendors with a gateway.
func (r *Registry) Vendors() []enums.Vendor {
	out := make([]enums.Vendor, 0, len(r.gateways))
	for v := range r.gateways {
		out = append(out, v)
	}
	return out
}
