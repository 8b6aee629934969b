package vendors

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/square"
)

type squareClient interface {
	EnsureCustomer(ctx context.Context, params square.CustomerCreateParams) (*sq.Customer, error)
	CreateCard(ctx context.Context, params square.CardCreateParams) (*sq.Card, error)
	GetCard(ctx context.Context, cardID string) (*sq.Card, error)
	DisableCard(ctx context.Context, cardID string) error
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
}

// SquareGateway serves the card vendor through Square.
type SquareGateway struct {
	client squareClient
}

// NewSquareGateway wraps a Square client.
func NewSquareGateway(client squareClient) (*SquareGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareGateway{client: client}, nil
}

func (g *SquareGateway) Vendor() enums.Vendor { return enums.VendorCard }

// GetCustomerProfileID finds or creates the Square customer keyed by account id.
func (g *SquareGateway) GetCustomerProfileID(ctx context.Context, customer Customer) (string, error) {
	cust, err := g.client.EnsureCustomer(ctx, square.CustomerCreateParams{
		Email:          customer.Email,
		GivenName:      customer.DisplayName,
		ReferenceID:    customer.AccountID.String(),
		IdempotencyKey: "customer-" + customer.AccountID.String(),
	})
	if err != nil {
		return "", err
	}
	id := deref(cust.GetID())
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "square customer without id")
	}
	return id, nil
}

func (g *SquareGateway) CreateCard(ctx context.Context, profileID string, input CardInput) (*Card, error) {
	if err := ValidateCardInput(input); err != nil {
		return nil, err
	}
	card, err := g.client.CreateCard(ctx, square.CardCreateParams{
		CustomerID:        profileID,
		SourceID:          input.SourceToken,
		CardholderName:    input.CardholderName,
		VerificationToken: input.VerificationToken,
	})
	if err != nil {
		return nil, err
	}
	return cardFromSquare(card), nil
}

func (g *SquareGateway) GetCard(ctx context.Context, cardID string) (*Card, error) {
	card, err := g.client.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "card not found")
	}
	return cardFromSquare(card), nil
}

func (g *SquareGateway) DeleteCard(ctx context.Context, cardID string) error {
	return g.client.DisableCard(ctx, cardID)
}

// ChargeCard bills a stored card of profileID. Cards of other customers are
// refused before reaching the payment API.
func (g *SquareGateway) ChargeCard(ctx context.Context, profileID, cardID string, charge Charge) (*ChargeResult, error) {
	card, err := g.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.ProfileID != profileID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "card does not belong to profile")
	}
	if !card.Enabled {
		return nil, pkgerrors.New(pkgerrors.CodeVendorChargeFailed, "card is disabled")
	}

	cents := AmountCents(charge.AmountUSD)
	if cents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    cents,
		Currency:       "USD",
		CustomerID:     profileID,
		SourceID:       cardID,
		IdempotencyKey: charge.IdempotencyKey,
		Note:           charge.Description,
		ReferenceID:    charge.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{VendorTransactionID: deref(payment.GetID())}, nil
}

func cardFromSquare(card *sq.Card) *Card {
	if card == nil {
		return nil
	}
	out := &Card{
		ID:        deref(card.GetID()),
		ProfileID: deref(card.GetCustomerID()),
		Last4:     deref(card.GetLast4()),
		Enabled:   card.GetEnabled() == nil || *card.GetEnabled(),
	}
	if brand := card.GetCardBrand(); brand != nil {
		out.Brand = strings.ToLower(string(*brand))
	}
	if m := card.GetExpMonth(); m != nil {
		out.ExpMonth = *m
	}
	if y := card.GetExpYear(); y != nil {
		out.ExpYear = *y
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
