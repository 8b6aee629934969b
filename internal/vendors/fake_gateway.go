package vendors

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

// FakeGateway keeps profiles, cards and charges in memory. It backs the fake
// vendor in dev and in tests. Like Square, a reused idempotency key replays
// the first outcome, declines included.
type FakeGateway struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]string
	cards    map[string]*Card
	charges  map[string]RecordedCharge
	declined map[string]error
	order    []string
	refuse   bool
	failWith error
}

// RecordedCharge is a charge the fake accepted.
type RecordedCharge struct {
	ProfileID           string
	CardID              string
	AmountUSD           decimal.Decimal
	IdempotencyKey      string
	VendorTransactionID string
}

// NewFakeGateway returns an empty in-memory gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		profiles: map[uuid.UUID]string{},
		cards:    map[string]*Card{},
		charges:  map[string]RecordedCharge{},
		declined: map[string]error{},
	}
}

func (g *FakeGateway) Vendor() enums.Vendor { return enums.VendorFake }

// RefuseCharges makes every following charge decline.
func (g *FakeGateway) RefuseCharges(refuse bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refuse = refuse
}

// FailWith makes every following charge return err, as an unreachable vendor would.
func (g *FakeGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

// Charges returns accepted charges in the order they were made.
func (g *FakeGateway) Charges() []RecordedCharge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RecordedCharge, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, g.charges[key])
	}
	return out
}

func (g *FakeGateway) GetCustomerProfileID(_ context.Context, customer Customer) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.profiles[customer.AccountID]; ok {
		return id, nil
	}
	id := "fake-cust-" + customer.AccountID.String()
	g.profiles[customer.AccountID] = id
	return id, nil
}

func (g *FakeGateway) CreateCard(_ context.Context, profileID string, input CardInput) (*Card, error) {
	if err := ValidateCardInput(input); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	card := &Card{
		ID:        "fake-card-" + uuid.NewString(),
		ProfileID: profileID,
		Brand:     "visa",
		Last4:     "4242",
		ExpMonth:  12,
		ExpYear:   2030,
		Enabled:   true,
	}
	g.cards[card.ID] = card
	copied := *card
	return &copied, nil
}

func (g *FakeGateway) GetCard(_ context.Context, cardID string) (*Card, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	card, ok := g.cards[cardID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "card not found")
	}
	copied := *card
	return &copied, nil
}

func (g *FakeGateway) DeleteCard(_ context.Context, cardID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	card, ok := g.cards[cardID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "card not found")
	}
	card.Enabled = false
	return nil
}

func (g *FakeGateway) ChargeCard(_ context.Context, profileID, cardID string, charge Charge) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failWith != nil {
		return nil, g.failWith
	}
	card, ok := g.cards[cardID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "card not found")
	}
	if card.ProfileID != profileID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "card does not belong to profile")
	}
	if charge.IdempotencyKey != "" {
		if prior, ok := g.charges[charge.IdempotencyKey]; ok {
			return &ChargeResult{VendorTransactionID: prior.VendorTransactionID}, nil
		}
		if err, ok := g.declined[charge.IdempotencyKey]; ok {
			return nil, err
		}
	}
	if g.refuse || !card.Enabled {
		err := pkgerrors.New(pkgerrors.CodeVendorChargeFailed, "fake charge refused")
		if charge.IdempotencyKey != "" {
			g.declined[charge.IdempotencyKey] = err
		}
		return nil, err
	}

	recorded := RecordedCharge{
		ProfileID:           profileID,
		CardID:              cardID,
		AmountUSD:           charge.AmountUSD,
		IdempotencyKey:      charge.IdempotencyKey,
		VendorTransactionID: fmt.Sprintf("fake-pay-%d", len(g.order)+1),
	}
	key := charge.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	g.charges[key] = recorded
	g.order = append(g.order, key)
	return &ChargeResult{VendorTransactionID: recorded.VendorTransactionID}, nil
}
