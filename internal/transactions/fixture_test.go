package transactions

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rewardledger/internal/accounts"
	"github.com/angelmondragon/rewardledger/internal/catalogue"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/db"
	"github.com/angelmondragon/rewardledger/pkg/db/dbtest"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/outbox"
)

type staticCards map[uuid.UUID]string

func (c staticCards) DefaultCardID(_ context.Context, accountID uuid.UUID, _ enums.Vendor) (string, error) {
	return c[accountID], nil
}

type ledgerFixture struct {
	client   *db.Client
	params   ServiceParams
	svc      Service
	accounts accounts.Repository
	outbox   *outbox.Repository
	gateway  *vendors.FakeGateway
	cards    staticCards
}

// buyer is an account with a vaulted fake card set as default.
type buyer struct {
	accountID uuid.UUID
	profileID string
	cardID    string
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	client := dbtest.Open(t)
	ctx := context.Background()

	catRepo := catalogue.NewRepository(client.DB())
	require.NoError(t, catRepo.Upsert(ctx, &models.CatalogueItem{
		Code:                 "hat",
		Name:                 "Top Hat",
		UnitPriceUSD:         decimal.RequireFromString("2.50"),
		AccountCurrencyValue: decimal.NewFromInt(250),
	}))
	require.NoError(t, catRepo.Upsert(ctx, &models.CatalogueItem{
		Code:                 "badge",
		Name:                 "Supporter Badge",
		UnitPriceUSD:         decimal.NewFromInt(5),
		AccountCurrencyValue: decimal.Zero,
		SupporterFlag:        true,
	}))

	gateway := vendors.NewFakeGateway()
	registry, err := vendors.NewRegistry(gateway)
	require.NoError(t, err)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	accountRepo := accounts.NewRepository(client.DB())
	outboxRepo := outbox.NewRepository(client.DB())
	cards := staticCards{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	var clockMu sync.Mutex
	params := ServiceParams{
		Repo:              NewRepository(client.DB()),
		Accounts:          accountRepo,
		Catalogue:         catRepo,
		Gateways:          registry,
		DefaultCards:      cards,
		Notifications:     outbox.NewService(outboxRepo, logg),
		TransactionRunner: client,
		Logger:            logg,
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	return &ledgerFixture{
		client:   client,
		params:   params,
		svc:      svc,
		accounts: accountRepo,
		outbox:   outboxRepo,
		gateway:  gateway,
		cards:    cards,
	}
}

func (f *ledgerFixture) newBuyer(t *testing.T) buyer {
	t.Helper()
	ctx := context.Background()
	account := &models.Account{DisplayName: "buyer"}
	require.NoError(t, f.accounts.Create(ctx, account))

	profileID, err := f.gateway.GetCustomerProfileID(ctx, vendors.Customer{AccountID: account.ID})
	require.NoError(t, err)
	card, err := f.gateway.CreateCard(ctx, profileID, vendors.CardInput{SourceToken: "cnon:ok"})
	require.NoError(t, err)
	f.cards[account.ID] = card.ID

	return buyer{accountID: account.ID, profileID: profileID, cardID: card.ID}
}

func (f *ledgerFixture) purchase(b buyer, usd, quoted int64, items ...catalogue.Line) CreateInput {
	return CreateInput{
		AccountID:             b.accountID,
		Vendor:                enums.VendorFake,
		VendorProfileID:       b.profileID,
		AccountCurrencyUSD:    decimal.NewFromInt(usd),
		AccountCurrencyQuoted: decimal.NewFromInt(quoted),
		Items:                 items,
	}
}

func (f *ledgerFixture) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := f.accounts.FindByID(context.Background(), accountID)
	require.NoError(t, err)
	return account.AccountCurrencyBalance
}
