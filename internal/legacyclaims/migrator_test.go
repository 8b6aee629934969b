package legacyclaims

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rewardledger/internal/accounts"
	"github.com/angelmondragon/rewardledger/internal/catalogue"
	"github.com/angelmondragon/rewardledger/internal/pledges"
	"github.com/angelmondragon/rewardledger/internal/transactions"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db/dbtest"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/outbox"
)

type claimFixture struct {
	claims   Repository
	pledges  *pledges.Service
	members  pledges.Repository
	accounts accounts.Repository
	logg     *logger.Logger
}

func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	registry, err := vendors.NewRegistry(vendors.NewFakeGateway())
	require.NoError(t, err)
	accountRepo := accounts.NewRepository(client.DB())
	ledger, err := transactions.NewService(transactions.ServiceParams{
		Repo:              transactions.NewRepository(client.DB()),
		Accounts:          accountRepo,
		Catalogue:         catalogue.NewRepository(client.DB()),
		Gateways:          registry,
		Notifications:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		TransactionRunner: client,
		Logger:            logg,
	})
	require.NoError(t, err)

	memberRepo := pledges.NewRepository(client.DB())
	svc, err := pledges.NewService(pledges.ServiceParams{
		Repo:              memberRepo,
		Ledger:            ledger,
		Accounts:          accountRepo,
		TransactionRunner: client,
		Rewards:           config.RewardsConfig{PledgeMultiplier: "2"},
		Logger:            logg,
	})
	require.NoError(t, err)

	return &claimFixture{
		claims:   NewRepository(client.DB()),
		pledges:  svc,
		members:  memberRepo,
		accounts: accountRepo,
		logg:     logg,
	}
}

// seed stores a linked patron whose membership was rewarded up to rewarded.
func (f *claimFixture) seed(t *testing.T, patronID string, lifetime, rewarded, claimed int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	email := patronID + "@example.com"

	account := &models.Account{DisplayName: patronID}
	require.NoError(t, f.accounts.Create(ctx, account))
	require.NoError(t, f.accounts.AddEmail(ctx, account.ID, email))

	now := time.Now().UTC()
	require.NoError(t, f.members.SaveUsers(ctx, []models.PatreonUser{{PatronID: patronID, Email: email, UpdatedAt: now}}))
	require.NoError(t, f.members.SaveMembers(ctx, []models.PatreonMember{{
		PatronID:             patronID,
		CampaignID:           "camp",
		LifetimeSupportCents: lifetime,
		RewardedCents:        rewarded,
		UpdatedAt:            now,
	}}))
	require.NoError(t, f.claims.Upsert(ctx, &models.LegacyPatreonClaim{CampaignID: "camp", PatronID: patronID, ClaimedCents: claimed}))
	return account.ID
}

func (f *claimFixture) rewarded(t *testing.T, patronID string) int64 {
	t.Helper()
	snap, err := f.pledges.Load(context.Background())
	require.NoError(t, err)
	return snap.Rewarded(pledges.MemberKey{CampaignID: "camp", PatronID: patronID})
}

func TestRunCreditsClaimDeltaOnce(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	accountID := f.seed(t, "p1", 250, 150, 250)

	migrator, err := NewMigrator(f.claims, f.pledges, f.logg, false)
	require.NoError(t, err)

	report, err := migrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claims: 1, Granted: 1, GrantedCents: 100}, report)
	assert.Equal(t, int64(250), f.rewarded(t, "p1"))

	account, err := f.accounts.FindByID(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, account.AccountCurrencyBalance.Equal(decimal.NewFromInt(2)))

	report, err = migrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claims: 1, Settled: 1}, report)
	assert.Equal(t, int64(250), f.rewarded(t, "p1"))
}

func TestRunDryRunGrantsNothing(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	accountID := f.seed(t, "p1", 250, 150, 250)

	migrator, err := NewMigrator(f.claims, f.pledges, f.logg, true)
	require.NoError(t, err)

	report, err := migrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), report.GrantedCents)
	assert.Zero(t, report.Granted)
	assert.Equal(t, int64(150), f.rewarded(t, "p1"))

	account, err := f.accounts.FindByID(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, account.AccountCurrencyBalance.IsZero())
}

func TestRunSkipsUnknownMembershipsAndSettledClaims(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()
	f.seed(t, "p1", 400, 400, 300)
	require.NoError(t, f.claims.Upsert(ctx, &models.LegacyPatreonClaim{CampaignID: "camp", PatronID: "ghost", ClaimedCents: 900}))

	migrator, err := NewMigrator(f.claims, f.pledges, f.logg, false)
	require.NoError(t, err)

	report, err := migrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claims: 2, Settled: 1, Unknown: 1}, report)
}
