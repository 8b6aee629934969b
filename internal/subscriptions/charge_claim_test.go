package subscriptions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rewardledger/internal/transactions"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
)

// pausingLedger runs pause once, right before the first transaction it
// creates.
type pausingLedger struct {
	ledger
	once  sync.Once
	pause func()
}

func (l *pausingLedger) Create(ctx context.Context, input transactions.CreateInput) (*models.PaymentTransaction, error) {
	l.once.Do(l.pause)
	return l.ledger.Create(ctx, input)
}

// pausingRepo runs pause once, right before the first charge claim.
type pausingRepo struct {
	Repository
	once  sync.Once
	pause func()
}

func (r *pausingRepo) ClaimCharge(ctx context.Context, id uuid.UUID, token string, now, staleBefore time.Time) (bool, error) {
	r.once.Do(r.pause)
	return r.Repository.ClaimCharge(ctx, id, token, now, staleBefore)
}

func TestChargeJobDuringAcceptFirstChargeBillsOnce(t *testing.T) {
	f := newSubscriptionFixture(t, enabledAutomation())
	ctx := context.Background()
	accountID, cardID := f.subscriber(t)
	sub := f.create(t, accountID, cardID)

	var jobReport ProcessReport
	params := f.params
	params.Transactions = &pausingLedger{ledger: f.ledger, pause: func() {
		var err error
		jobReport, err = f.svc.ProcessSubscriptions(ctx)
		require.NoError(t, err)
	}}
	accepting, err := NewService(params)
	require.NoError(t, err)

	accepted, err := accepting.Accept(ctx, accountID, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, accepted.LastChargeAt)
	assert.Nil(t, accepted.ChargeClaim)

	assert.Equal(t, ProcessReport{Considered: 1, InFlight: 1}, jobReport)
	assert.Len(t, f.gateway.Charges(), 1)
	assert.True(t, f.balance(t, accountID).Equal(decimal.NewFromInt(500)))
}

func TestAcceptAfterChargeJobTookFirstIntervalBillsOnce(t *testing.T) {
	f := newSubscriptionFixture(t, enabledAutomation())
	ctx := context.Background()
	accountID, cardID := f.subscriber(t)
	sub := f.create(t, accountID, cardID)

	var jobReport ProcessReport
	params := f.params
	params.Repo = &pausingRepo{Repository: f.params.Repo, pause: func() {
		var err error
		jobReport, err = f.svc.ProcessSubscriptions(ctx)
		require.NoError(t, err)
	}}
	accepting, err := NewService(params)
	require.NoError(t, err)

	accepted, err := accepting.Accept(ctx, accountID, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, accepted.LastChargeAt)
	assert.Equal(t, enums.SubscriptionStatusActive, accepted.Status)

	assert.Equal(t, ProcessReport{Considered: 1, Charged: 1}, jobReport)
	assert.Len(t, f.gateway.Charges(), 1)
	assert.True(t, f.balance(t, accountID).Equal(decimal.NewFromInt(500)))
}

func TestRefusedIntervalRetryReusesItsTransaction(t *testing.T) {
	f := newSubscriptionFixture(t, enabledAutomation())
	ctx := context.Background()
	accountID, cardID := f.subscriber(t)
	sub := f.create(t, accountID, cardID)

	f.gateway.RefuseCharges(true)
	_, err := f.svc.Accept(ctx, accountID, sub.ID)
	require.Error(t, err)
	refused, err := f.ledger.LatestForSubscription(ctx, sub.ID.String())
	require.NoError(t, err)

	f.gateway.RefuseCharges(false)
	f.now = f.now.Add(73 * time.Hour)
	report, err := f.svc.ProcessSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Charged)

	latest, err := f.ledger.LatestForSubscription(ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, refused.ID, latest.ID)
	assert.Equal(t, enums.TransactionResultFulfilled, latest.Result)

	charges := f.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, refused.ID.String()+":1", charges[0].IdempotencyKey)
}

func TestChargeClaimIsExclusiveUntilStale(t *testing.T) {
	f := newSubscriptionFixture(t, enabledAutomation())
	ctx := context.Background()
	accountID, cardID := f.subscriber(t)
	sub := f.create(t, accountID, cardID)
	repo := f.params.Repo

	claimed, err := repo.ClaimCharge(ctx, sub.ID, "first", f.now, f.now.Add(-chargeClaimTTL))
	require.NoError(t, err)
	assert.False(t, claimed, "pending subscriptions cannot be charged")

	require.NoError(t, repo.UpdateStatus(ctx, sub.ID, enums.SubscriptionStatusActive, nil))

	claimed, err = repo.ClaimCharge(ctx, sub.ID, "first", f.now, f.now.Add(-chargeClaimTTL))
	require.NoError(t, err)
	require.True(t, claimed)

	later := f.now.Add(time.Minute)
	claimed, err = repo.ClaimCharge(ctx, sub.ID, "second", later, later.Add(-chargeClaimTTL))
	require.NoError(t, err)
	assert.False(t, claimed)

	abandoned := f.now.Add(chargeClaimTTL + time.Minute)
	claimed, err = repo.ClaimCharge(ctx, sub.ID, "second", abandoned, abandoned.Add(-chargeClaimTTL))
	require.NoError(t, err)
	assert.True(t, claimed)

	released, err := repo.ReleaseCharge(ctx, sub.ID, "first", &abandoned)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = repo.ReleaseCharge(ctx, sub.ID, "second", nil)
	require.NoError(t, err)
	assert.True(t, released)

	stored, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ChargeClaim)
	assert.Nil(t, stored.LastChargeAt)
}
