package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/pkg/db/dbtest"
)

func TestEmitQueuesOncePerTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	event := RewardEvent{
		AccountID:     uuid.New(),
		TransactionID: uuid.New(),
		Message:       "You received 1000 coins",
		Amount:        decimal.NewFromInt(1000),
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, event)
		}))
	}

	rows, err := repo.FetchUnpublished(nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, event.TransactionID, rows[0].TransactionID)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(1000)))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, RewardEvent{}))
}

func TestMarkFailedAndPublished(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, RewardEvent{AccountID: uuid.New(), TransactionID: uuid.New(), Message: "m", Amount: decimal.NewFromInt(5)})
	}))
	rows, err := repo.FetchUnpublished(nil, 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].ID

	require.NoError(t, repo.MarkFailed(nil, id, errors.New("sink down")))
	require.NoError(t, repo.MarkFailed(nil, id, errors.New("sink down")))
	rows, err = repo.FetchUnpublished(nil, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, rows, "rows past max attempts are skipped")

	rows, err = repo.FetchUnpublished(nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "sink down", *rows[0].LastError)

	require.NoError(t, repo.MarkPublished(nil, id))
	pending, err := repo.CountPending(nil)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestEnvelopeShape(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()
	accountID := uuid.New()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, RewardEvent{AccountID: accountID, TransactionID: uuid.New(), Message: "hi", Amount: decimal.RequireFromString("2.5")})
	}))
	rows, err := repo.FetchUnpublished(nil, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	raw, err := Envelope(rows[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 1, decoded["version"])
	assert.Equal(t, rows[0].ID.String(), decoded["eventId"])
	data := decoded["data"].(map[string]any)
	assert.Equal(t, accountID.String(), data["accountId"])
	assert.Equal(t, "2.5", data["amount"])
}
