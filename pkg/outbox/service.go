package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit queues a reward notification inside tx. A second emit for the same
// transaction is dropped.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event RewardEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := &models.RewardNotification{
		ID:            uuid.New(),
		AccountID:     event.AccountID,
		TransactionID: event.TransactionID,
		Message:       event.Message,
		Amount:        event.Amount,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"notification_id": row.ID.String(),
			"transaction_id":  event.TransactionID.String(),
			"account_id":      event.AccountID.String(),
		})
		s.logg.Info(logCtx, "reward notification queued")
	}
	return nil
}

// Envelope renders the published payload for a stored row.
func Envelope(row models.RewardNotification) ([]byte, error) {
	return json.Marshal(PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    row.ID.String(),
		OccurredAt: row.CreatedAt,
		Data: RewardEvent{
			AccountID:     row.AccountID,
			TransactionID: row.TransactionID,
			Message:       row.Message,
			Amount:        row.Amount,
		},
	})
}
