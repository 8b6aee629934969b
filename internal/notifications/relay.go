package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/metrics"
)

const (
	defaultBatchSize   = 100
	defaultMaxAttempts = 10
	maxBatchesPerRun   = 50
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublished(tx *gorm.DB, limit, maxAttempts int) ([]models.RewardNotification, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	MarkFailed(tx *gorm.DB, id uuid.UUID, err error) error
}

// RelayParams groups dependencies for the notification relay.
type RelayParams struct {
	DB          txRunner
	Repository  outboxRepository
	Sink        Sink
	BatchSize   int
	MaxAttempts int
	Metrics     *metrics.LedgerMetrics
	Logger      *logger.Logger
}

// RelayReport counts what one run delivered.
type RelayReport struct {
	Published int
	Failed    int
}

// Relay drains reward notifications from the outbox table to a sink.
type Relay struct {
	db          txRunner
	repo        outboxRepository
	sink        Sink
	batchSize   int
	maxAttempts int
	metrics     *metrics.LedgerMetrics
	logg        *logger.Logger
}

func NewRelay(params RelayParams) (*Relay, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Sink == nil {
		return nil, errors.New("notification sink is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Relay{
		db:          params.DB,
		repo:        params.Repository,
		sink:        params.Sink,
		batchSize:   batch,
		maxAttempts: attempts,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// Run relays batches until the outbox is drained or a batch made no progress.
func (r *Relay) Run(ctx context.Context) (RelayReport, error) {
	var total RelayReport
	for i := 0; i < maxBatchesPerRun; i++ {
		fetched, report, err := r.processBatch(ctx)
		total.Published += report.Published
		total.Failed += report.Failed
		if err != nil {
			return total, err
		}
		if fetched < r.batchSize || report.Published == 0 {
			break
		}
	}
	if total.Published > 0 || total.Failed > 0 {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"sink":      r.sink.Name(),
			"published": total.Published,
			"failed":    total.Failed,
		}), "reward notifications relayed")
	}
	return total, nil
}

func (r *Relay) processBatch(ctx context.Context) (int, RelayReport, error) {
	var (
		report  RelayReport
		fetched int
	)
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.repo.FetchUnpublished(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		fetched = len(rows)
		for _, row := range rows {
			fields := map[string]any{
				"notification_id": row.ID.String(),
				"transaction_id":  row.TransactionID.String(),
				"sink":            r.sink.Name(),
				"attempt_count":   row.AttemptCount,
			}
			if err := r.sink.Send(ctx, row); err != nil {
				fields["attempt_count"] = row.AttemptCount + 1
				logCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", err.Error())
				r.logg.Warn(logCtx, "reward notification delivery failed")
				if markErr := r.repo.MarkFailed(tx, row.ID, err); markErr != nil {
					return fmt.Errorf("mark failure %s: %w", row.ID, markErr)
				}
				report.Failed++
				r.metrics.NotificationRelayed(r.sink.Name(), "failed")
				continue
			}
			if markErr := r.repo.MarkPublished(tx, row.ID); markErr != nil {
				return fmt.Errorf("mark published %s: %w", row.ID, markErr)
			}
			report.Published++
			r.metrics.NotificationRelayed(r.sink.Name(), "published")
		}
		return nil
	})
	if err != nil {
		return fetched, RelayReport{}, err
	}
	return fetched, report, nil
}
