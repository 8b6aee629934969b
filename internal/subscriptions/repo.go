package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/pagination"
)

// Repository persists payment subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.PaymentSubscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentSubscription, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.PaymentSubscription, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus, closedAt *time.Time) error
	ClaimCharge(ctx context.Context, id uuid.UUID, token string, now, staleBefore time.Time) (bool, error)
	ReleaseCharge(ctx context.Context, id uuid.UUID, token string, chargedAt *time.Time) (bool, error)
	ListActive(ctx context.Context, afterID uuid.UUID, limit int) ([]models.PaymentSubscription, error)
	List(ctx context.Context, accountID *uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentSubscription], error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, sub *models.PaymentSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return r.DB(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentSubscription, error) {
	return findSubscription(r.DB(ctx), id)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.PaymentSubscription, error) {
	return findSubscription(r.Locked(ctx), id)
}

func findSubscription(q *gorm.DB, id uuid.UUID) (*models.PaymentSubscription, error) {
	var sub models.PaymentSubscription
	err := q.Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus, closedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if closedAt != nil {
		updates["closed_at"] = *closedAt
	}
	return r.DB(ctx).Model(&models.PaymentSubscription{}).Where("id = ?", id).Updates(updates).Error
}

// ClaimCharge takes the charge slot of an open active subscription. A claim
// older than staleBefore is treated as abandoned and can be taken over.
func (r *repository) ClaimCharge(ctx context.Context, id uuid.UUID, token string, now, staleBefore time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.PaymentSubscription{}).
		Where("id = ? AND status = ? AND closed_at IS NULL", id, enums.SubscriptionStatusActive).
		Where("(charge_claim IS NULL OR charge_claimed_at < ?)", staleBefore).
		Updates(map[string]any{
			"charge_claim":      token,
			"charge_claimed_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// ReleaseCharge gives the slot back, recording chargedAt as the last charge
// when set. It reports false when the claim was no longer held by token.
func (r *repository) ReleaseCharge(ctx context.Context, id uuid.UUID, token string, chargedAt *time.Time) (bool, error) {
	updates := map[string]any{
		"charge_claim":      gorm.Expr("NULL"),
		"charge_claimed_at": gorm.Expr("NULL"),
	}
	if chargedAt != nil {
		updates["last_charge_at"] = *chargedAt
	}
	res := r.DB(ctx).Model(&models.PaymentSubscription{}).
		Where("id = ? AND charge_claim = ?", id, token).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ListActive walks open active subscriptions in id order, starting after afterID.
func (r *repository) ListActive(ctx context.Context, afterID uuid.UUID, limit int) ([]models.PaymentSubscription, error) {
	q := r.DB(ctx).
		Where("status = ? AND closed_at IS NULL", enums.SubscriptionStatusActive)
	if afterID != uuid.Nil {
		q = q.Where("id > ?", afterID)
	}
	var subs []models.PaymentSubscription
	err := q.Order("id ASC").Limit(limit).Find(&subs).Error
	return subs, err
}

func (r *repository) List(ctx context.Context, accountID *uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentSubscription], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.PaymentSubscription]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q := r.DB(ctx).Model(&models.PaymentSubscription{})
	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.PaymentSubscription
	if err := q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return pagination.Page[models.PaymentSubscription]{}, err
	}
	return pagination.BuildPage(rows, params.Limit, func(s models.PaymentSubscription) pagination.Cursor {
		return pagination.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	}), nil
}
