package transactions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/pagination"
)

// Completion is the terminal write applied by Complete.
type Completion struct {
	Result      enums.TransactionResult
	CompletedAt time.Time
	Rewarded    *decimal.Decimal
}

// Repository persists payment transactions. State-changing writes are
// conditional so a concurrent writer that lost the race affects no rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, vendorTransactionID *string) (bool, error)
	MarkRefused(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, completion Completion) (bool, error)
	UpdateVendorTransactionID(ctx context.Context, id uuid.UUID, vendorTransactionID string) error
	UpdateVendorProfileID(ctx context.Context, id uuid.UUID, profileID string) error
	List(ctx context.Context, accountID *uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentTransaction], error)
	LatestForSubscription(ctx context.Context, subscriptionID string) (*models.PaymentTransaction, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	return r.DB(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return findOne(r.DB(ctx), id)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return findOne(r.Locked(ctx), id)
}

func findOne(q *gorm.DB, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := q.Where("id = ?", id).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, vendorTransactionID *string) (bool, error) {
	updates := map[string]any{
		"paid_at": paidAt,
		"result":  enums.TransactionResultPaid,
	}
	if vendorTransactionID != nil && strings.TrimSpace(*vendorTransactionID) != "" {
		updates["vendor_transaction_id"] = *vendorTransactionID
	}
	res := r.DB(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND completed_at IS NULL AND paid_at IS NULL", id).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// MarkRefused records a declined charge without closing the transaction and
// moves it to the next charge attempt.
func (r *repository) MarkRefused(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND completed_at IS NULL AND paid_at IS NULL", id).
		Updates(map[string]any{
			"result":          enums.TransactionResultRefused,
			"charge_attempts": gorm.Expr("charge_attempts + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Complete(ctx context.Context, id uuid.UUID, completion Completion) (bool, error) {
	updates := map[string]any{
		"completed_at": completion.CompletedAt,
		"result":       completion.Result,
	}
	if completion.Rewarded != nil {
		updates["account_currency_rewarded"] = *completion.Rewarded
	}
	res := r.DB(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) UpdateVendorTransactionID(ctx context.Context, id uuid.UUID, vendorTransactionID string) error {
	return r.updateColumn(ctx, id, "vendor_transaction_id", vendorTransactionID)
}

func (r *repository) UpdateVendorProfileID(ctx context.Context, id uuid.UUID, profileID string) error {
	return r.updateColumn(ctx, id, "vendor_profile_id", profileID)
}

func (r *repository) updateColumn(ctx context.Context, id uuid.UUID, column string, value any) error {
	res := r.DB(ctx).Model(&models.PaymentTransaction{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return nil
}

// List pages newest first. A nil accountID lists every account.
func (r *repository) List(ctx context.Context, accountID *uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentTransaction], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.PaymentTransaction]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	q := r.DB(ctx).Model(&models.PaymentTransaction{})
	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.PaymentTransaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return pagination.Page[models.PaymentTransaction]{}, err
	}
	return pagination.BuildPage(rows, params.Limit, func(t models.PaymentTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	}), nil
}

// LatestForSubscription returns nil when the subscription has no transactions.
func (r *repository) LatestForSubscription(ctx context.Context, subscriptionID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.DB(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Order("id DESC").
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
