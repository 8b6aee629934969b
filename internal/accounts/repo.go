package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	dbtypes "github.com/angelmondragon/rewardledger/pkg/db/types"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

// CreditInput is what a fulfilled transaction hands to the account.
type CreditInput struct {
	Currency  decimal.Decimal
	Items     dbtypes.TransactionItems
	Supporter bool
}

// Repository manages accounts, their registered emails and owned items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	AddEmail(ctx context.Context, accountID uuid.UUID, email string) error
	Emails(ctx context.Context, accountID uuid.UUID) ([]string, error)
	AccountIDsByEmails(ctx context.Context, emails []string) (map[string]uuid.UUID, error)
	Items(ctx context.Context, accountID uuid.UUID) ([]models.AccountItem, error)
	Credit(ctx context.Context, accountID uuid.UUID, input CreditInput) error
}

type repository struct {
	repo.Base
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.DB(ctx).Create(account).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.find(r.DB(ctx), id)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.find(r.Locked(ctx), id)
}

func (r *repository) find(q *gorm.DB, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := q.Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) AddEmail(ctx context.Context, accountID uuid.UUID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.AccountEmail{
		AccountID: accountID,
		Email:     email,
	}).Error
}

// Emails lists an account's addresses, oldest first.
func (r *repository) Emails(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	var emails []string
	err := r.DB(ctx).Model(&models.AccountEmail{}).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Order("email ASC").
		Pluck("email", &emails).Error
	return emails, err
}

// AccountIDsByEmails maps lowercased emails to their owning account. Matching
// is exact apart from case.
func (r *repository) AccountIDsByEmails(ctx context.Context, emails []string) (map[string]uuid.UUID, error) {
	out := map[string]uuid.UUID{}
	lowered := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			lowered = append(lowered, email)
		}
	}
	if len(lowered) == 0 {
		return out, nil
	}

	var rows []models.AccountEmail
	if err := r.DB(ctx).Where("lower(email) IN ?", lowered).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		key := strings.ToLower(row.Email)
		if _, seen := out[key]; !seen {
			out[key] = row.AccountID
		}
	}
	return out, nil
}

func (r *repository) Items(ctx context.Context, accountID uuid.UUID) ([]models.AccountItem, error) {
	var items []models.AccountItem
	if err := r.DB(ctx).Where("account_id = ?", accountID).Order("code ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Credit adds currency and items to an account. Callers run it inside the
// fulfilling transaction.
func (r *repository) Credit(ctx context.Context, accountID uuid.UUID, input CreditInput) error {
	account, err := r.LockByID(ctx, accountID)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"account_currency_balance": account.AccountCurrencyBalance.Add(input.Currency),
		"updated_at":               time.Now().UTC(),
	}
	if input.Supporter {
		updates["supporter"] = true
	}
	if err := r.DB(ctx).Model(&models.Account{}).Where("id = ?", accountID).Updates(updates).Error; err != nil {
		return err
	}

	for _, item := range input.Items {
		if item.Quantity <= 0 {
			continue
		}
		row := &models.AccountItem{AccountID: accountID, Code: item.Code, Quantity: item.Quantity}
		if err := r.DB(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "code"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity":   gorm.Expr("account_items.quantity + excluded.quantity"),
				"updated_at": time.Now().UTC(),
			}),
		}).Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}
