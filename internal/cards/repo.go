package cards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
)

// Repository keeps vendor profile links and opaque card references.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProfile(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (*models.VendorProfile, error)
	UpsertProfile(ctx context.Context, profile *models.VendorProfile) error
	SetDefaultCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID *string) error
	AddCard(ctx context.Context, card *models.VendorCard) error
	RemoveCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (bool, error)
	ListCards(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) ([]models.VendorCard, error)
	HasCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a card repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

// FindProfile returns nil when the account has no profile at vendor.
func (r *repository) FindProfile(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (*models.VendorProfile, error) {
	var profile models.VendorProfile
	err := r.DB(ctx).Where("account_id = ? AND vendor = ?", accountID, vendor).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) UpsertProfile(ctx context.Context, profile *models.VendorProfile) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "vendor"}},
		DoUpdates: clause.AssignmentColumns([]string{"profile_id", "updated_at"}),
	}).Create(profile).Error
}

func (r *repository) SetDefaultCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID *string) error {
	return r.DB(ctx).Model(&models.VendorProfile{}).
		Where("account_id = ? AND vendor = ?", accountID, vendor).
		Updates(map[string]any{
			"default_card_id": cardID,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *repository) AddCard(ctx context.Context, card *models.VendorCard) error {
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(card).Error
}

func (r *repository) RemoveCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (bool, error) {
	res := r.DB(ctx).
		Where("account_id = ? AND vendor = ? AND card_id = ?", accountID, vendor, cardID).
		Delete(&models.VendorCard{})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) ListCards(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) ([]models.VendorCard, error) {
	var cards []models.VendorCard
	err := r.DB(ctx).
		Where("account_id = ? AND vendor = ?", accountID, vendor).
		Order("created_at ASC").
		Order("card_id ASC").
		Find(&cards).Error
	return cards, err
}

func (r *repository) HasCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (bool, error) {
	var n int64
	err := r.DB(ctx).Model(&models.VendorCard{}).
		Where("account_id = ? AND vendor = ? AND card_id = ?", accountID, vendor, cardID).
		Count(&n).Error
	return n > 0, err
}
