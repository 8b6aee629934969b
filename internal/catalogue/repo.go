package catalogue

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
)

// Repository reads and maintains purchasable items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.CatalogueItem, error)
	FindByCodes(ctx context.Context, codes []string) (map[string]models.CatalogueItem, error)
	Upsert(ctx context.Context, item *models.CatalogueItem) error
	List(ctx context.Context) ([]models.CatalogueItem, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a catalogue repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.CatalogueItem, error) {
	var item models.CatalogueItem
	err := r.DB(ctx).Where("code = ?", code).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindByCodes(ctx context.Context, codes []string) (map[string]models.CatalogueItem, error) {
	out := make(map[string]models.CatalogueItem, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	var items []models.CatalogueItem
	if err := r.DB(ctx).Where("code IN ?", codes).Find(&items).Error; err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.Code] = item
	}
	return out, nil
}

func (r *repository) Upsert(ctx context.Context, item *models.CatalogueItem) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "unit_price_usd", "account_currency_value", "supporter_flag", "updated_at"}),
	}).Create(item).Error
}

func (r *repository) List(ctx context.Context) ([]models.CatalogueItem, error) {
	var items []models.CatalogueItem
	if err := r.DB(ctx).Order("code ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
