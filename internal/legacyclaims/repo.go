package legacyclaims

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
)

// Repository reads the claims table kept from before pledge sync existed.
type Repository interface {
	List(ctx context.Context) ([]models.LegacyPatreonClaim, error)
	Upsert(ctx context.Context, claim *models.LegacyPatreonClaim) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a legacy claim repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) List(ctx context.Context) ([]models.LegacyPatreonClaim, error) {
	var claims []models.LegacyPatreonClaim
	err := r.DB(ctx).Order("campaign_id ASC").Order("patron_id ASC").Find(&claims).Error
	return claims, err
}

func (r *repository) Upsert(ctx context.Context, claim *models.LegacyPatreonClaim) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "patron_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"claimed_cents"}),
	}).Create(claim).Error
}
