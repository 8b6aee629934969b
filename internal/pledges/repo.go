package pledges

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rewardledger/internal/repo"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
)

// Repository persists the pledge platform mirror.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Users(ctx context.Context) ([]models.PatreonUser, error)
	Members(ctx context.Context) ([]models.PatreonMember, error)
	GrantedCents(ctx context.Context) (map[MemberKey]int64, error)
	SaveUsers(ctx context.Context, users []models.PatreonUser) error
	SaveMembers(ctx context.Context, members []models.PatreonMember) error
	AdvanceRewarded(ctx context.Context, key MemberKey, expected, next int64) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a pledge repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Users(ctx context.Context) ([]models.PatreonUser, error) {
	var users []models.PatreonUser
	err := r.DB(ctx).Order("patron_id ASC").Find(&users).Error
	return users, err
}

func (r *repository) Members(ctx context.Context) ([]models.PatreonMember, error) {
	var members []models.PatreonMember
	err := r.DB(ctx).Order("campaign_id ASC").Order("patron_id ASC").Find(&members).Error
	return members, err
}

type grantRow struct {
	VendorProfileID         string
	SubscriptionID          *string
	AccountCurrencyPriceUSD decimal.Decimal `gorm:"column:account_currency_price_usd"`
}

// GrantedCents sums fulfilled pledge transactions per membership. Pledge
// transactions carry the patron id as vendor profile and the campaign id as
// subscription id.
func (r *repository) GrantedCents(ctx context.Context) (map[MemberKey]int64, error) {
	var rows []grantRow
	err := r.DB(ctx).Model(&models.PaymentTransaction{}).
		Select("vendor_profile_id, subscription_id, account_currency_price_usd").
		Where("vendor = ? AND result = ?", enums.VendorPledge, enums.TransactionResultFulfilled).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	hundred := decimal.NewFromInt(100)
	out := make(map[MemberKey]int64, len(rows))
	for _, row := range rows {
		if row.SubscriptionID == nil {
			continue
		}
		key := MemberKey{CampaignID: *row.SubscriptionID, PatronID: row.VendorProfileID}
		out[key] += row.AccountCurrencyPriceUSD.Mul(hundred).Round(0).IntPart()
	}
	return out, nil
}

func (r *repository) SaveUsers(ctx context.Context, users []models.PatreonUser) error {
	if len(users) == 0 {
		return nil
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patron_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "full_name", "vanity", "url", "updated_at"}),
	}).Create(&users).Error
}

// SaveMembers upserts platform owned member fields. rewarded_cents is only
// set on insert; AdvanceRewarded owns it afterwards.
func (r *repository) SaveMembers(ctx context.Context, members []models.PatreonMember) error {
	if len(members) == 0 {
		return nil
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "patron_id"}, {Name: "campaign_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"lifetime_support_cents",
			"patron_status",
			"last_charge_status",
			"last_charge_date",
			"pledge_relationship_start",
			"currently_entitled_amount_cents",
			"is_follower",
			"updated_at",
		}),
	}).Create(&members).Error
}

func (r *repository) AdvanceRewarded(ctx context.Context, key MemberKey, expected, next int64) (bool, error) {
	if next < expected {
		return false, errors.New("rewarded cents cannot decrease")
	}
	res := r.DB(ctx).Model(&models.PatreonMember{}).
		Where("patron_id = ? AND campaign_id = ? AND rewarded_cents = ?", key.PatronID, key.CampaignID, expected).
		Update("rewarded_cents", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
