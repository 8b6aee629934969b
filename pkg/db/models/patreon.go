package models

import "time"

// PatreonUser mirrors a patron profile from the pledge platform.
type PatreonUser struct {
	PatronID  string    `gorm:"column:patron_id;primaryKey"`
	Email     string    `gorm:"column:email"`
	FullName  string    `gorm:"column:full_name"`
	Vanity    string    `gorm:"column:vanity"`
	URL       string    `gorm:"column:url"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (PatreonUser) TableName() string { return "patreon_users" }

// PatreonMember tracks a patron's support of one campaign. LifetimeSupportCents
// is owned by the platform; RewardedCents is the part already turned into
// transactions.
type PatreonMember struct {
	PatronID                     string     `gorm:"column:patron_id;primaryKey"`
	CampaignID                   string     `gorm:"column:campaign_id;primaryKey"`
	LifetimeSupportCents         int64      `gorm:"column:lifetime_support_cents;not null;default:0"`
	RewardedCents                int64      `gorm:"column:rewarded_cents;not null;default:0"`
	PatronStatus                 string     `gorm:"column:patron_status"`
	LastChargeStatus             string     `gorm:"column:last_charge_status"`
	LastChargeDate               *time.Time `gorm:"column:last_charge_date"`
	PledgeRelationshipStart      *time.Time `gorm:"column:pledge_relationship_start"`
	CurrentlyEntitledAmountCents int64      `gorm:"column:currently_entitled_amount_cents;not null;default:0"`
	IsFollower                   bool       `gorm:"column:is_follower;not null;default:false"`
	UpdatedAt                    time.Time  `gorm:"column:updated_at"`
}

func (PatreonMember) TableName() string { return "patreon_members" }

// DueCents is the uncredited part of the lifetime total.
func (m *PatreonMember) DueCents() int64 {
	if m.LifetimeSupportCents <= m.RewardedCents {
		return 0
	}
	return m.LifetimeSupportCents - m.RewardedCents
}
