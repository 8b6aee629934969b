package models

// LegacyPatreonClaim is a row of the claims table that predates pledge sync.
type LegacyPatreonClaim struct {
	CampaignID   string `gorm:"column:campaign_id;primaryKey"`
	PatronID     string `gorm:"column:patron_id;primaryKey"`
	ClaimedCents int64  `gorm:"column:claimed_cents;not null"`
}

func (LegacyPatreonClaim) TableName() string { return "legacy_patreon_claims" }
