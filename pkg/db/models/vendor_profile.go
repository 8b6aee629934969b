package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rewardledger/pkg/enums"
)

// VendorProfile links an account to its customer record at a vendor.
type VendorProfile struct {
	AccountID     uuid.UUID    `gorm:"column:account_id;type:uuid;primaryKey"`
	Vendor        enums.Vendor `gorm:"column:vendor;primaryKey"`
	ProfileID     string       `gorm:"column:profile_id;not null"`
	DefaultCardID *string      `gorm:"column:default_card_id"`
	CreatedAt     time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (VendorProfile) TableName() string { return "vendor_profiles" }

// VendorCard is an opaque reference to a vaulted card. No card data is kept.
type VendorCard struct {
	AccountID uuid.UUID    `gorm:"column:account_id;type:uuid;primaryKey"`
	Vendor    enums.Vendor `gorm:"column:vendor;primaryKey"`
	CardID    string       `gorm:"column:card_id;primaryKey"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
}

func (VendorCard) TableName() string { return "vendor_cards" }
