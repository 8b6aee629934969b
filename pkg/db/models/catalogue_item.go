package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogueItem is a purchasable item and its current pricing.
type CatalogueItem struct {
	Code                 string          `gorm:"column:code;primaryKey"`
	Name                 string          `gorm:"column:name;not null"`
	UnitPriceUSD         decimal.Decimal `gorm:"column:unit_price_usd;type:numeric(12,2);not null"`
	AccountCurrencyValue decimal.Decimal `gorm:"column:account_currency_value;type:numeric(14,2);not null"`
	SupporterFlag        bool            `gorm:"column:supporter_flag;not null;default:false"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogueItem) TableName() string { return "catalogue_items" }
