package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is the owner of balances, transactions and subscriptions.
type Account struct {
	ID                     uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DisplayName            string          `gorm:"column:display_name;not null"`
	AccountCurrencyBalance decimal.Decimal `gorm:"column:account_currency_balance;type:numeric(14,2);not null;default:0"`
	Supporter              bool            `gorm:"column:supporter;not null;default:false"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }

// AccountEmail is one registered address; patrons link through these.
type AccountEmail struct {
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey"`
	Email     string    `gorm:"column:email;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (AccountEmail) TableName() string { return "account_emails" }

// AccountItem is a granted catalogue item and its owned quantity.
type AccountItem struct {
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey"`
	Code      string    `gorm:"column:code;primaryKey"`
	Quantity  int       `gorm:"column:quantity;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AccountItem) TableName() string { return "account_items" }
