package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/rewardledger/pkg/db/types"
	"github.com/angelmondragon/rewardledger/pkg/enums"
)

// PaymentTransaction is the immutable record of one purchase or reward grant.
type PaymentTransaction struct {
	ID                              uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID                       uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	Vendor                          enums.Vendor             `gorm:"column:vendor;not null"`
	VendorProfileID                 string                   `gorm:"column:vendor_profile_id;not null"`
	VendorTransactionID             *string                  `gorm:"column:vendor_transaction_id"`
	SubscriptionID                  *string                  `gorm:"column:subscription_id;index"`
	AccountCurrencyPriceUSD         decimal.Decimal          `gorm:"column:account_currency_price_usd;type:numeric(12,2);not null"`
	ItemPriceUSD                    decimal.Decimal          `gorm:"column:item_price_usd;type:numeric(12,2);not null"`
	AccountCurrencyQuoted           decimal.Decimal          `gorm:"column:account_currency_quoted;type:numeric(14,2);not null"`
	AccountCurrencyRewarded         decimal.Decimal          `gorm:"column:account_currency_rewarded;type:numeric(14,2);not null"`
	AccountCurrencyRewardedForItems decimal.Decimal          `gorm:"column:account_currency_rewarded_for_items;type:numeric(14,2);not null"`
	Items                           dbtypes.TransactionItems `gorm:"column:items;type:jsonb;not null"`
	Result                          enums.TransactionResult  `gorm:"column:result;not null;default:'unknown'"`
	ChargeAttempts                  int                      `gorm:"column:charge_attempts;not null;default:0"`
	CreatedAt                       time.Time                `gorm:"column:created_at;autoCreateTime"`
	PaidAt                          *time.Time               `gorm:"column:paid_at"`
	CompletedAt                     *time.Time               `gorm:"column:completed_at"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

// Open reports whether the transaction can still change.
func (t *PaymentTransaction) Open() bool {
	return t.CompletedAt == nil
}

// Paid reports whether a charge (or an explicit grant) has been recorded.
func (t *PaymentTransaction) Paid() bool {
	return t.PaidAt != nil
}

// TotalPriceUSD is what the buyer pays across currency and items.
func (t *PaymentTransaction) TotalPriceUSD() decimal.Decimal {
	return t.AccountCurrencyPriceUSD.Add(t.ItemPriceUSD)
}

// ChargeKey is the vendor idempotency key for the next charge attempt. Each
// refusal moves to a fresh key so a retry is not answered with the stored
// decline.
func (t *PaymentTransaction) ChargeKey() string {
	if t.ChargeAttempts == 0 {
		return t.ID.String()
	}
	return fmt.Sprintf("%s:%d", t.ID, t.ChargeAttempts)
}
