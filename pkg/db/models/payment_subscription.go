package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rewardledger/pkg/enums"
)

const day = 24 * time.Hour

// PaymentSubscription is a recurring billing agreement against a stored card.
type PaymentSubscription struct {
	ID                    uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID             uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	Vendor                enums.Vendor             `gorm:"column:vendor;not null"`
	VendorProfileID       string                   `gorm:"column:vendor_profile_id;not null"`
	VendorSubscriptionID  string                   `gorm:"column:vendor_subscription_id;not null"`
	AmountUSD             decimal.Decimal          `gorm:"column:amount_usd;type:numeric(12,2);not null"`
	RecurringIntervalDays int                      `gorm:"column:recurring_interval_days;not null"`
	Status                enums.SubscriptionStatus `gorm:"column:status;not null;default:'approval_pending'"`
	CreatedAt             time.Time                `gorm:"column:created_at;autoCreateTime"`
	ClosedAt              *time.Time               `gorm:"column:closed_at"`
	LastChargeAt          *time.Time               `gorm:"column:last_charge_at"`
	ChargeClaim           *string                  `gorm:"column:charge_claim"`
	ChargeClaimedAt       *time.Time               `gorm:"column:charge_claimed_at"`
}

func (PaymentSubscription) TableName() string { return "payment_subscriptions" }

// ExpiresAt is the end of the paid period plus one day of grace, or the
// creation time when nothing was ever charged.
func (s *PaymentSubscription) ExpiresAt() time.Time {
	if s.LastChargeAt == nil {
		return s.CreatedAt
	}
	return s.LastChargeAt.Add(time.Duration(s.RecurringIntervalDays)*day + day)
}

// NextChargeAt is when the next recurring charge is due.
func (s *PaymentSubscription) NextChargeAt() time.Time {
	if s.LastChargeAt == nil {
		return s.CreatedAt
	}
	return s.LastChargeAt.Add(time.Duration(s.RecurringIntervalDays) * day)
}

// Active reports whether the subscriber is entitled at now.
func (s *PaymentSubscription) Active(now time.Time) bool {
	return !now.After(s.ExpiresAt())
}

// Renewing reports whether the subscription will be charged again.
func (s *PaymentSubscription) Renewing() bool {
	return s.Status == enums.SubscriptionStatusActive
}

// Open reports whether the subscription was never closed.
func (s *PaymentSubscription) Open() bool {
	return s.ClosedAt == nil
}
