package enums

import "fmt"

// SubscriptionStatus tracks where a recurring payment agreement stands.
type SubscriptionStatus string

const (
	SubscriptionStatusApprovalPending SubscriptionStatus = "approval_pending"
	SubscriptionStatusUserDeclined    SubscriptionStatus = "user_declined"
	SubscriptionStatusActive          SubscriptionStatus = "active"
	SubscriptionStatusSuspended       SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled       SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired         SubscriptionStatus = "expired"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusApprovalPending,
	SubscriptionStatusUserDeclined,
	SubscriptionStatusActive,
	SubscriptionStatusSuspended,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
