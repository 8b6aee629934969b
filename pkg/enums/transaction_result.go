package enums

import "fmt"

// TransactionResult records how a payment transaction ended (or where it stands).
type TransactionResult string

const (
	TransactionResultUnknown   TransactionResult = "unknown"
	TransactionResultPaid      TransactionResult = "paid"
	TransactionResultFulfilled TransactionResult = "fulfilled"
	TransactionResultDeclined  TransactionResult = "declined"
	TransactionResultRefused   TransactionResult = "refused"
)

var validTransactionResults = []TransactionResult{
	TransactionResultUnknown,
	TransactionResultPaid,
	TransactionResultFulfilled,
	TransactionResultDeclined,
	TransactionResultRefused,
}

// String implements fmt.Stringer.
func (r TransactionResult) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r TransactionResult) IsValid() bool {
	for _, candidate := range validTransactionResults {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsCloseReason reports whether the result may be used to close a transaction without reward.
func (r TransactionResult) IsCloseReason() bool {
	return r == TransactionResultDeclined || r == TransactionResultRefused
}

// ParseTransactionResult converts raw input into a TransactionResult.
func ParseTransactionResult(value string) (TransactionResult, error) {
	for _, candidate := range validTransactionResults {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction result %q", value)
}
