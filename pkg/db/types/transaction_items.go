package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionItem is the catalogue snapshot stored with a transaction.
type TransactionItem struct {
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	Quantity             int             `json:"quantity"`
	UnitPriceUSD         decimal.Decimal `json:"unitPriceUsd"`
	AccountCurrencyValue decimal.Decimal `json:"accountCurrencyValue"`
}

// TransactionItems persists as a JSON array.
type TransactionItems []TransactionItem

func (items *TransactionItems) Scan(src any) error {
	if src == nil {
		*items = TransactionItems{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("TransactionItems: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*items = TransactionItems{}
		return nil
	}

	var out []TransactionItem
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("TransactionItems: decode: %w", err)
	}
	if out == nil {
		out = []TransactionItem{}
	}
	*items = TransactionItems(out)
	return nil
}

func (items TransactionItems) Value() (driver.Value, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]TransactionItem(items))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// PriceUSD sums quantity * unit price across the snapshot.
func (items TransactionItems) PriceUSD() decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPriceUSD.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// AccountCurrencyValue sums quantity * currency value across the snapshot.
func (items TransactionItems) AccountCurrencyValue() decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.AccountCurrencyValue.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
