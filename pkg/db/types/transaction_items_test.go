package dbtypes

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransactionItemsScanNilAndEmpty(t *testing.T) {
	var items TransactionItems
	if err := items.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil items, got %#v", items)
	}

	if err := items.Scan([]byte("")); err != nil {
		t.Fatalf("scan empty bytes: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}

	if err := items.Scan("null"); err != nil {
		t.Fatalf("scan null: %v", err)
	}
	if items == nil {
		t.Fatal("null should scan to empty items")
	}
}

func TestTransactionItemsValueEmptyIsArray(t *testing.T) {
	v, err := TransactionItems(nil).Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "[]" {
		t.Fatalf("expected [], got %v", v)
	}
}

func TestTransactionItemsScanRejectsUnknownType(t *testing.T) {
	var items TransactionItems
	if err := items.Scan(42); err == nil {
		t.Fatal("expected error scanning an int")
	}
}

func TestTransactionItemsTotals(t *testing.T) {
	items := TransactionItems{
		{Code: "hat", Quantity: 2, UnitPriceUSD: decimal.RequireFromString("1.50"), AccountCurrencyValue: decimal.NewFromInt(150)},
		{Code: "cape", Quantity: 1, UnitPriceUSD: decimal.RequireFromString("4.00"), AccountCurrencyValue: decimal.NewFromInt(400)},
	}
	if got := items.PriceUSD(); !got.Equal(decimal.RequireFromString("7.00")) {
		t.Fatalf("price = %s, want 7.00", got)
	}
	if got := items.AccountCurrencyValue(); !got.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("currency value = %s, want 700", got)
	}

	raw, err := items.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var decoded TransactionItems
	if err := decoded.Scan(raw); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 items, got %d", len(decoded))
	}
	if decoded[1].Code != "cape" {
		t.Fatalf("order not kept, second item %q", decoded[1].Code)
	}
	if !decoded[0].UnitPriceUSD.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unit price = %s, want 1.5", decoded[0].UnitPriceUSD)
	}
}
