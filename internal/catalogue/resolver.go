package catalogue

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	dbtypes "github.com/angelmondragon/rewardledger/pkg/db/types"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

// Line is a requested item and quantity.
type Line struct {
	Code     string `json:"code" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// Resolver turns item codes into priced snapshots.
type Resolver struct {
	repo Repository
}

// NewResolver wraps a catalogue repository.
func NewResolver(repo Repository) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalogue repository required")
	}
	return &Resolver{repo: repo}, nil
}

// WithTx rebinds the resolver to tx.
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	return &Resolver{repo: r.repo.WithTx(tx)}
}

// Resolve returns the current catalogue entry for code or an UNKNOWN_ITEM error.
func (r *Resolver) Resolve(ctx context.Context, code string) (*models.CatalogueItem, error) {
	code = strings.TrimSpace(code)
	item, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load catalogue item")
	}
	if item == nil {
		return nil, unknownItem(code)
	}
	return item, nil
}

// Snapshot prices lines against the catalogue, keeping the requested order.
// Any unknown code fails the whole call.
func (r *Resolver) Snapshot(ctx context.Context, lines []Line) (dbtypes.TransactionItems, error) {
	if len(lines) == 0 {
		return dbtypes.TransactionItems{}, nil
	}
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		codes = append(codes, strings.TrimSpace(line.Code))
	}
	found, err := r.repo.FindByCodes(ctx, codes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load catalogue items")
	}

	items := make(dbtypes.TransactionItems, 0, len(lines))
	for i, line := range lines {
		item, ok := found[codes[i]]
		if !ok {
			return nil, unknownItem(codes[i])
		}
		items = append(items, dbtypes.TransactionItem{
			Code:                 item.Code,
			Name:                 item.Name,
			Quantity:             line.Quantity,
			UnitPriceUSD:         item.UnitPriceUSD,
			AccountCurrencyValue: item.AccountCurrencyValue,
		})
	}
	return items, nil
}

// SupporterCodes reports which of codes grant supporter status.
func (r *Resolver) SupporterCodes(ctx context.Context, codes []string) (map[string]bool, error) {
	found, err := r.repo.FindByCodes(ctx, codes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load catalogue items")
	}
	out := make(map[string]bool, len(found))
	for code, item := range found {
		if item.SupporterFlag {
			out[code] = true
		}
	}
	return out, nil
}

func unknownItem(code string) error {
	return pkgerrors.New(pkgerrors.CodeUnknownItem, fmt.Sprintf("unknown item %q", code)).
		WithDetails(map[string]any{"code": code})
}
