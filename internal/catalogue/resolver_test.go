package catalogue

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/pkg/db/dbtest"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
)

func seedCatalogue(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, &models.CatalogueItem{
		Code:                 "hat",
		Name:                 "Top Hat",
		UnitPriceUSD:         decimal.RequireFromString("2.50"),
		AccountCurrencyValue: decimal.RequireFromString("250"),
	}))
	require.NoError(t, repo.Upsert(ctx, &models.CatalogueItem{
		Code:                 "badge",
		Name:                 "Supporter Badge",
		UnitPriceUSD:         decimal.RequireFromString("5"),
		AccountCurrencyValue: decimal.RequireFromString("0"),
		SupporterFlag:        true,
	}))
}

func TestSnapshotPricesLinesInOrder(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	seedCatalogue(t, repo)
	resolver, err := NewResolver(repo)
	require.NoError(t, err)

	items, err := resolver.Snapshot(context.Background(), []Line{{Code: "badge", Quantity: 1}, {Code: "hat", Quantity: 3}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "badge", items[0].Code)
	assert.Equal(t, "Top Hat", items[1].Name)
	assert.True(t, items.PriceUSD().Equal(decimal.RequireFromString("12.50")))
	assert.True(t, items.AccountCurrencyValue().Equal(decimal.NewFromInt(750)))
}

func TestSnapshotUnknownCodeFailsWholeCall(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	seedCatalogue(t, repo)
	resolver, _ := NewResolver(repo)

	items, err := resolver.Snapshot(context.Background(), []Line{{Code: "hat", Quantity: 1}, {Code: "cape", Quantity: 1}})
	require.Error(t, err)
	assert.Nil(t, items)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownItem))
}

func TestResolveAndSupporterCodes(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	seedCatalogue(t, repo)
	resolver, _ := NewResolver(repo)
	ctx := context.Background()

	item, err := resolver.Resolve(ctx, " hat ")
	require.NoError(t, err)
	assert.Equal(t, "Top Hat", item.Name)

	_, err = resolver.Resolve(ctx, "nope")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownItem))

	flags, err := resolver.SupporterCodes(ctx, []string{"hat", "badge"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"badge": true}, flags)
}

func TestUpsertUpdatesPricing(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	seedCatalogue(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.CatalogueItem{
		Code:                 "hat",
		Name:                 "Top Hat",
		UnitPriceUSD:         decimal.RequireFromString("3"),
		AccountCurrencyValue: decimal.RequireFromString("300"),
	}))
	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "badge", all[0].Code)
	assert.True(t, all[1].UnitPriceUSD.Equal(decimal.NewFromInt(3)))
}

func TestResolverWithTxSeesUncommittedItems(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	resolver, err := NewResolver(repo)
	require.NoError(t, err)
	ctx := context.Background()

	rollback := errors.New("rollback")
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, repo.WithTx(tx).Upsert(ctx, &models.CatalogueItem{
			Code:                 "cape",
			Name:                 "Cape",
			UnitPriceUSD:         decimal.NewFromInt(3),
			AccountCurrencyValue: decimal.NewFromInt(300),
		}))
		item, err := resolver.WithTx(tx).Resolve(ctx, "cape")
		require.NoError(t, err)
		assert.Equal(t, "Cape", item.Name)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	_, err = resolver.Resolve(ctx, "cape")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownItem))
}
