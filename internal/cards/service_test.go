package cards

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rewardledger/internal/accounts"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/db/dbtest"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

func newCardService(t *testing.T) (Service, accounts.Repository, *vendors.FakeGateway) {
	t.Helper()
	client := dbtest.Open(t)
	gateway := vendors.NewFakeGateway()
	registry, err := vendors.NewRegistry(gateway)
	require.NoError(t, err)
	accountRepo := accounts.NewRepository(client.DB())

	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		Accounts:          accountRepo,
		Gateways:          registry,
		TransactionRunner: client,
		Logger:            logger.New(logger.Options{Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc, accountRepo, gateway
}

func newAccount(t *testing.T, repo accounts.Repository) uuid.UUID {
	t.Helper()
	account := &models.Account{DisplayName: "card holder"}
	require.NoError(t, repo.Create(context.Background(), account))
	require.NoError(t, repo.AddEmail(context.Background(), account.ID, "holder@example.com"))
	return account.ID
}

func TestAddCardBecomesDefaultOnce(t *testing.T) {
	svc, accountRepo, _ := newCardService(t)
	ctx := context.Background()
	accountID := newAccount(t, accountRepo)

	first, err := svc.AddCard(ctx, accountID, enums.VendorFake, vendors.CardInput{SourceToken: "tok-1"})
	require.NoError(t, err)
	second, err := svc.AddCard(ctx, accountID, enums.VendorFake, vendors.CardInput{SourceToken: "tok-2"})
	require.NoError(t, err)

	def, err := svc.DefaultCardID(ctx, accountID, enums.VendorFake)
	require.NoError(t, err)
	assert.Equal(t, first.ID, def)

	require.NoError(t, svc.SetDefault(ctx, accountID, enums.VendorFake, second.ID))
	card, err := svc.Default(ctx, accountID, enums.VendorFake)
	require.NoError(t, err)
	assert.Equal(t, second.ID, card.ID)

	list, err := svc.List(ctx, accountID, enums.VendorFake)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	profile, err := svc.ProfileID(ctx, accountID, enums.VendorFake)
	require.NoError(t, err)
	assert.Equal(t, profile, first.ProfileID)
}

func TestAddCardRejectsInvalidInputAndVendors(t *testing.T) {
	svc, accountRepo, _ := newCardService(t)
	ctx := context.Background()
	accountID := newAccount(t, accountRepo)

	_, err := svc.AddCard(ctx, accountID, enums.VendorFake, vendors.CardInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.AddCard(ctx, accountID, enums.VendorPledge, vendors.CardInput{SourceToken: "tok"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.DefaultCardID(ctx, accountID, enums.VendorFake)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRemoveDefaultCardPromotesNext(t *testing.T) {
	svc, accountRepo, gateway := newCardService(t)
	ctx := context.Background()
	accountID := newAccount(t, accountRepo)

	first, err := svc.AddCard(ctx, accountID, enums.VendorFake, vendors.CardInput{SourceToken: "tok-1"})
	require.NoError(t, err)
	second, err := svc.AddCard(ctx, accountID, enums.VendorFake, vendors.CardInput{SourceToken: "tok-2"})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveCard(ctx, accountID, enums.VendorFake, first.ID))
	def, err := svc.DefaultCardID(ctx, accountID, enums.VendorFake)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def)

	disabled, err := gateway.GetCard(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	require.NoError(t, svc.RemoveCard(ctx, accountID, enums.VendorFake, second.ID))
	_, err = svc.DefaultCardID(ctx, accountID, enums.VendorFake)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCardsAreAccountScoped(t *testing.T) {
	svc, accountRepo, _ := newCardService(t)
	ctx := context.Background()
	owner := newAccount(t, accountRepo)
	other := newAccount(t, accountRepo)

	card, err := svc.AddCard(ctx, owner, enums.VendorFake, vendors.CardInput{SourceToken: "tok"})
	require.NoError(t, err)

	assert.True(t, pkgerrors.IsCode(svc.SetDefault(ctx, other, enums.VendorFake, card.ID), pkgerrors.CodeForbidden))
	assert.True(t, pkgerrors.IsCode(svc.RemoveCard(ctx, other, enums.VendorFake, card.ID), pkgerrors.CodeForbidden))
	_, err = svc.Get(ctx, other, enums.VendorFake, card.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	list, err := svc.List(ctx, other, enums.VendorFake)
	require.NoError(t, err)
	assert.Empty(t, list)
}
