package cards

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/internal/accounts"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gatewayRegistry interface {
	Get(v enums.Vendor) (vendors.Gateway, error)
}

// Service manages an account's stored cards. Card data stays at the vendor;
// only opaque ids are kept here.
type Service interface {
	ProfileID(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (string, error)
	AddCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, input vendors.CardInput) (*vendors.Card, error)
	RemoveCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) error
	SetDefault(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) error
	Default(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (*vendors.Card, error)
	DefaultCardID(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (string, error)
	List(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) ([]vendors.Card, error)
	Get(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (*vendors.Card, error)
}

// ServiceParams groups dependencies for the card service.
type ServiceParams struct {
	Repo              Repository
	Accounts          accounts.Repository
	Gateways          gatewayRegistry
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo     Repository
	accounts accounts.Repository
	gateways gatewayRegistry
	tx       txRunner
	logg     *logger.Logger
}

// NewService wires the card service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("card repository required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		accounts: params.Accounts,
		gateways: params.Gateways,
		tx:       params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

func (s *service) cardGateway(vendor enums.Vendor) (vendors.Gateway, error) {
	if !vendor.SupportsCards() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("vendor %s does not store cards", vendor))
	}
	return s.gateways.Get(vendor)
}

// ProfileID returns the vendor customer id for the account, creating the
// customer at the vendor on first use.
func (s *service) ProfileID(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (string, error) {
	gw, err := s.cardGateway(vendor)
	if err != nil {
		return "", err
	}
	existing, err := s.repo.FindProfile(ctx, accountID, vendor)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor profile")
	}
	if existing != nil {
		return existing.ProfileID, nil
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	emails, err := s.accounts.Emails(ctx, accountID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account emails")
	}
	customer := vendors.Customer{AccountID: accountID, DisplayName: account.DisplayName}
	if len(emails) > 0 {
		customer.Email = emails[0]
	}

	profileID, err := gw.GetCustomerProfileID(ctx, customer)
	if err != nil {
		return "", err
	}
	if err := s.repo.UpsertProfile(ctx, &models.VendorProfile{
		AccountID: accountID,
		Vendor:    vendor,
		ProfileID: profileID,
	}); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist vendor profile")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"vendor":     string(vendor),
	}), "vendor profile linked")
	return profileID, nil
}

// AddCard vaults a card. The first card of an account becomes its default.
func (s *service) AddCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, input vendors.CardInput) (*vendors.Card, error) {
	if err := vendors.ValidateCardInput(input); err != nil {
		return nil, err
	}
	gw, err := s.cardGateway(vendor)
	if err != nil {
		return nil, err
	}
	profileID, err := s.ProfileID(ctx, accountID, vendor)
	if err != nil {
		return nil, err
	}
	card, err := gw.CreateCard(ctx, profileID, input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(card.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vendor card missing id")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.AddCard(ctx, &models.VendorCard{AccountID: accountID, Vendor: vendor, CardID: card.ID}); err != nil {
			return err
		}
		profile, err := txRepo.FindProfile(ctx, accountID, vendor)
		if err != nil {
			return err
		}
		if profile != nil && profile.DefaultCardID == nil {
			return txRepo.SetDefaultCard(ctx, accountID, vendor, &card.ID)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist card reference")
	}
	return card, nil
}

// RemoveCard disables the card at the vendor and forgets it. When it was the
// default, the oldest remaining card takes over.
func (s *service) RemoveCard(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) error {
	gw, err := s.cardGateway(vendor)
	if err != nil {
		return err
	}
	if err := s.requireOwned(ctx, accountID, vendor, cardID); err != nil {
		return err
	}
	if err := gw.DeleteCard(ctx, cardID); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if _, err := txRepo.RemoveCard(ctx, accountID, vendor, cardID); err != nil {
			return err
		}
		profile, err := txRepo.FindProfile(ctx, accountID, vendor)
		if err != nil || profile == nil {
			return err
		}
		if profile.DefaultCardID == nil || *profile.DefaultCardID != cardID {
			return nil
		}
		remaining, err := txRepo.ListCards(ctx, accountID, vendor)
		if err != nil {
			return err
		}
		var next *string
		if len(remaining) > 0 {
			next = &remaining[0].CardID
		}
		return txRepo.SetDefaultCard(ctx, accountID, vendor, next)
	})
}

func (s *service) SetDefault(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) error {
	if _, err := s.cardGateway(vendor); err != nil {
		return err
	}
	if err := s.requireOwned(ctx, accountID, vendor, cardID); err != nil {
		return err
	}
	return s.repo.SetDefaultCard(ctx, accountID, vendor, &cardID)
}

func (s *service) Default(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (*vendors.Card, error) {
	cardID, err := s.DefaultCardID(ctx, accountID, vendor)
	if err != nil {
		return nil, err
	}
	gw, err := s.cardGateway(vendor)
	if err != nil {
		return nil, err
	}
	return gw.GetCard(ctx, cardID)
}

// DefaultCardID returns the card charged when a caller names none.
func (s *service) DefaultCardID(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (string, error) {
	profile, err := s.repo.FindProfile(ctx, accountID, vendor)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor profile")
	}
	if profile == nil || profile.DefaultCardID == nil || *profile.DefaultCardID == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "no default card")
	}
	return *profile.DefaultCardID, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) ([]vendors.Card, error) {
	gw, err := s.cardGateway(vendor)
	if err != nil {
		return nil, err
	}
	refs, err := s.repo.ListCards(ctx, accountID, vendor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list cards")
	}
	out := make([]vendors.Card, 0, len(refs))
	for _, ref := range refs {
		card, err := gw.GetCard(ctx, ref.CardID)
		if err != nil {
			return nil, err
		}
		out = append(out, *card)
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (*vendors.Card, error) {
	gw, err := s.cardGateway(vendor)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwned(ctx, accountID, vendor, cardID); err != nil {
		return nil, err
	}
	return gw.GetCard(ctx, cardID)
}

func (s *service) requireOwned(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) error {
	if strings.TrimSpace(cardID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "card id is required")
	}
	owned, err := s.repo.HasCard(ctx, accountID, vendor, cardID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load card")
	}
	if !owned {
		return pkgerrors.New(pkgerrors.CodeForbidden, "card belongs to another account")
	}
	return nil
}
