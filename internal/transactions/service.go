package transactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/internal/accounts"
	"github.com/angelmondragon/rewardledger/internal/catalogue"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/metrics"
	"github.com/angelmondragon/rewardledger/pkg/outbox"
	"github.com/angelmondragon/rewardledger/pkg/pagination"
	"github.com/angelmondragon/rewardledger/pkg/validation"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gatewayRegistry interface {
	Get(v enums.Vendor) (vendors.Gateway, error)
}

// DefaultCards resolves the card to charge when the caller names none.
type DefaultCards interface {
	DefaultCardID(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (string, error)
}

type notificationEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.RewardEvent) error
}

// Service is the only writer of payment transactions and the only place
// account balances are credited.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.PaymentTransaction, error)
	SetPaid(ctx context.Context, id uuid.UUID, opts PaidOptions) (*models.PaymentTransaction, error)
	FulfillAndClose(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	Close(ctx context.Context, id uuid.UUID, reason enums.TransactionResult) (*models.PaymentTransaction, error)
	Accept(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentTransaction, error)
	Decline(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentTransaction, error)
	Grant(ctx context.Context, input CreateInput, opts GrantOptions) (*models.PaymentTransaction, error)
	UpdateVendorTransactionID(ctx context.Context, id uuid.UUID, vendorTransactionID string) error
	UpdateVendorProfileID(ctx context.Context, id uuid.UUID, profileID string) error
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	GetForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentTransaction, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentTransaction], error)
	ListAll(ctx context.Context, params pagination.Params) (pagination.Page[models.PaymentTransaction], error)
	LatestForSubscription(ctx context.Context, subscriptionID string) (*models.PaymentTransaction, error)
}

// ServiceParams groups dependencies for the transaction ledger.
type ServiceParams struct {
	Repo              Repository
	Accounts          accounts.Repository
	Catalogue         catalogue.Repository
	Gateways          gatewayRegistry
	DefaultCards      DefaultCards
	Notifications     notificationEmitter
	TransactionRunner txRunner
	Metrics           *metrics.LedgerMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

// CreateInput describes a purchase or reward before it is priced.
type CreateInput struct {
	AccountID             uuid.UUID
	Vendor                enums.Vendor
	VendorProfileID       string           `json:"vendor_profile_id" validate:"required"`
	AccountCurrencyUSD    decimal.Decimal  `json:"account_currency_usd"`
	AccountCurrencyQuoted decimal.Decimal  `json:"account_currency_quoted"`
	Items                 []catalogue.Line `json:"items" validate:"dive"`
	SubscriptionID        *string          `json:"subscription_id"`
}

// PaidOptions tunes SetPaid.
type PaidOptions struct {
	// SkipVendorCharge marks the transaction paid without billing anyone.
	SkipVendorCharge bool
	// CardID overrides the account's default card.
	CardID string
}

// GrantOptions tunes Grant.
type GrantOptions struct {
	// AfterFulfill runs inside the granting DB transaction once the
	// transaction is fulfilled. An error rolls the whole grant back.
	AfterFulfill func(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction) error
}

type service struct {
	repo      Repository
	accounts  accounts.Repository
	catalogue *catalogue.Resolver
	gateways  gatewayRegistry
	cards     DefaultCards
	notify    notificationEmitter
	tx        txRunner
	metrics   *metrics.LedgerMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the transaction ledger.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	resolver, err := catalogue.NewResolver(params.Catalogue)
	if err != nil {
		return nil, err
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notification emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		accounts:  params.Accounts,
		catalogue: resolver,
		gateways:  params.Gateways,
		cards:     params.DefaultCards,
		notify:    params.Notifications,
		tx:        params.TransactionRunner,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.PaymentTransaction, error) {
	var created *models.PaymentTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.createTx(ctx, tx, input)
		created = txn
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transaction_id": created.ID.String(),
		"account_id":     created.AccountID.String(),
		"vendor":         string(created.Vendor),
	}), "transaction created")
	return created, nil
}

func (s *service) createTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.PaymentTransaction, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	if _, err := s.accounts.WithTx(tx).FindByID(ctx, input.AccountID); err != nil {
		return nil, err
	}
	items, err := s.catalogue.WithTx(tx).Snapshot(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	txn := &models.PaymentTransaction{
		ID:                              uuid.New(),
		AccountID:                       input.AccountID,
		Vendor:                          input.Vendor,
		VendorProfileID:                 strings.TrimSpace(input.VendorProfileID),
		SubscriptionID:                  input.SubscriptionID,
		AccountCurrencyPriceUSD:         input.AccountCurrencyUSD.Round(2),
		ItemPriceUSD:                    items.PriceUSD().Round(2),
		AccountCurrencyQuoted:           input.AccountCurrencyQuoted.Round(2),
		AccountCurrencyRewarded:         decimal.Zero,
		AccountCurrencyRewardedForItems: items.AccountCurrencyValue().Round(2),
		Items:                           items,
		Result:                          enums.TransactionResultUnknown,
		CreatedAt:                       s.now(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist transaction")
	}
	return txn, nil
}

func validateCreate(input CreateInput) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !input.Vendor.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid vendor %q", input.Vendor))
	}
	if input.AccountCurrencyUSD.IsNegative() || input.AccountCurrencyQuoted.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amounts must not be negative")
	}
	return validation.Struct(input)
}

// SetPaid charges the transaction (unless skipped) and fulfills it. The
// vendor call happens outside any DB transaction; only a declined charge is
// recorded, other charge errors leave the row untouched.
func (s *service) SetPaid(ctx context.Context, id uuid.UUID, opts PaidOptions) (*models.PaymentTransaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !txn.Open() {
		return txn, nil
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID.String(),
		"account_id":     txn.AccountID.String(),
		"vendor":         string(txn.Vendor),
	})

	var vendorTxnID *string
	if !txn.Paid() && !opts.SkipVendorCharge && txn.TotalPriceUSD().IsPositive() {
		res, err := s.charge(logCtx, txn, opts.CardID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeVendorChargeFailed) {
				if _, markErr := s.repo.MarkRefused(ctx, id); markErr != nil {
					s.logg.Error(logCtx, "failed to record refused charge", markErr)
				}
				s.metrics.ChargeRefused(string(txn.Vendor))
				s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "vendor charge refused")
			}
			return nil, err
		}
		vendorTxnID = &res.VendorTransactionID
	}

	var (
		out       *models.PaymentTransaction
		fulfilled bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.WithTx(tx).LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !locked.Open() {
			out = locked
			return nil
		}
		if !locked.Paid() {
			if _, err := s.repo.WithTx(tx).MarkPaid(ctx, id, s.now(), vendorTxnID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark transaction paid")
			}
		}
		out, fulfilled, err = s.fulfillTx(ctx, tx, id)
		return err
	})
	if err != nil {
		if vendorTxnID != nil {
			s.logg.Error(s.logg.WithField(logCtx, "vendor_transaction_id", *vendorTxnID), "charge succeeded but transaction was not updated", err)
		}
		return nil, err
	}
	if fulfilled {
		s.afterFulfill(logCtx, out)
	}
	return out, nil
}

func (s *service) charge(ctx context.Context, txn *models.PaymentTransaction, cardID string) (*vendors.ChargeResult, error) {
	if !txn.Vendor.Chargeable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("vendor %s cannot be charged", txn.Vendor))
	}
	gw, err := s.gateways.Get(txn.Vendor)
	if err != nil {
		return nil, err
	}
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		if s.cards == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no card available for charge")
		}
		cardID, err = s.cards.DefaultCardID(ctx, txn.AccountID, txn.Vendor)
		if err != nil {
			return nil, err
		}
	}
	return gw.ChargeCard(ctx, txn.VendorProfileID, cardID, vendors.Charge{
		AmountUSD:      txn.TotalPriceUSD(),
		IdempotencyKey: txn.ChargeKey(),
		Description:    chargeDescription(txn),
	})
}

func chargeDescription(txn *models.PaymentTransaction) string {
	if txn.SubscriptionID != nil {
		return "Subscription renewal " + txn.ID.String()
	}
	return "Purchase " + txn.ID.String()
}

func (s *service) FulfillAndClose(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var (
		out       *models.PaymentTransaction
		fulfilled bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, fulfilled, err = s.fulfillTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if fulfilled {
		s.afterFulfill(ctx, out)
	}
	return out, nil
}

// fulfillTx credits the account exactly once. The completed_at compare and
// swap makes a concurrent or repeated call a no-op.
func (s *service) fulfillTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.PaymentTransaction, bool, error) {
	txRepo := s.repo.WithTx(tx)
	txn, err := txRepo.LockByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !txn.Open() {
		return txn, false, nil
	}

	rewarded := txn.AccountCurrencyRewarded
	if rewarded.IsZero() {
		rewarded = txn.AccountCurrencyQuoted
	}
	swapped, err := txRepo.Complete(ctx, id, Completion{
		Result:      enums.TransactionResultFulfilled,
		CompletedAt: s.now(),
		Rewarded:    &rewarded,
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete transaction")
	}
	if !swapped {
		current, err := txRepo.FindByID(ctx, id)
		return current, false, err
	}

	supporter, err := s.grantsSupporter(ctx, tx, txn)
	if err != nil {
		return nil, false, err
	}
	if err := s.accounts.WithTx(tx).Credit(ctx, txn.AccountID, accounts.CreditInput{
		Currency:  rewarded,
		Items:     txn.Items,
		Supporter: supporter,
	}); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit account")
	}
	if err := s.notify.Emit(ctx, tx, outbox.RewardEvent{
		AccountID:     txn.AccountID,
		TransactionID: txn.ID,
		Message:       rewardMessage(txn, rewarded),
		Amount:        rewarded,
	}); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue reward notification")
	}

	current, err := txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, true, nil
}

func (s *service) grantsSupporter(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction) (bool, error) {
	if txn.Vendor == enums.VendorPledge {
		return true, nil
	}
	if len(txn.Items) == 0 {
		return false, nil
	}
	codes := make([]string, 0, len(txn.Items))
	for _, item := range txn.Items {
		codes = append(codes, item.Code)
	}
	flags, err := s.catalogue.WithTx(tx).SupporterCodes(ctx, codes)
	if err != nil {
		return false, err
	}
	return len(flags) > 0, nil
}

func rewardMessage(txn *models.PaymentTransaction, rewarded decimal.Decimal) string {
	parts := []string{}
	if rewarded.IsPositive() {
		parts = append(parts, fmt.Sprintf("%s coins", rewarded.String()))
	}
	for _, item := range txn.Items {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Your %s payment was processed.", txn.Vendor.DisplayName())
	}
	return fmt.Sprintf("Thank you! You received %s.", strings.Join(parts, ", "))
}

func (s *service) afterFulfill(ctx context.Context, txn *models.PaymentTransaction) {
	s.metrics.TransactionFulfilled(string(txn.Vendor), txn.AccountCurrencyRewarded)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID.String(),
		"account_id":     txn.AccountID.String(),
		"rewarded":       txn.AccountCurrencyRewarded.String(),
	}), "transaction fulfilled")
}

func (s *service) Close(ctx context.Context, id uuid.UUID, reason enums.TransactionResult) (*models.PaymentTransaction, error) {
	if !reason.IsCloseReason() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%q is not a close reason", reason))
	}
	var out *models.PaymentTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txn, err := txRepo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !txn.Open() {
			out = txn
			return nil
		}
		if _, err := txRepo.Complete(ctx, id, Completion{Result: reason, CompletedAt: s.now()}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close transaction")
		}
		out, err = txRepo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Accept charges and fulfills an open, unpaid transaction owned by accountID.
func (s *service) Accept(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.GetForAccount(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if !txn.Open() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction is closed")
	}
	if txn.Paid() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction is already paid")
	}
	return s.SetPaid(ctx, id, PaidOptions{})
}

// Decline closes a transaction owned by accountID. It is allowed after
// payment and does nothing on a closed transaction.
func (s *service) Decline(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.GetForAccount(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if !txn.Open() {
		return txn, nil
	}
	return s.Close(ctx, id, enums.TransactionResultDeclined)
}

// Grant creates, pays and fulfills a transaction without a vendor charge,
// all in one DB transaction together with opts.AfterFulfill.
func (s *service) Grant(ctx context.Context, input CreateInput, opts GrantOptions) (*models.PaymentTransaction, error) {
	var out *models.PaymentTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.createTx(ctx, tx, input)
		if err != nil {
			return err
		}
		if _, err := s.repo.WithTx(tx).MarkPaid(ctx, txn.ID, s.now(), nil); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark grant paid")
		}
		fulfilled, ok, err := s.fulfillTx(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "granted transaction was completed concurrently")
		}
		if opts.AfterFulfill != nil {
			if err := opts.AfterFulfill(ctx, tx, fulfilled); err != nil {
				return err
			}
		}
		out = fulfilled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterFulfill(ctx, out)
	return out, nil
}

func (s *service) UpdateVendorTransactionID(ctx context.Context, id uuid.UUID, vendorTransactionID string) error {
	vendorTransactionID = strings.TrimSpace(vendorTransactionID)
	if vendorTransactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor transaction id is required")
	}
	return s.repo.UpdateVendorTransactionID(ctx, id, vendorTransactionID)
}

func (s *service) UpdateVendorProfileID(ctx context.Context, id uuid.UUID, profileID string) error {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor profile id is required")
	}
	return s.repo.UpdateVendorProfileID(ctx, id, profileID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return s.repo.FindByID(ctx, id)
}

// GetForAccount hides transactions of other accounts behind FORBIDDEN.
func (s *service) GetForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction belongs to another account")
	}
	return txn, nil
}

func (s *service) ListForAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentTransaction], error) {
	if accountID == uuid.Nil {
		return pagination.Page[models.PaymentTransaction]{}, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.List(ctx, &accountID, params)
}

func (s *service) ListAll(ctx context.Context, params pagination.Params) (pagination.Page[models.PaymentTransaction], error) {
	return s.repo.List(ctx, nil, params)
}

func (s *service) LatestForSubscription(ctx context.Context, subscriptionID string) (*models.PaymentTransaction, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	return s.repo.LatestForSubscription(ctx, subscriptionID)
}
