package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/rewardledger/internal/transactions"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledger interface {
	Create(ctx context.Context, input transactions.CreateInput) (*models.PaymentTransaction, error)
	SetPaid(ctx context.Context, id uuid.UUID, opts transactions.PaidOptions) (*models.PaymentTransaction, error)
	LatestForSubscription(ctx context.Context, subscriptionID string) (*models.PaymentTransaction, error)
}

type cardService interface {
	ProfileID(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor) (string, error)
	Get(ctx context.Context, accountID uuid.UUID, vendor enums.Vendor, cardID string) (*vendors.Card, error)
}

// Service is the recurring billing ledger.
type Service interface {
	CreateForCard(ctx context.Context, input CreateInput) (*models.PaymentSubscription, error)
	Accept(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error)
	Decline(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error)
	Cancel(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error)
	ProcessSubscriptions(ctx context.Context) (ProcessReport, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentSubscription, error)
	GetForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentSubscription], error)
	ListAll(ctx context.Context, params pagination.Params) (pagination.Page[models.PaymentSubscription], error)
}

// ServiceParams groups dependencies for the subscription ledger.
type ServiceParams struct {
	Repo              Repository
	Transactions      ledger
	Cards             cardService
	TransactionRunner txRunner
	Automation        config.AutomationConfig
	Logger            *logger.Logger
	Now               func() time.Time
}

// CreateInput describes a new card subscription.
type CreateInput struct {
	AccountID    uuid.UUID
	Vendor       enums.Vendor
	CardID       string
	AmountUSD    decimal.Decimal
	IntervalDays int
}

// ProcessReport summarizes one ProcessSubscriptions run.
type ProcessReport struct {
	Considered int
	Charged    int
	Refused    int
	CoolingOff int
	Expired    int
	InFlight   int
}

type service struct {
	repo       Repository
	ledger     ledger
	cards      cardService
	tx         txRunner
	automation config.AutomationConfig
	logg       *logger.Logger
	now        func() time.Time
}

const defaultBatchSize = 250

// NewService wires the subscription ledger.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction ledger required")
	}
	if params.Cards == nil {
		return nil, fmt.Errorf("card service required")
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
		repo:       params.Repo,
		ledger:     params.Transactions,
		cards:      params.Cards,
		tx:         params.TransactionRunner,
		automation: params.Automation,
		logg:       params.Logger,
		now:        func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) CreateForCard(ctx context.Context, input CreateInput) (*models.PaymentSubscription, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if input.Vendor == "" {
		input.Vendor = enums.VendorCard
	}
	if !input.Vendor.SupportsCards() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("vendor %s cannot hold card subscriptions", input.Vendor))
	}
	if !input.AmountUSD.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.IntervalDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "interval must be at least one day")
	}
	cardID := strings.TrimSpace(input.CardID)
	if _, err := s.cards.Get(ctx, input.AccountID, input.Vendor, cardID); err != nil {
		return nil, err
	}
	profileID, err := s.cards.ProfileID(ctx, input.AccountID, input.Vendor)
	if err != nil {
		return nil, err
	}

	sub := &models.PaymentSubscription{
		ID:                    uuid.New(),
		AccountID:             input.AccountID,
		Vendor:                input.Vendor,
		VendorProfileID:       profileID,
		VendorSubscriptionID:  cardID,
		AmountUSD:             input.AmountUSD.Round(2),
		RecurringIntervalDays: input.IntervalDays,
		Status:                enums.SubscriptionStatusApprovalPending,
		CreatedAt:             s.now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist subscription")
	}
	s.logg.Info(s.logCtx(ctx, sub), "subscription created")
	return sub, nil
}

// Accept activates a pending subscription and attempts the first charge.
// A failed first charge leaves the subscription active and uncharged. When the
// charge job already holds the subscription, Accept leaves the charge to it.
func (s *service) Accept(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error) {
	sub, err := s.transition(ctx, accountID, id, enums.SubscriptionStatusActive, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.chargeDue(s.logCtx(ctx, sub), sub.ID); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) Decline(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error) {
	return s.transition(ctx, accountID, id, enums.SubscriptionStatusUserDeclined, true)
}

func (s *service) Cancel(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error) {
	sub, err := s.GetForAccount(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if !sub.Open() {
		return sub, nil
	}
	return s.transition(ctx, accountID, id, enums.SubscriptionStatusCancelled, true)
}

func (s *service) transition(ctx context.Context, accountID, id uuid.UUID, status enums.SubscriptionStatus, closing bool) (*models.PaymentSubscription, error) {
	var out *models.PaymentSubscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		sub, err := txRepo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if sub.AccountID != accountID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "subscription belongs to another account")
		}
		if !sub.Open() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "subscription is closed")
		}
		if status == enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusApprovalPending {
			return pkgerrors.New(pkgerrors.CodeForbidden, "subscription is not awaiting approval")
		}
		var closedAt *time.Time
		if closing {
			now := s.now()
			closedAt = &now
		}
		if err := txRepo.UpdateStatus(ctx, id, status, closedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription status")
		}
		out, err = txRepo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(s.logCtx(ctx, out), "status", string(status)), "subscription status changed")
	return out, nil
}

type chargeOutcome int

const (
	chargeMade chargeOutcome = iota
	// another caller holds the charge slot
	chargeBusy
	// the current interval is already paid
	chargeNotDue
)

// chargeClaimTTL is how long a claim survives a charger that never released it.
const chargeClaimTTL = 15 * time.Minute

// chargeDue bills the current interval of a subscription at most once. The
// charge slot is claimed on the row first, so request paths and the charge
// job never bill the same interval side by side.
func (s *service) chargeDue(ctx context.Context, id uuid.UUID) (chargeOutcome, error) {
	token := uuid.NewString()
	now := s.now()
	claimed, err := s.repo.ClaimCharge(ctx, id, token, now, now.Add(-chargeClaimTTL))
	if err != nil {
		return chargeBusy, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim subscription charge")
	}
	if !claimed {
		s.logg.Info(ctx, "subscription charge already in progress")
		return chargeBusy, nil
	}

	chargedAt, outcome, err := s.chargeClaimed(ctx, id)

	released, releaseErr := s.repo.ReleaseCharge(context.WithoutCancel(ctx), id, token, chargedAt)
	switch {
	case releaseErr != nil && chargedAt != nil:
		err = multierr.Append(err, pkgerrors.Wrap(pkgerrors.CodeInternal, releaseErr, "record subscription charge"))
	case releaseErr != nil:
		s.logg.Error(ctx, "failed to release subscription charge claim", releaseErr)
	case !released:
		s.logg.Warn(ctx, "subscription charge claim was taken over")
	}
	return outcome, err
}

// chargeClaimed runs while the charge slot is held. It re-reads the row so a
// charge recorded by the previous holder is seen, and reuses the interval's
// pending transaction so a retry keeps its vendor idempotency key.
func (s *service) chargeClaimed(ctx context.Context, id uuid.UUID) (*time.Time, chargeOutcome, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, chargeNotDue, err
	}
	periodStart := sub.NextChargeAt()
	if s.now().Before(periodStart) {
		return nil, chargeNotDue, nil
	}

	txn, err := s.ledger.LatestForSubscription(ctx, sub.ID.String())
	if err != nil {
		return nil, chargeNotDue, err
	}
	if txn != nil && txn.CreatedAt.Before(periodStart) {
		txn = nil
	}
	switch {
	case txn != nil && txn.Result == enums.TransactionResultFulfilled:
		// billed before the previous holder could record it
		at := s.now()
		if txn.PaidAt != nil {
			at = *txn.PaidAt
		}
		s.logg.Warn(s.logg.WithTransactionID(ctx, txn.ID.String()), "recording unrecorded subscription charge")
		return &at, chargeNotDue, nil
	case txn == nil || !txn.Open():
		subID := sub.ID.String()
		txn, err = s.ledger.Create(ctx, transactions.CreateInput{
			AccountID:             sub.AccountID,
			Vendor:                sub.Vendor,
			VendorProfileID:       sub.VendorProfileID,
			AccountCurrencyUSD:    sub.AmountUSD,
			AccountCurrencyQuoted: sub.AmountUSD.Mul(s.automation.CurrencyRate()).Round(2),
			SubscriptionID:        &subID,
		})
		if err != nil {
			return nil, chargeNotDue, err
		}
	}

	paid, err := s.ledger.SetPaid(ctx, txn.ID, transactions.PaidOptions{CardID: sub.VendorSubscriptionID})
	if err != nil {
		return nil, chargeNotDue, err
	}
	if paid.Result != enums.TransactionResultFulfilled {
		return nil, chargeNotDue, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription charge transaction was closed unpaid")
	}
	chargedAt := s.now()
	s.logg.Info(s.logg.WithTransactionID(ctx, paid.ID.String()), "subscription charged")
	return &chargedAt, chargeMade, nil
}

// ProcessSubscriptions charges every due active subscription. It does nothing
// at all while automated payments are switched off.
func (s *service) ProcessSubscriptions(ctx context.Context) (ProcessReport, error) {
	var report ProcessReport
	if !s.automation.PaymentsEnabled {
		s.logg.Info(ctx, "automated payments disabled, skipping subscription processing")
		return report, nil
	}

	batch := s.automation.SubscriptionBatch
	if batch <= 0 {
		batch = defaultBatchSize
	}

	var (
		errs  error
		after uuid.UUID
	)
	for {
		subs, err := s.repo.ListActive(ctx, after, batch)
		if err != nil {
			return report, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list active subscriptions"))
		}
		for i := range subs {
			sub := &subs[i]
			report.Considered++
			if err := s.processOne(ctx, sub, &report); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			}
		}
		if len(subs) < batch {
			break
		}
		after = subs[len(subs)-1].ID
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"considered":  report.Considered,
		"charged":     report.Charged,
		"refused":     report.Refused,
		"cooling_off": report.CoolingOff,
		"expired":     report.Expired,
		"in_flight":   report.InFlight,
	}), "subscription processing finished")
	return report, errs
}

func (s *service) processOne(ctx context.Context, sub *models.PaymentSubscription, report *ProcessReport) error {
	now := s.now()
	logCtx := s.logCtx(ctx, sub)

	if grace := s.automation.ExpiryGrace; grace > 0 && now.After(sub.ExpiresAt().Add(grace)) {
		if err := s.repo.UpdateStatus(ctx, sub.ID, enums.SubscriptionStatusExpired, &now); err != nil {
			return err
		}
		report.Expired++
		s.logg.Info(logCtx, "subscription expired")
		return nil
	}
	if now.Before(sub.NextChargeAt()) {
		return nil
	}

	latest, err := s.ledger.LatestForSubscription(ctx, sub.ID.String())
	if err != nil {
		return err
	}
	if latest != nil && latest.Result == enums.TransactionResultRefused && now.Sub(latest.CreatedAt) < s.automation.RefusalCooldown {
		report.CoolingOff++
		return nil
	}

	outcome, err := s.chargeDue(logCtx, sub.ID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeVendorChargeFailed) {
			report.Refused++
			s.logg.Warn(logCtx, "subscription charge refused")
			return nil
		}
		return err
	}
	switch outcome {
	case chargeMade:
		report.Charged++
	case chargeBusy:
		report.InFlight++
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentSubscription, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) GetForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.PaymentSubscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "subscription belongs to another account")
	}
	return sub, nil
}

func (s *service) ListForAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) (pagination.Page[models.PaymentSubscription], error) {
	if accountID == uuid.Nil {
		return pagination.Page[models.PaymentSubscription]{}, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.List(ctx, &accountID, params)
}

func (s *service) ListAll(ctx context.Context, params pagination.Params) (pagination.Page[models.PaymentSubscription], error) {
	return s.repo.List(ctx, nil, params)
}

func (s *service) logCtx(ctx context.Context, sub *models.PaymentSubscription) context.Context {
	return s.logg.WithAccountID(s.logg.WithSubscriptionID(ctx, sub.ID.String()), sub.AccountID.String())
}
