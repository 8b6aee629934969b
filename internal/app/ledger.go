package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rewardledger/internal/accounts"
	"github.com/angelmondragon/rewardledger/internal/cards"
	"github.com/angelmondragon/rewardledger/internal/catalogue"
	"github.com/angelmondragon/rewardledger/internal/pledges"
	"github.com/angelmondragon/rewardledger/internal/subscriptions"
	"github.com/angelmondragon/rewardledger/internal/transactions"
	"github.com/angelmondragon/rewardledger/internal/vendors"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/metrics"
	"github.com/angelmondragon/rewardledger/pkg/outbox"
	"github.com/angelmondragon/rewardledger/pkg/patreon"
	"github.com/angelmondragon/rewardledger/pkg/square"
)

// LedgerParams carries what the binaries share when building the ledger.
type LedgerParams struct {
	Config     *config.Config
	DB         *db.Client
	Logger     *logger.Logger
	Registerer prometheus.Registerer
	// Gateways overrides the vendor registry built from config.
	Gateways *vendors.Registry
	// Members overrides the pledge platform client built from config.
	Members pledges.MemberSource
	Now     func() time.Time
}

// Ledger is the wired service graph.
type Ledger struct {
	Gateways      *vendors.Registry
	Accounts      accounts.Repository
	Cards         cards.Service
	Outbox        *outbox.Repository
	Transactions  transactions.Service
	Subscriptions subscriptions.Service
	Pledges       *pledges.Service
	Metrics       *metrics.LedgerMetrics
}

// NewLedger wires repositories and services on top of an open database.
func NewLedger(ctx context.Context, params LedgerParams) (*Ledger, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	logg := params.Logger

	gateways := params.Gateways
	if gateways == nil {
		var err error
		gateways, err = NewGateways(ctx, cfg, logg)
		if err != nil {
			return nil, err
		}
	}

	var ledgerMetrics *metrics.LedgerMetrics
	if params.Registerer != nil {
		ledgerMetrics = metrics.NewLedgerMetrics(params.Registerer)
	}

	conn := params.DB.DB()
	accountsRepo := accounts.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)

	cardsSvc, err := cards.NewService(cards.ServiceParams{
		Repo:              cards.NewRepository(conn),
		Accounts:          accountsRepo,
		Gateways:          gateways,
		TransactionRunner: params.DB,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("cards service: %w", err)
	}

	ledgerSvc, err := transactions.NewService(transactions.ServiceParams{
		Repo:              transactions.NewRepository(conn),
		Accounts:          accountsRepo,
		Catalogue:         catalogue.NewRepository(conn),
		Gateways:          gateways,
		DefaultCards:      cardsSvc,
		Notifications:     outbox.NewService(outboxRepo, logg),
		TransactionRunner: params.DB,
		Metrics:           ledgerMetrics,
		Logger:            logg,
		Now:               params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("transactions service: %w", err)
	}

	subscriptionsSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(conn),
		Transactions:      ledgerSvc,
		Cards:             cardsSvc,
		TransactionRunner: params.DB,
		Automation:        cfg.Automation,
		Logger:            logg,
		Now:               params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions service: %w", err)
	}

	source := params.Members
	if source == nil {
		source, err = newMemberSource(cfg.Patreon)
		if err != nil {
			return nil, err
		}
	}
	pledgesSvc, err := pledges.NewService(pledges.ServiceParams{
		Repo:              pledges.NewRepository(conn),
		Source:            source,
		Ledger:            ledgerSvc,
		Accounts:          accountsRepo,
		TransactionRunner: params.DB,
		Automation:        cfg.Automation,
		Rewards:           cfg.Rewards,
		Metrics:           ledgerMetrics,
		Logger:            logg,
		Now:               params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("pledges service: %w", err)
	}

	return &Ledger{
		Gateways:      gateways,
		Accounts:      accountsRepo,
		Cards:         cardsSvc,
		Outbox:        outboxRepo,
		Transactions:  ledgerSvc,
		Subscriptions: subscriptionsSvc,
		Pledges:       pledgesSvc,
		Metrics:       ledgerMetrics,
	}, nil
}

// NewGateways registers Square when credentials exist and the in-memory
// vendor when the fake vendor flag is on.
func NewGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*vendors.Registry, error) {
	var gateways []vendors.Gateway
	if cfg.Square.Enabled() {
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		gw, err := vendors.NewSquareGateway(client)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if cfg.FeatureFlags.FakeVendor {
		gateways = append(gateways, vendors.NewFakeGateway())
	}
	return vendors.NewRegistry(gateways...)
}

// newMemberSource returns nil when no pledge platform token is configured;
// the pledge service then only serves the reward side.
func newMemberSource(cfg config.PatreonConfig) (pledges.MemberSource, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, nil
	}
	client, err := patreon.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("patreon client: %w", err)
	}
	return client, nil
}
