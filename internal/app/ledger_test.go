package app

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db/dbtest"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestNewGatewaysFakeVendorOnly(t *testing.T) {
	cfg := &config.Config{FeatureFlags: config.FeatureFlagsConfig{FakeVendor: true}}

	registry, err := NewGateways(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.ElementsMatch(t, []enums.Vendor{enums.VendorFake}, registry.Vendors())

	_, err = registry.Get(enums.VendorCard)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewLedgerWiresServices(t *testing.T) {
	client := dbtest.Open(t)
	cfg := &config.Config{
		FeatureFlags: config.FeatureFlagsConfig{FakeVendor: true},
		Rewards:      config.RewardsConfig{PledgeMultiplier: "2", Campaigns: []string{"123"}},
	}

	ledger, err := NewLedger(context.Background(), LedgerParams{
		Config:     cfg,
		DB:         client,
		Logger:     testLogger(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NotNil(t, ledger.Transactions)
	require.NotNil(t, ledger.Subscriptions)
	require.NotNil(t, ledger.Pledges)
	require.NotNil(t, ledger.Metrics)

	// no platform token configured
	_, err = ledger.Pledges.Sync(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	report, err := ledger.Pledges.ProcessRewards(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Eligible)
}

func TestNewLedgerRequiresDatabase(t *testing.T) {
	_, err := NewLedger(context.Background(), LedgerParams{Config: &config.Config{}, Logger: testLogger()})
	require.Error(t, err)
}
