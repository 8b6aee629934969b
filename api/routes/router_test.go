package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rewardledger/api/controllers"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/metrics"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func newTestRouter(t *testing.T, reg *prometheus.Registry, checks ...controllers.Check) http.Handler {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewOpsRouter(cfg, logg, reg, checks...)
}

func TestHealthzIsLive(t *testing.T) {
	router := newTestRouter(t, prometheus.NewRegistry())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
	if resp.Header().Get("X-RewardLedger-Env") != "test" {
		t.Fatalf("unexpected env header %q", resp.Header().Get("X-RewardLedger-Env"))
	}
}

func TestReadyReportsFailedDependency(t *testing.T) {
	router := newTestRouter(t, prometheus.NewRegistry(),
		controllers.Check{Name: "db", Pinger: stubPinger{}},
		controllers.Check{Name: "redis", Pinger: stubPinger{err: errors.New("connection refused")}},
	)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "redis") {
		t.Fatalf("expected failing check in body, got %s", resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), `"db"`) {
		t.Fatalf("healthy check should not be reported, got %s", resp.Body.String())
	}
}

func TestReadyWhenAllChecksPass(t *testing.T) {
	router := newTestRouter(t, prometheus.NewRegistry(), controllers.Check{Name: "db", Pinger: stubPinger{}})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestMetricsExposesLedgerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	m.ChargeRefused("card")
	router := newTestRouter(t, reg)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `rewardledger_charges_refused_total{vendor="card"} 1`) {
		t.Fatalf("expected refused counter in body, got %s", resp.Body.String())
	}
}
