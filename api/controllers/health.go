package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/rewardledger/api/responses"
	"github.com/angelmondragon/rewardledger/pkg/config"
	pkgerrors "github.com/angelmondragon/rewardledger/pkg/errors"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

const envHeader = "X-RewardLedger-Env"

const readyTimeout = 3 * time.Second

// Pinger is a dependency the worker cannot run without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names a Pinger for the readiness report.
type Check struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every check and fails with a dependency error naming the
// ones that did not answer.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				failed[check.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"checks": failed})
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
