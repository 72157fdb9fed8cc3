package controllers

import (
	"context"
	"net/http"

	"github.com/nexuspay/settlement-relay/api/responses"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/logger"
)

const envHeader = "X-NexusPay-Env"

// Pinger is the dependency health probe shape shared by the db, redis,
// pubsub, and provider clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports per-dependency health. Any failed dependency flips the
// status to 503 so load balancers stop routing deliveries here.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set(envHeader, cfg.App.Env)

		checks := map[string]string{}
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "not configured"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				healthy = false
				checks[name] = err.Error()
				if logg != nil {
					depCtx := logg.WithField(ctx, "dependency", name)
					logg.Error(depCtx, "readiness check failed", err)
				}
				continue
			}
			checks[name] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"status": state,
			"checks": checks,
		})
	}
}
