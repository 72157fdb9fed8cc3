package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexuspay/settlement-relay/api/controllers"
	"github.com/nexuspay/settlement-relay/api/middleware"
	"github.com/nexuspay/settlement-relay/pkg/config"
	"github.com/nexuspay/settlement-relay/pkg/logger"
)

// RouterParams wires service dependencies into the HTTP surface.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Webhooks     controllers.WebhookIngressService
	DeadLetters  controllers.DeadLetterService
	Events       controllers.EventCounter
	Transactions controllers.TransactionCounter
	DLQDepth     controllers.DeadLetterCounter
	ReadyChecks  map[string]controllers.Pinger
	Metrics      prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.ReadyChecks))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/circle", controllers.CircleWebhook(params.Webhooks, logg))
		r.Head("/circle", controllers.CircleWebhookVerify())
	})

	r.Route("/api/v1/ops", func(r chi.Router) {
		r.Get("/status", controllers.PipelineStatus(params.Events, params.Transactions, params.DLQDepth, cfg.Reconciliation, logg))
		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", controllers.DeadLetterList(params.DeadLetters, logg))
			r.Post("/replay", controllers.DeadLetterReplayBatch(params.DeadLetters, logg))
			r.Post("/{eventID}/replay", controllers.DeadLetterReplay(params.DeadLetters, logg))
		})
	})

	return r
}
