package billingapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/ingest"
	"github.com/everkeep/everkeep/pkg/jobs"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/logger"
	"github.com/everkeep/everkeep/pkg/takeover"
)

// Sweeper is the slice of a sweep the API needs: run it, get a report.
type Sweeper interface {
	Run(ctx context.Context) (jobs.Report, error)
}

// SubscriptionCommands is the slice of the subscription service the API
// needs: the user-facing cancel and resume operations.
type SubscriptionCommands interface {
	Cancel(ctx context.Context, subscriptionID uuid.UUID) (*ledger.Subscription, error)
	Resume(ctx context.Context, subscriptionID uuid.UUID) (*ledger.Subscription, error)
}

// Deps carries everything the API module needs. All fields except the
// sweepers and logger are required.
type Deps struct {
	Log           *slog.Logger
	Store         ledger.Store
	Gateway       billing.Gateway
	Processor     *ingest.Processor
	Takeovers     *takeover.Service
	Subscriptions SubscriptionCommands

	GraceSweep      Sweeper
	SuspensionSweep Sweeper

	// JobsToken authenticates the scheduler calling the sweep endpoints.
	JobsToken string
}

type api struct {
	Deps
}

// NewRouter builds the HTTP surface: webhook ingestion, scheduled job
// triggers, takeover initiation, and provider balance lookup.
func NewRouter(deps Deps) http.Handler {
	if deps.Store == nil || deps.Gateway == nil || deps.Processor == nil ||
		deps.Takeovers == nil || deps.Subscriptions == nil {
		panic("billingapi: missing required dependencies")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	a := &api{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/payment-events", a.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(a.requireJobsToken)
		r.Post("/jobs/grace-period-sweep", a.handleSweep(deps.GraceSweep))
		r.Post("/jobs/suspension-sweep", a.handleSweep(deps.SuspensionSweep))
	})

	r.Post("/subscriptions/{subscriptionID}/cancel", a.handleCancelSubscription)
	r.Post("/subscriptions/{subscriptionID}/resume", a.handleResumeSubscription)
	r.Post("/accounts/{accountID}/takeover", a.handleTakeover)
	r.Get("/providers/{providerID}/balance", a.handleProviderBalance)

	return r
}

// logRequests emits one line per request with outcome and latency.
func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Log.InfoContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Duration(time.Since(start)),
		)
	})
}
