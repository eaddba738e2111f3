// Package api exposes the sync trigger, sync status, the Manychat webhook and the
// live lead feed over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveFeed upgrades a request into a websocket subscribed to one agency
type LiveFeed interface {
	ServeWS(w http.ResponseWriter, r *http.Request, agencyID string)
}

type Deps struct {
	Sync        SyncRunner
	Checkpoints CheckpointReader
	Runs        RunHistory
	Leases      LeaseInspector
	Tenants     TenantReader
	Leads       LeadCreator
	DB          Pinger
	Feed        LiveFeed
	Auth        *Authenticator

	ManychatSecret     string
	SyncTimeout        time.Duration
	ExposeStack        bool
	CORSAllowedOrigins []string
	SyncRatePerMinute  int
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", manychatSecretHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler(d.DB))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/webhooks/manychat", NewManychatHandler(d.ManychatSecret, d.Tenants, d.Leads).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Get("/ws/leads", feedHandler(d.Feed))
		r.Get("/api/trello/sync/status", NewStatusHandler(d.Checkpoints, d.Runs, d.Leases).ServeHTTP)

		rate := d.SyncRatePerMinute
		if rate <= 0 {
			rate = 10
		}
		r.With(httprate.Limit(rate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Post("/api/trello/sync", NewSyncHandler(d.Sync, d.SyncTimeout, d.ExposeStack).ServeHTTP)
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func feedHandler(feed LiveFeed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agencyID := r.URL.Query().Get("agencyId")
		if agencyID == "" {
			respondError(w, http.StatusBadRequest, "agencyId is required")
			return
		}
		if !authorizeAgency(w, r, agencyID) {
			return
		}
		feed.ServeWS(w, r, agencyID)
	}
}

// requestLogger tags the context with chi's request id and logs each request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
