package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSyncPass(t *testing.T) {
	before := testutil.ToFloat64(syncPassesTotal.WithLabelValues("full", "completed"))
	RecordSyncPass("full", "completed", 2*time.Second)
	after := testutil.ToFloat64(syncPassesTotal.WithLabelValues("full", "completed"))
	assert.Equal(t, before+1, after)
}

func TestRecordSyncCounts(t *testing.T) {
	before := testutil.ToFloat64(trelloRateLimitedTotal)
	RecordSyncCounts(1, 2, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(trelloRateLimitedTotal))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/things/{id}", "418"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/things/{id}", "418")))
}
