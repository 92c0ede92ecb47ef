package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/lanes/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/lanes/{id}", "418"))
	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/lanes/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/lanes/{id}", "418"))
	assert.Equal(t, 2.0, after-before)
}

func TestObserveStoreQuery(t *testing.T) {
	ObserveStoreQuery(5*time.Millisecond, nil)
	ObserveStoreQuery(5*time.Millisecond, errors.New("down"))
	// One series per outcome label.
	assert.Equal(t, 2, testutil.CollectAndCount(StoreQueryDuration))
}

type fakeStat struct{}

func (fakeStat) TotalConns() int32    { return 8 }
func (fakeStat) AcquiredConns() int32 { return 3 }
func (fakeStat) IdleConns() int32     { return 5 }

func TestUpdateDBPoolMetrics(t *testing.T) {
	UpdateDBPoolMetrics(fakeStat{})
	assert.Equal(t, 8.0, testutil.ToFloat64(DBPoolConnsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(DBPoolConnsAcquired))
	assert.Equal(t, 5.0, testutil.ToFloat64(DBPoolConnsIdle))
}

func TestHandler(t *testing.T) {
	PairingRuns.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lane_engine_pairing_runs_total"))
}
