package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/engine"
	"github.com/rapidroutes/lane-engine/internal/export"
	"github.com/rapidroutes/lane-engine/internal/model"
)

const maxBodyBytes = 1 << 20

// HealthHandler is a liveness check.
func HealthHandler() http.HandlerFunc {
	startedAt := time.Now()
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"uptime": time.Since(startedAt).Round(time.Second).String(),
		})
	}
}

// ReadyHandler checks the city store connection.
func ReadyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"store": "ok"}
		status := http.StatusOK
		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				checks["store"] = "error: " + err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if deps.Indicators != nil {
			if at := deps.Indicators.FetchedAt(); at.IsZero() {
				checks["indicators"] = "not loaded"
			} else {
				checks["indicators"] = "as of " + at.UTC().Format(time.RFC3339)
			}
		}
		writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
	}
}

// PairingsHandler runs the engine and returns the full result as JSON.
func PairingsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(w, r)
		if !ok {
			return
		}
		res, err := deps.Engine.Run(r.Context(), req)
		if err != nil {
			writeRunError(w, res, err)
			return
		}
		w.Header().Set("X-Run-Id", res.RunID)
		writeJSON(w, http.StatusOK, res)
	}
}

// ExportHandler runs the engine and returns the verified rows as CSV.
func ExportHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(w, r)
		if !ok {
			return
		}
		res, err := deps.Engine.Run(r.Context(), req)
		if err != nil {
			writeRunError(w, res, err)
			return
		}

		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, res.Rows); err != nil {
			zap.L().Error("api: write csv", zap.String("run_id", res.RunID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to render export", nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="postings-%s.csv"`, res.RunID))
		w.Header().Set("X-Run-Id", res.RunID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

// CityHandler resolves one city from the store.
func CityHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		city, err := deps.Store.FindCity(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "state"))
		if err != nil {
			writeRunError(w, nil, err)
			return
		}
		writeJSON(w, http.StatusOK, city)
	}
}

// CacheStatsHandler reports pair cache statistics.
func CacheStatsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if deps.PairCache == nil {
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
			return
		}
		writeJSON(w, http.StatusOK, deps.PairCache.Stats())
	}
}

// InvalidateCacheHandler drops every cached pairing outcome and the
// indicator snapshot.
func InvalidateCacheHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.PairCache != nil {
			deps.PairCache.Invalidate()
		}
		if deps.Indicators != nil {
			if err := deps.Indicators.Invalidate(r.Context()); err != nil {
				zap.L().Warn("api: invalidate indicators", zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req engine.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error(), nil)
		return req, false
	}
	return req, true
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details any            `json:"details,omitempty"`
	Result  *engine.Result `json:"result,omitempty"`
}

// writeRunError maps engine errors to status codes. Partial results travel
// with diversity, pairing and verification failures.
func writeRunError(w http.ResponseWriter, res *engine.Result, err error) {
	var (
		insufficient *model.InsufficientDiversityError
		shortfall    *model.PairShortfallError
		verification *model.VerificationFailureError
	)
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  insufficient.Error(),
			Code:   "insufficient_diversity",
			Result: res,
			Details: map[string]any{
				"side":       insufficient.Side,
				"found":      insufficient.Found,
				"target":     insufficient.Target,
				"shortfall":  insufficient.Shortfall(),
				"tiers_used": insufficient.TiersUsed,
				"max_radius": insufficient.MaxRadius,
			},
		})
	case errors.As(err, &shortfall):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:   shortfall.Error(),
			Code:    "pair_shortfall",
			Result:  res,
			Details: map[string]int{"assembled": shortfall.Assembled, "required": shortfall.Required},
		})
	case errors.As(err, &verification):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:   "structural verification failed",
			Code:    "verification_failed",
			Result:  res,
			Details: verification.Errors,
		})
	case eris.Is(err, model.ErrCityNotFound):
		writeError(w, http.StatusNotFound, "city_not_found", err.Error(), nil)
	case eris.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case eris.Is(err, model.ErrStoreUnavailable):
		zap.L().Error("api: city store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "city store unavailable", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", "request cancelled or timed out", nil)
	default:
		zap.L().Error("api: unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
