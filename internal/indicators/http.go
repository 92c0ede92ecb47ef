package indicators

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rapidroutes/lane-engine/internal/resilience"
)

// maxBodyBytes bounds the indicator document size.
const maxBodyBytes = 1 << 20

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	URL            string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
	Retry          resilience.Policy
	Client         *http.Client
}

// HTTPSource fetches a JSON indicator document:
//
//	{"as_of": "2026-10-01T00:00:00Z", "states": {"TX": 0.12, "CA": -0.05}}
type HTTPSource struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *AdaptiveLimiter
	retry   resilience.Policy
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(opts HTTPOptions) (*HTTPSource, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, eris.New("indicators: url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.LogRetries("indicators", "fetch")
	}
	return &HTTPSource{
		url:     opts.URL,
		apiKey:  opts.APIKey,
		client:  client,
		limiter: NewAdaptiveLimiter(rate.Limit(opts.RequestsPerSec), 1),
		retry:   opts.Retry,
	}, nil
}

// Fetch implements Source. 429, 408 and 5xx responses are retried under the
// configured policy.
func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	snap, err := resilience.Retry(ctx, s.retry, s.fetchOnce)
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "indicators: fetch")
	}
	zap.L().Debug("indicators: fetched snapshot",
		zap.Int("states", len(snap.States)),
		zap.Time("as_of", snap.AsOf),
	)
	return snap, nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context) (Snapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Snapshot{}, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lane-engine/1.0")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		s.limiter.OnRateLimit()
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		statusErr := eris.Errorf("http %d from %s", resp.StatusCode, s.url)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return Snapshot{}, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return Snapshot{}, statusErr
	}
	s.limiter.OnSuccess()

	var snap Snapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&snap); err != nil {
		return Snapshot{}, eris.Wrap(err, "decode indicator document")
	}
	return normalize(snap)
}

func normalize(in Snapshot) (Snapshot, error) {
	out := Snapshot{AsOf: in.AsOf, States: make(map[string]float64, len(in.States))}
	for k, v := range in.States {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Snapshot{}, eris.Errorf("non-finite index for %q", k)
		}
		out.States[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out, nil
}
