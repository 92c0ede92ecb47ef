// Package locator finds market-area-bearing cities within a great-circle
// radius of a point.
package locator

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/citystore"
	"github.com/rapidroutes/lane-engine/internal/geo"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// DefaultStoreTimeout bounds a single City Store call.
const DefaultStoreTimeout = 10 * time.Second

// Finder is the radius lookup consumed by the diversity selector.
type Finder interface {
	FindWithinRadius(ctx context.Context, center model.Point, radiusMiles float64, excludeKMA string) ([]model.Candidate, error)
}

// Observer receives the duration and outcome of each store call.
type Observer func(d time.Duration, err error)

// Locator queries a City Store and refines the result by exact distance.
type Locator struct {
	store   citystore.Store
	timeout time.Duration
	perKMA  int
	observe Observer
}

// Option configures a Locator.
type Option func(*Locator)

// WithStoreTimeout sets the per-call store timeout. Non-positive disables it.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Locator) { l.timeout = d }
}

// WithPerMarket caps the rows requested from the store for each market area.
func WithPerMarket(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.perKMA = n
		}
	}
}

// WithObserver registers a callback for store call timings.
func WithObserver(fn Observer) Option {
	return func(l *Locator) { l.observe = fn }
}

// New creates a Locator over store.
func New(store citystore.Store, opts ...Option) *Locator {
	l := &Locator{
		store:   store,
		timeout: DefaultStoreTimeout,
		perKMA:  citystore.DefaultPerMarket,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FindWithinRadius returns every eligible city whose great-circle distance
// from center is at most radiusMiles, nearest first with ties broken by name.
// Cities in excludeKMA are left out when it is non-empty.
//
// A store failure or timeout is returned as model.ErrStoreUnavailable. The
// caller owns any retry.
func (l *Locator) FindWithinRadius(ctx context.Context, center model.Point, radiusMiles float64, excludeKMA string) ([]model.Candidate, error) {
	if !center.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidInput, "locator: invalid center %v,%v", center.Lat, center.Lon)
	}
	if !(radiusMiles > 0) {
		return nil, eris.Wrapf(model.ErrInvalidInput, "locator: radius must be > 0, got %v", radiusMiles)
	}

	cities, err := l.query(ctx, citystore.Query{
		Center:      center,
		RadiusMiles: radiusMiles,
		ExcludeKMA:  excludeKMA,
		PerMarket:   l.perKMA,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Candidate, 0, len(cities))
	for _, c := range cities {
		p, ok := c.Point()
		if !ok || c.KMACode == "" {
			continue
		}
		if excludeKMA != "" && c.KMACode == excludeKMA {
			continue
		}
		d := geo.HaversineMiles(center, p)
		if d > radiusMiles {
			continue
		}
		out = append(out, model.Candidate{City: c, DistanceMiles: d})
	}

	SortByDistance(out)

	zap.L().Debug("locator: radius query",
		zap.Float64("lat", center.Lat),
		zap.Float64("lon", center.Lon),
		zap.Float64("radius_miles", radiusMiles),
		zap.String("exclude_kma", excludeKMA),
		zap.Int("store_rows", len(cities)),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

func (l *Locator) query(ctx context.Context, q citystore.Query) ([]model.City, error) {
	callCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	cities, err := l.store.WithinRadius(callCtx, q)
	if l.observe != nil {
		l.observe(time.Since(start), err)
	}
	if err == nil {
		return cities, nil
	}

	// Caller cancellation is not a store fault.
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, eris.Wrap(ctx.Err(), "locator: radius query")
	}
	if eris.Is(err, model.ErrInvalidInput) {
		return nil, err
	}
	if eris.Is(err, model.ErrStoreUnavailable) {
		return nil, eris.Wrap(err, "locator: radius query")
	}
	return nil, eris.Wrapf(model.ErrStoreUnavailable, "locator: radius query: %v", err)
}

// SortByDistance orders candidates by distance, then name, then state.
func SortByDistance(cs []model.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.DistanceMiles != b.DistanceMiles {
			return a.DistanceMiles < b.DistanceMiles
		}
		if a.City.Name != b.City.Name {
			return a.City.Name < b.City.Name
		}
		return a.City.State < b.City.State
	})
}
