package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidroutes/lane-engine/internal/citystore"
	"github.com/rapidroutes/lane-engine/internal/export"
	"github.com/rapidroutes/lane-engine/internal/indicators"
	"github.com/rapidroutes/lane-engine/internal/model"
	"github.com/rapidroutes/lane-engine/internal/scorer"
)

func city(name, state, kma string, lat, lon float64) model.City {
	return model.City{
		Name:      name,
		State:     state,
		KMACode:   kma,
		Latitude:  model.Float64(lat),
		Longitude: model.Float64(lon),
	}
}

// world builds an origin and destination, each surrounded by n distinct
// market areas spaced roughly ten miles apart, plus one same-market
// neighbour that must never be selected.
func world(n int) []model.City {
	cities := []model.City{
		city("Springfield", "IL", "IL_SPI", 39.80, -89.65),
		city("Chatham", "IL", "IL_SPI", 39.67, -89.70),
		city("Columbus", "OH", "OH_CMH", 39.96, -83.00),
		city("Dublin", "OH", "OH_CMH", 40.10, -83.11),
	}
	for i := 1; i <= n; i++ {
		cities = append(cities,
			city(fmt.Sprintf("Illinois Town %d", i), "IL", fmt.Sprintf("IL_K%d", i), 39.80+0.15*float64(i), -89.65),
			city(fmt.Sprintf("Ohio Town %d", i), "OH", fmt.Sprintf("OH_K%d", i), 39.96-0.15*float64(i), -83.00),
		)
	}
	return cities
}

func testLane() model.Lane {
	return model.Lane{
		OriginCity:     "Springfield",
		OriginState:    "IL",
		DestCity:       "columbus",
		DestState:      "oh",
		Equipment:      "V",
		Weight:         40000,
		PickupEarliest: time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
	}
}

func newEngine(t *testing.T, store citystore.Store, mutate func(*Options), opts ...Option) *Engine {
	t.Helper()
	o := DefaultOptions()
	if mutate != nil {
		mutate(&o)
	}
	e, err := New(store, o, opts...)
	require.NoError(t, err)
	return e
}

func TestRun_MinimumSatisfied(t *testing.T) {
	t.Parallel()
	e := newEngine(t, citystore.NewMemoryStore(world(6)...), nil)

	res, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Pickup.TiersUsed)
	assert.Equal(t, 0, res.Pickup.Shortfall)
	assert.Len(t, res.Pickup.Selected, 5)
	assert.Len(t, res.Pairs, 5)
	require.Len(t, res.Rows, 10)
	assert.True(t, res.Report.Valid)
	assert.Empty(t, res.Warnings)

	for i, r := range res.Rows {
		assert.Equal(t, fmt.Sprintf("RR%05d", i+1), r.Get(export.HeaderReferenceID))
	}

	markets := map[string]bool{}
	for _, p := range res.Pairs {
		assert.NotEqual(t, "IL_SPI", p.Origin.City.KMACode)
		assert.NotEqual(t, "OH_CMH", p.Destination.City.KMACode)
		assert.False(t, markets[p.MarketKey()])
		markets[p.MarketKey()] = true
		assert.LessOrEqual(t, p.Origin.DistanceMiles, 75.0)
	}
	assert.Equal(t, "Illinois Town 1", res.Pairs[0].Origin.City.Name)
	assert.Equal(t, "Ohio Town 1", res.Pairs[0].Destination.City.Name)
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()
	e := newEngine(t, citystore.NewMemoryStore(world(8)...), nil)

	render := func() []byte {
		res, err := e.Run(context.Background(), Request{Lane: testLane()})
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, export.WriteCSV(&buf, res.Rows))
		return buf.Bytes()
	}
	first := render()
	for range 3 {
		assert.Equal(t, first, render())
	}
}

func TestRun_TierExpansion(t *testing.T) {
	t.Parallel()
	cities := world(3)
	// Two more Illinois markets between 75 and 100 miles north.
	cities = append(cities,
		city("Far North A", "IL", "IL_FA", 40.95, -89.65),
		city("Far North B", "IL", "IL_FB", 41.05, -89.65),
		city("Ohio Extra 1", "OH", "OH_X1", 39.20, -83.00),
		city("Ohio Extra 2", "OH", "OH_X2", 39.10, -83.00),
	)
	e := newEngine(t, citystore.NewMemoryStore(cities...), nil)

	res, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pickup.TiersUsed)
	assert.Len(t, res.Pickup.Selected, 5)
}

func TestRun_InsufficientDiversity(t *testing.T) {
	t.Parallel()
	e := newEngine(t, citystore.NewMemoryStore(world(2)...), nil)

	res, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.Error(t, err)

	var ide *model.InsufficientDiversityError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, model.SidePickup, ide.Side)
	assert.Equal(t, 2, ide.Found)
	assert.Equal(t, 5, ide.Target)
	assert.Equal(t, 3, ide.Shortfall())
	assert.Equal(t, 4, ide.TiersUsed)
	assert.Equal(t, "pickup: only 2 of the requested 5 diverse markets found within 150 miles", err.Error())

	require.NotNil(t, res)
	assert.Len(t, res.Pickup.Selected, 2)
	assert.Equal(t, 3, res.Pickup.Shortfall)
	assert.Empty(t, res.Rows)
}

func TestRun_AcceptPartial(t *testing.T) {
	t.Parallel()
	e := newEngine(t, citystore.NewMemoryStore(world(2)...), nil)

	res, err := e.Run(context.Background(), Request{Lane: testLane(), AcceptPartial: true})
	require.NoError(t, err)
	assert.Len(t, res.Pairs, 2)
	assert.Len(t, res.Rows, 4)
	assert.True(t, res.Report.Valid)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "only 2 of the requested 5 diverse markets")
}

func TestRun_CityNotFound(t *testing.T) {
	t.Parallel()
	e := newEngine(t, citystore.NewMemoryStore(world(6)...), nil)
	lane := testLane()
	lane.DestCity = "Atlantis"

	res, err := e.Run(context.Background(), Request{Lane: lane})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, eris.Is(err, model.ErrCityNotFound))
}

func TestRun_InvalidLane(t *testing.T) {
	t.Parallel()
	e := newEngine(t, citystore.NewMemoryStore(), nil)
	_, err := e.Run(context.Background(), Request{Lane: model.Lane{}})
	assert.True(t, eris.Is(err, model.ErrInvalidInput))
}

// failingStore resolves cities but fails radius queries after the first
// `okCalls` calls.
type failingStore struct {
	*citystore.MemoryStore
	okCalls int
	calls   atomic.Int32
}

func (f *failingStore) WithinRadius(ctx context.Context, q citystore.Query) ([]model.City, error) {
	if int(f.calls.Add(1)) > f.okCalls {
		return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
	}
	return f.MemoryStore.WithinRadius(ctx, q)
}

func TestRun_StoreUnavailable(t *testing.T) {
	t.Parallel()
	store := &failingStore{MemoryStore: citystore.NewMemoryStore(world(6)...)}
	e := newEngine(t, store, nil)

	_, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrStoreUnavailable))
}

func TestRun_PairCache(t *testing.T) {
	t.Parallel()
	cache := NewPairCache(10, time.Hour)
	e := newEngine(t, citystore.NewMemoryStore(world(6)...), nil, WithPairCache(cache))

	first, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	lane := testLane()
	lane.OriginCity = "SPRINGFIELD"
	second, err := e.Run(context.Background(), Request{Lane: lane})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Pairs, second.Pairs)
	assert.Len(t, second.Rows, 10)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	// Different equipment is a different fingerprint.
	lane.Equipment = "R"
	third, err := e.Run(context.Background(), Request{Lane: lane})
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestRun_PairCacheFollowsIndicatorRefresh(t *testing.T) {
	t.Parallel()
	sc, err := scorer.FromConfig(scorer.DefaultScorerConfig())
	require.NoError(t, err)

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	fetches := 0
	feed := indicators.NewCache(indicators.SourceFunc(func(context.Context) (indicators.Snapshot, error) {
		fetches++
		return indicators.Snapshot{States: map[string]float64{"IL": float64(fetches)}}, nil
	}), time.Hour, indicators.WithClock(func() time.Time { return now }))

	e := newEngine(t, citystore.NewMemoryStore(world(6)...), nil,
		WithScorer(sc), WithIndicators(feed), WithPairCache(NewPairCache(10, time.Hour)))
	run := func() *Result {
		res, err := e.Run(context.Background(), Request{Lane: testLane()})
		require.NoError(t, err)
		return res
	}

	assert.False(t, run().Cached)
	assert.True(t, run().Cached)

	// A refreshed snapshot is a new generation; the old outcome is not reused.
	now = now.Add(2 * time.Hour)
	assert.False(t, run().Cached)
	assert.Equal(t, 2, fetches)
	assert.True(t, run().Cached)
}

// gatedStore blocks radius queries until gate is closed and counts them.
type gatedStore struct {
	*citystore.MemoryStore
	gate  chan struct{}
	calls atomic.Int32
}

func (g *gatedStore) WithinRadius(ctx context.Context, q citystore.Query) ([]model.City, error) {
	g.calls.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MemoryStore.WithinRadius(ctx, q)
}

func TestRun_SingleFlight(t *testing.T) {
	t.Parallel()

	// Calls made by one uncontended run.
	solo := &gatedStore{MemoryStore: citystore.NewMemoryStore(world(6)...), gate: make(chan struct{})}
	close(solo.gate)
	_, err := newEngine(t, solo, nil).Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)
	want := solo.calls.Load()

	store := &gatedStore{MemoryStore: citystore.NewMemoryStore(world(6)...), gate: make(chan struct{})}
	e := newEngine(t, store, nil, WithPairCache(NewPairCache(10, time.Hour)))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Run(context.Background(), Request{Lane: testLane()})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, want, store.calls.Load())
}

func TestRun_SingleFlight_LeaderCancelled(t *testing.T) {
	t.Parallel()

	solo := &gatedStore{MemoryStore: citystore.NewMemoryStore(world(6)...), gate: make(chan struct{})}
	close(solo.gate)
	_, err := newEngine(t, solo, nil).Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)
	want := solo.calls.Load()

	store := &gatedStore{MemoryStore: citystore.NewMemoryStore(world(6)...), gate: make(chan struct{})}
	e := newEngine(t, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, Request{Lane: testLane()})
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return store.calls.Load() > 0 }, time.Second, time.Millisecond)

	cancel()
	err = <-leaderErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	followerErr := make(chan error, 1)
	go func() {
		res, err := e.Run(context.Background(), Request{Lane: testLane()})
		if err == nil && len(res.Pairs) != 5 {
			err = fmt.Errorf("got %d pairs", len(res.Pairs))
		}
		followerErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.gate)

	assert.NoError(t, <-followerErr)
	assert.Equal(t, want, store.calls.Load())
}

func TestRun_ScorerWithFailingIndicators(t *testing.T) {
	t.Parallel()
	sc, err := scorer.FromConfig(scorer.DefaultScorerConfig())
	require.NoError(t, err)
	feed := indicators.NewCache(indicators.SourceFunc(func(context.Context) (indicators.Snapshot, error) {
		return indicators.Snapshot{}, errors.New("feed down")
	}), time.Hour)

	e := newEngine(t, citystore.NewMemoryStore(world(6)...), nil, WithScorer(sc), WithIndicators(feed))
	res, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)
	assert.Len(t, res.Pairs, 5)
	assert.Contains(t, res.Warnings, "economic indicators unavailable; scores exclude them")
}

func TestRun_ScoreReordersWithinBucket(t *testing.T) {
	t.Parallel()
	cities := world(5)
	// A second city in IL_K1, slightly farther than Illinois Town 1 but in
	// the same 25 mile bucket and in a higher scoring state.
	cities = append(cities, city("Bonus Town", "IN", "IL_K1", 39.96, -89.65))

	sc := scorer.New(scorer.Tables{}, scorer.Weights{Indicator: 1})
	snap := indicators.Snapshot{States: map[string]float64{"IL": 1, "IN": 2}}
	feed := indicators.NewCache(indicators.SourceFunc(func(context.Context) (indicators.Snapshot, error) {
		return snap, nil
	}), time.Hour)

	e := newEngine(t, citystore.NewMemoryStore(cities...), func(o *Options) { o.BucketMiles = 25 },
		WithScorer(sc), WithIndicators(feed))
	res, err := e.Run(context.Background(), Request{Lane: testLane()})
	require.NoError(t, err)

	first := res.Pickup.Selected[0]
	assert.Equal(t, "Bonus Town", first.City.Name)
	assert.Equal(t, 2.0, first.Score)
	assert.Equal(t, "IL_K2", res.Pickup.Selected[1].City.KMACode)
	assert.Empty(t, res.Warnings)
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()
	for name, mutate := range map[string]func(*Options){
		"target":  func(o *Options) { o.TargetCount = 0 },
		"min":     func(o *Options) { o.MinPairs = -1 },
		"methods": func(o *Options) { o.ContactMethods = nil },
		"tiers":   func(o *Options) { o.Tiers = []float64{75, 0} },
	} {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			mutate(&o)
			_, err := New(citystore.NewMemoryStore(), o)
			assert.True(t, eris.Is(err, model.ErrInvalidInput))
		})
	}
}

func TestOutcomeLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", outcomeLabel(&Result{}, nil))
	assert.Equal(t, "partial", outcomeLabel(&Result{Warnings: []string{"x"}}, nil))
	assert.Equal(t, "insufficient_diversity", outcomeLabel(nil, &model.InsufficientDiversityError{}))
	assert.Equal(t, "pair_shortfall", outcomeLabel(nil, eris.Wrap(&model.PairShortfallError{}, "engine")))
	assert.Equal(t, "verification_failed", outcomeLabel(nil, &model.VerificationFailureError{}))
	assert.Equal(t, "store_unavailable", outcomeLabel(nil, eris.Wrap(model.ErrStoreUnavailable, "x")))
	assert.Equal(t, "city_not_found", outcomeLabel(nil, model.ErrCityNotFound))
	assert.Equal(t, "error", outcomeLabel(nil, errors.New("boom")))
}
