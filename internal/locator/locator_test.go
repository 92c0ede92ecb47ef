package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidroutes/lane-engine/internal/citystore"
	"github.com/rapidroutes/lane-engine/internal/model"
)

var dallas = model.Point{Lat: 32.7767, Lon: -96.7970}

func city(name, state, kma string, lat, lon float64) model.City {
	return model.City{
		Name:      name,
		State:     state,
		KMACode:   kma,
		Latitude:  model.Float64(lat),
		Longitude: model.Float64(lon),
	}
}

func texas() *citystore.MemoryStore {
	return citystore.NewMemoryStore(
		city("Dallas", "TX", "TX_DAL", 32.7767, -96.7970),
		city("Irving", "TX", "TX_DAL", 32.8140, -96.9489),
		city("Fort Worth", "TX", "TX_FTW", 32.7555, -97.3308),
		city("Denton", "TX", "TX_DEN", 33.2148, -97.1331),
		city("Tyler", "TX", "TX_TYL", 32.3513, -95.3011),
		city("Houston", "TX", "TX_HOU", 29.7604, -95.3698),
		model.City{Name: "Mesquite", State: "TX", Latitude: model.Float64(32.7668), Longitude: model.Float64(-96.5992)},
	)
}

// stubStore returns canned rows or an error without any bounding-box filter.
type stubStore struct {
	cities []model.City
	err    error
	delay  time.Duration
	calls  int
}

func (s *stubStore) WithinRadius(ctx context.Context, _ citystore.Query) ([]model.City, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.cities, s.err
}

func (s *stubStore) FindCity(context.Context, string, string) (*model.City, error) {
	return nil, model.ErrCityNotFound
}

func TestFindWithinRadius_SortedAndBounded(t *testing.T) {
	t.Parallel()
	l := New(texas())

	got, err := l.FindWithinRadius(context.Background(), dallas, 75, "")
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.City.Name
		assert.LessOrEqual(t, c.DistanceMiles, 75.0)
	}
	assert.Equal(t, []string{"Dallas", "Irving", "Fort Worth", "Denton"}, names)
	assert.Zero(t, got[0].DistanceMiles)
}

func TestFindWithinRadius_ExcludesKMA(t *testing.T) {
	t.Parallel()
	l := New(texas())

	got, err := l.FindWithinRadius(context.Background(), dallas, 150, "TX_DAL")
	require.NoError(t, err)
	for _, c := range got {
		assert.NotEqual(t, "TX_DAL", c.City.KMACode)
	}
	assert.Len(t, got, 3) // Fort Worth, Denton, Tyler
}

func TestFindWithinRadius_DropsBoxCorners(t *testing.T) {
	t.Parallel()
	// Both cities fall inside the bounding box of a 100 mile radius; only one
	// is inside the circle.
	s := &stubStore{cities: []model.City{
		city("Corner", "XX", "K1", 1.2, 1.2),
		city("Near", "XX", "K2", 0.5, 0.5),
	}}
	l := New(s)

	got, err := l.FindWithinRadius(context.Background(), model.Point{}, 100, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Near", got[0].City.Name)
}

func TestFindWithinRadius_DropsIneligible(t *testing.T) {
	t.Parallel()
	s := &stubStore{cities: []model.City{
		{Name: "NoCoords", State: "TX", KMACode: "K1"},
		city("NoKMA", "TX", "", 32.78, -96.80),
		city("Ok", "TX", "K2", 32.78, -96.80),
	}}

	got, err := New(s).FindWithinRadius(context.Background(), dallas, 10, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ok", got[0].City.Name)
}

func TestFindWithinRadius_TieBreakByName(t *testing.T) {
	t.Parallel()
	s := &stubStore{cities: []model.City{
		city("Zeta", "TX", "K1", 32.9, -96.8),
		city("Alpha", "TX", "K2", 32.9, -96.8),
	}}

	got, err := New(s).FindWithinRadius(context.Background(), dallas, 50, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alpha", got[0].City.Name)
	assert.Equal(t, "Zeta", got[1].City.Name)
}

func TestFindWithinRadius_InvalidInput(t *testing.T) {
	t.Parallel()
	l := New(texas())

	tests := []struct {
		name   string
		center model.Point
		radius float64
	}{
		{"zero radius", dallas, 0},
		{"negative radius", dallas, -5},
		{"latitude out of range", model.Point{Lat: 95, Lon: 0}, 50},
		{"longitude out of range", model.Point{Lat: 0, Lon: -200}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.FindWithinRadius(context.Background(), tt.center, tt.radius, "")
			require.Error(t, err)
			assert.True(t, eris.Is(err, model.ErrInvalidInput))
		})
	}
}

func TestFindWithinRadius_StoreFailure(t *testing.T) {
	t.Parallel()
	s := &stubStore{err: errors.New("dial tcp: connection refused")}

	_, err := New(s).FindWithinRadius(context.Background(), dallas, 75, "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrStoreUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, s.calls, "locator must not retry")
}

func TestFindWithinRadius_Timeout(t *testing.T) {
	t.Parallel()
	s := &stubStore{delay: time.Second}

	var observed error
	l := New(s, WithStoreTimeout(10*time.Millisecond), WithObserver(func(_ time.Duration, err error) {
		observed = err
	}))

	_, err := l.FindWithinRadius(context.Background(), dallas, 75, "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrStoreUnavailable))
	assert.Error(t, observed)
}

func TestFindWithinRadius_CallerCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(texas()).FindWithinRadius(ctx, dallas, 75, "")
	require.Error(t, err)
	assert.False(t, eris.Is(err, model.ErrStoreUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMemo_DeduplicatesQueries(t *testing.T) {
	t.Parallel()
	s := &stubStore{cities: []model.City{city("Ok", "TX", "K2", 32.78, -96.80)}}
	m := NewMemo(New(s))

	for range 3 {
		got, err := m.FindWithinRadius(context.Background(), dallas, 10, "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		got[0].Score = 99 // callers may mutate their copy
	}
	_, err := m.FindWithinRadius(context.Background(), dallas, 20, "")
	require.NoError(t, err)

	hits, misses := m.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 2, misses)
	assert.Equal(t, 2, s.calls)

	got, err := m.FindWithinRadius(context.Background(), dallas, 10, "")
	require.NoError(t, err)
	assert.Zero(t, got[0].Score)
}

func TestMemo_DoesNotCacheErrors(t *testing.T) {
	t.Parallel()
	s := &stubStore{err: errors.New("boom")}
	m := NewMemo(New(s))

	_, err := m.FindWithinRadius(context.Background(), dallas, 10, "")
	require.Error(t, err)
	_, err = m.FindWithinRadius(context.Background(), dallas, 10, "")
	require.Error(t, err)
	assert.Equal(t, 2, s.calls)
}
