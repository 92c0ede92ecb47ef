package citystore

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidroutes/lane-engine/internal/model"
	"github.com/rapidroutes/lane-engine/internal/resilience"
)

// flakyStore fails the first n calls with a transient error.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (f *flakyStore) WithinRadius(ctx context.Context, q Query) ([]model.City, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, eris.Wrap(model.ErrStoreUnavailable, "flaky")
	}
	return f.Store.WithinRadius(ctx, q)
}

func (f *flakyStore) FindCity(ctx context.Context, name, state string) (*model.City, error) {
	f.calls++
	return f.Store.FindCity(ctx, name, state)
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetry_RecoversFromTransient(t *testing.T) {
	inner := &flakyStore{Store: NewMemoryStore(fixtureCities()...), failures: 2}
	s := WithRetry(inner, fastPolicy())

	got, err := s.WithinRadius(context.Background(), Query{Center: dallas, RadiusMiles: 75})
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	inner := &flakyStore{Store: NewMemoryStore(), failures: 10}
	s := WithRetry(inner, fastPolicy())

	_, err := s.WithinRadius(context.Background(), Query{Center: dallas, RadiusMiles: 75})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrStoreUnavailable))
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_NotFoundNotRetried(t *testing.T) {
	inner := &flakyStore{Store: NewMemoryStore()}
	s := WithRetry(inner, fastPolicy())

	_, err := s.FindCity(context.Background(), "Nowhere", "TX")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrCityNotFound))
	assert.Equal(t, 1, inner.calls)
}
