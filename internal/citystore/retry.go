package citystore

import (
	"context"

	"github.com/rapidroutes/lane-engine/internal/model"
	"github.com/rapidroutes/lane-engine/internal/resilience"
)

// retryingStore applies a caller-supplied retry policy to every call.
type retryingStore struct {
	next   Store
	policy resilience.Policy
}

// WithRetry wraps s so each query is retried under policy. Missing cities and
// invalid queries are returned immediately.
func WithRetry(s Store, policy resilience.Policy) Store {
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetries("citystore", "query")
	}
	return &retryingStore{next: s, policy: policy}
}

func (r *retryingStore) WithinRadius(ctx context.Context, q Query) ([]model.City, error) {
	return resilience.Retry(ctx, r.policy, func(ctx context.Context) ([]model.City, error) {
		return r.next.WithinRadius(ctx, q)
	})
}

func (r *retryingStore) FindCity(ctx context.Context, name, state string) (*model.City, error) {
	return resilience.Retry(ctx, r.policy, func(ctx context.Context) (*model.City, error) {
		return r.next.FindCity(ctx, name, state)
	})
}
