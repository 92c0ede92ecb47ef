package locator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// Memo de-duplicates identical radius queries within one pairing run. It is
// safe for concurrent use; failed lookups are not remembered.
type Memo struct {
	next Finder

	mu      sync.Mutex
	entries map[string][]model.Candidate
	hits    int
	misses  int
}

// NewMemo wraps next. A Memo must not outlive the run that created it.
func NewMemo(next Finder) *Memo {
	return &Memo{next: next, entries: make(map[string][]model.Candidate)}
}

// FindWithinRadius implements Finder.
func (m *Memo) FindWithinRadius(ctx context.Context, center model.Point, radiusMiles float64, excludeKMA string) ([]model.Candidate, error) {
	key := fmt.Sprintf("%.6f|%.6f|%g|%s", center.Lat, center.Lon, radiusMiles, excludeKMA)

	m.mu.Lock()
	if cs, ok := m.entries[key]; ok {
		m.hits++
		m.mu.Unlock()
		return clone(cs), nil
	}
	m.misses++
	m.mu.Unlock()

	cs, err := m.next.FindWithinRadius(ctx, center, radiusMiles, excludeKMA)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[key] = cs
	m.mu.Unlock()
	return clone(cs), nil
}

// Stats returns the hit and miss counts.
func (m *Memo) Stats() (hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

func clone(cs []model.Candidate) []model.Candidate {
	out := make([]model.Candidate, len(cs))
	copy(out, cs)
	return out
}
