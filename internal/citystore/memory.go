package citystore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// MemoryStore is an in-process Store backed by a slice, used for CSV-only
// offline runs and tests. It applies the same bounding-box semantics as the
// SQL stores.
type MemoryStore struct {
	mu     sync.RWMutex
	cities []model.City
}

// NewMemoryStore creates a MemoryStore holding cities.
func NewMemoryStore(cities ...model.City) *MemoryStore {
	s := &MemoryStore{}
	s.cities = append(s.cities, cities...)
	return s
}

// Migrate implements Loader. It is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Insert implements Loader.
func (s *MemoryStore) Insert(_ context.Context, cities []model.City) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cities = append(s.cities, cities...)
	return int64(len(cities)), nil
}

// WithinRadius implements Store.
func (s *MemoryStore) WithinRadius(ctx context.Context, q Query) ([]model.City, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: within radius")
	}
	box, lonScale := q.boxArgs()

	type scored struct {
		city model.City
		d2   float64
	}

	s.mu.RLock()
	var hits []scored
	for _, c := range s.cities {
		p, ok := c.Point()
		if !ok || c.KMACode == "" || !box.Contains(p) {
			continue
		}
		if q.ExcludeKMA != "" && c.KMACode == q.ExcludeKMA {
			continue
		}
		dLat := p.Lat - q.Center.Lat
		dLon := (p.Lon - q.Center.Lon) * lonScale
		hits = append(hits, scored{city: c, d2: dLat*dLat + dLon*dLon})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].d2 != hits[j].d2 {
			return hits[i].d2 < hits[j].d2
		}
		if hits[i].city.Name != hits[j].city.Name {
			return hits[i].city.Name < hits[j].city.Name
		}
		return hits[i].city.State < hits[j].city.State
	})

	limit := q.perMarket()
	perKMA := make(map[string]int)
	out := make([]model.City, 0, len(hits))
	for _, h := range hits {
		if perKMA[h.city.KMACode] == limit {
			continue
		}
		perKMA[h.city.KMACode]++
		out = append(out, h.city)
	}
	return out, nil
}

// FindCity implements Store.
func (s *MemoryStore) FindCity(_ context.Context, name, state string) (*model.City, error) {
	want := model.City{Name: name, State: state}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.City
	for i := range s.cities {
		c := s.cities[i]
		if !c.SameCity(want) {
			continue
		}
		if best == nil || rank(c) < rank(*best) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return nil, eris.Wrapf(model.ErrCityNotFound, "memory: %s, %s", strings.TrimSpace(name), state)
	}
	return best, nil
}

// rank orders duplicate name/state rows the way the SQL stores do.
func rank(c model.City) int {
	r := 0
	if c.KMACode == "" {
		r += 2
	}
	if !c.HasCoordinates() {
		r++
	}
	return r
}
