// Package indicators fetches and caches regional economic indicators used to
// nudge candidate scores. Scoring never performs this I/O itself; the engine
// resolves a Snapshot once per run and hands it to the scorer.
package indicators

import (
	"context"
	"strings"
	"time"
)

// Snapshot maps region codes to a normalized index. 0 is neutral; positive
// values mark regions with above-trend freight demand.
type Snapshot struct {
	AsOf   time.Time          `json:"as_of"`
	States map[string]float64 `json:"states"`
}

// Index returns the value for state. A miss reports false.
func (s Snapshot) Index(state string) (float64, bool) {
	if s.States == nil {
		return 0, false
	}
	v, ok := s.States[strings.ToUpper(strings.TrimSpace(state))]
	return v, ok
}

// Empty reports whether the snapshot carries no values.
func (s Snapshot) Empty() bool { return len(s.States) == 0 }

// Source produces indicator snapshots.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context) (Snapshot, error) { return f(ctx) }
