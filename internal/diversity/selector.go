// Package diversity picks alternate cities so that each selected city comes
// from a distinct freight market area, widening the search radius tier by
// tier until the target is met.
package diversity

import (
	"context"
	"math"
	"slices"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/locator"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// DefaultTiers is the default ascending radius sequence in miles.
var DefaultTiers = []float64{75, 100, 125, 150}

// ScoreFunc scores a candidate for ordering inside a distance bucket.
type ScoreFunc func(c model.Candidate) float64

// Result is the outcome of one selection.
type Result struct {
	// Selected holds at most one candidate per market area, in the order
	// they were added.
	Selected []model.Candidate `json:"selected"`

	// TiersUsed is the number of tiers queried, 1-based.
	TiersUsed int `json:"tiers_used"`

	// Shortfall is Target minus len(Selected), never negative.
	Shortfall int `json:"shortfall"`

	Target int `json:"target"`

	// MaxRadius is the radius of the last tier queried.
	MaxRadius float64 `json:"max_radius_miles"`
}

// Satisfied reports whether the target was met.
func (r Result) Satisfied() bool { return r.Shortfall == 0 }

// Markets returns the selected market-area codes in order.
func (r Result) Markets() []string {
	out := make([]string, len(r.Selected))
	for i, c := range r.Selected {
		out[i] = c.City.KMACode
	}
	return out
}

// Selector runs tiered diversity selection against a Finder.
type Selector struct {
	finder      locator.Finder
	score       ScoreFunc
	bucketMiles float64
}

// Option configures a Selector.
type Option func(*Selector)

// WithScore orders candidates that share a distance bucket by descending
// score. It never changes which market areas are eligible.
func WithScore(fn ScoreFunc) Option {
	return func(s *Selector) { s.score = fn }
}

// WithBucketMiles sets the width of a distance bucket. 0 means only exact
// distance ties are reordered by score.
func WithBucketMiles(miles float64) Option {
	return func(s *Selector) {
		if miles > 0 {
			s.bucketMiles = miles
		}
	}
}

// NewSelector creates a Selector.
func NewSelector(f locator.Finder, opts ...Option) *Selector {
	s := &Selector{finder: f}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeTiers returns tiers sorted ascending with duplicates removed.
// Non-positive or non-finite tiers are rejected; an empty list yields
// DefaultTiers.
func NormalizeTiers(tiers []float64) ([]float64, error) {
	if len(tiers) == 0 {
		return slices.Clone(DefaultTiers), nil
	}
	out := make([]float64, 0, len(tiers))
	for _, t := range tiers {
		if !(t > 0) || math.IsInf(t, 0) {
			return nil, eris.Wrapf(model.ErrInvalidInput, "diversity: radius tier must be > 0, got %v", t)
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Select picks up to target candidates around center, one per market area,
// never from baseKMA. Tiers are searched smallest first and the search stops
// once target is met.
//
// If a store call fails at some tier the result accumulated from earlier
// tiers is returned together with the error so the caller can decide whether
// a partial selection is acceptable.
func (s *Selector) Select(ctx context.Context, center model.Point, baseKMA string, target int, tiers []float64) (Result, error) {
	if target <= 0 {
		return Result{}, eris.Wrapf(model.ErrInvalidInput, "diversity: target must be > 0, got %d", target)
	}
	tiers, err := NormalizeTiers(tiers)
	if err != nil {
		return Result{}, err
	}

	res := Result{Target: target, Shortfall: target}
	seen := make(map[string]bool, target)
	if baseKMA != "" {
		seen[baseKMA] = true
	}

	for i, radius := range tiers {
		cands, err := s.finder.FindWithinRadius(ctx, center, radius, baseKMA)
		if err != nil {
			return res, eris.Wrapf(err, "diversity: tier %d (%.0f mi)", i+1, radius)
		}
		res.TiersUsed = i + 1
		res.MaxRadius = radius

		added := 0
		for _, rep := range s.representatives(cands, seen) {
			if len(res.Selected) == target {
				break
			}
			seen[rep.City.KMACode] = true
			res.Selected = append(res.Selected, rep)
			added++
		}
		res.Shortfall = target - len(res.Selected)

		zap.L().Debug("diversity: tier searched",
			zap.Int("tier", i+1),
			zap.Float64("radius_miles", radius),
			zap.Int("candidates", len(cands)),
			zap.Int("added", added),
			zap.Int("selected", len(res.Selected)),
		)
		if res.Shortfall == 0 {
			break
		}
	}
	return res, nil
}

// representatives picks the best candidate of every market area not yet in
// seen and returns them closest first.
func (s *Selector) representatives(cands []model.Candidate, seen map[string]bool) []model.Candidate {
	best := make(map[string]model.Candidate)
	for _, c := range cands {
		code := c.City.KMACode
		if code == "" || seen[code] {
			continue
		}
		if s.score != nil {
			c.Score = s.score(c)
		}
		if cur, ok := best[code]; !ok || s.less(c, cur) {
			best[code] = c
		}
	}

	reps := make([]model.Candidate, 0, len(best))
	for _, c := range best {
		reps = append(reps, c)
	}
	sort.Slice(reps, func(i, j int) bool { return s.less(reps[i], reps[j]) })
	return reps
}

// less is the selection order: distance bucket asc, score desc, distance
// asc, name asc, then state and market code.
func (s *Selector) less(a, b model.Candidate) bool {
	if ba, bb := s.bucket(a.DistanceMiles), s.bucket(b.DistanceMiles); ba != bb {
		return ba < bb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.DistanceMiles != b.DistanceMiles {
		return a.DistanceMiles < b.DistanceMiles
	}
	if a.City.Name != b.City.Name {
		return a.City.Name < b.City.Name
	}
	if a.City.State != b.City.State {
		return a.City.State < b.City.State
	}
	return a.City.KMACode < b.City.KMACode
}

func (s *Selector) bucket(d float64) float64 {
	if s.bucketMiles <= 0 {
		return d
	}
	return math.Floor(d / s.bucketMiles)
}
