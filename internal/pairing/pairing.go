// Package pairing binds diversity-selected pickup and delivery cities into
// lane pairs.
package pairing

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// DefaultMaxPairs caps the pairs produced per lane.
const DefaultMaxPairs = 5

type options struct {
	maxPairs int
}

// Option configures Assemble.
type Option func(*options)

// WithMaxPairs caps the number of pairs. Values <= 0 remove the cap.
func WithMaxPairs(n int) Option {
	return func(o *options) { o.maxPairs = n }
}

// Rank sorts candidates by distance ascending, score descending, then name
// and state.
func Rank(cs []model.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.DistanceMiles != b.DistanceMiles {
			return a.DistanceMiles < b.DistanceMiles
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.City.Name != b.City.Name {
			return a.City.Name < b.City.Name
		}
		return a.City.State < b.City.State
	})
}

// Assemble ranks each side independently and pairs pickup i with the first
// unused delivery, in rank order, that is a different city and does not
// repeat an (origin market, destination market) combination. With no
// conflicts this is plain index alignment.
//
// When fewer than minPairs can be built the pairs that were built are
// returned along with a *model.PairShortfallError. The inputs are not
// modified.
func Assemble(pickups, deliveries []model.Candidate, equipment string, minPairs int, opts ...Option) ([]model.LanePair, error) {
	if minPairs <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidInput, "pairing: min pairs must be > 0, got %d", minPairs)
	}
	o := options{maxPairs: DefaultMaxPairs}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPairs > 0 && o.maxPairs < minPairs {
		o.maxPairs = minPairs
	}

	p := append([]model.Candidate(nil), pickups...)
	d := append([]model.Candidate(nil), deliveries...)
	Rank(p)
	Rank(d)

	used := make([]bool, len(d))
	markets := make(map[string]bool, len(p))
	var pairs []model.LanePair

	for _, origin := range p {
		if o.maxPairs > 0 && len(pairs) == o.maxPairs {
			break
		}
		for j, dest := range d {
			if used[j] {
				continue
			}
			pair, err := model.NewLanePair(origin, dest, equipment)
			if err != nil {
				continue
			}
			if markets[pair.MarketKey()] {
				continue
			}
			markets[pair.MarketKey()] = true
			used[j] = true
			pairs = append(pairs, pair)
			break
		}
	}

	zap.L().Debug("pairing: assembled",
		zap.Int("pickups", len(p)),
		zap.Int("deliveries", len(d)),
		zap.Int("pairs", len(pairs)),
		zap.Int("min_pairs", minPairs),
	)

	if len(pairs) < minPairs {
		return pairs, &model.PairShortfallError{Assembled: len(pairs), Required: minPairs}
	}
	return pairs, nil
}
