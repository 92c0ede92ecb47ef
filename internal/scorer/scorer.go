// Package scorer ranks candidate cities by freight attractiveness. Scores are
// advisory: they only reorder candidates the diversity selector already
// treats as equally close, and any lookup miss scores 0.
package scorer

import (
	"strings"

	"github.com/rapidroutes/lane-engine/internal/indicators"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// Weights scale each score component.
type Weights struct {
	Equipment float64
	Corridor  float64
	KMA       float64
	Indicator float64
}

// Scorer is an immutable, indexed view of Tables. It performs no I/O.
type Scorer struct {
	weights   Weights
	equipment map[string]map[string]bool
	corridors map[string][]string // state -> corridor names
	kmaBonus  map[string]float64
	snapshot  indicators.Snapshot
}

// New indexes t for scoring.
func New(t Tables, w Weights) *Scorer {
	s := &Scorer{
		weights:   w,
		equipment: make(map[string]map[string]bool, len(t.EquipmentStates)),
		corridors: make(map[string][]string),
		kmaBonus:  make(map[string]float64, len(t.KMABonus)),
	}
	for code, states := range t.EquipmentStates {
		set := make(map[string]bool, len(states))
		for _, st := range states {
			set[normState(st)] = true
		}
		s.equipment[strings.ToUpper(strings.TrimSpace(code))] = set
	}
	for _, c := range t.Corridors {
		for _, st := range c.States {
			key := normState(st)
			s.corridors[key] = append(s.corridors[key], c.Name)
		}
	}
	for code, v := range t.KMABonus {
		s.kmaBonus[strings.TrimSpace(code)] = v
	}
	return s
}

// WithSnapshot returns a copy of s that also applies snap.
func (s *Scorer) WithSnapshot(snap indicators.Snapshot) *Scorer {
	cp := *s
	cp.snapshot = snap
	return &cp
}

// Score rates candidate as an alternate for base under equipment.
func (s *Scorer) Score(candidate model.Candidate, base model.City, equipment string) float64 {
	state := normState(candidate.City.State)

	var score float64
	if s.equipmentFits(equipment, state) {
		score += s.weights.Equipment
	}
	if s.sharesCorridor(normState(base.State), state) {
		score += s.weights.Corridor
	}
	score += s.weights.KMA * s.kmaBonus[candidate.City.KMACode]
	if v, ok := s.snapshot.Index(state); ok {
		score += s.weights.Indicator * v
	}
	return score
}

// For binds base and equipment, for use as a selector score function.
func (s *Scorer) For(base model.City, equipment string) func(model.Candidate) float64 {
	return func(c model.Candidate) float64 {
		return s.Score(c, base, equipment)
	}
}

// Corridors returns the corridors that include both states, in table order.
func (s *Scorer) Corridors(a, b string) []string {
	a, b = normState(a), normState(b)
	var out []string
	for _, name := range s.corridors[a] {
		for _, other := range s.corridors[b] {
			if name == other {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// equipmentFits matches the full code first ("FSD"), then its first letter
// ("F").
func (s *Scorer) equipmentFits(equipment, state string) bool {
	code := strings.ToUpper(strings.TrimSpace(equipment))
	if code == "" {
		return false
	}
	if set, ok := s.equipment[code]; ok {
		return set[state]
	}
	return s.equipment[code[:1]][state]
}

func (s *Scorer) sharesCorridor(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return len(s.Corridors(a, b)) > 0
}

func normState(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
