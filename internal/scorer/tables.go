package scorer

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tables are the static regional lookups behind the freight score.
type Tables struct {
	// EquipmentStates lists, per equipment code, the states where that
	// equipment finds freight easily (produce states for reefer, industrial
	// states for flatbed, distribution hubs for van).
	EquipmentStates map[string][]string `yaml:"equipment_states"`

	// Corridors are named groups of states along a major freight route.
	Corridors []Corridor `yaml:"corridors"`

	// KMABonus is an optional per-market adjustment.
	KMABonus map[string]float64 `yaml:"kma_bonus"`
}

// Corridor is a named set of states.
type Corridor struct {
	Name   string   `yaml:"name"`
	States []string `yaml:"states"`
}

// DefaultTables returns the built-in lookup tables.
func DefaultTables() Tables {
	return Tables{
		EquipmentStates: map[string][]string{
			"R": {"CA", "AZ", "FL", "GA", "TX", "WA", "ID", "MI", "NC"},
			"F": {"TX", "LA", "AL", "PA", "OH", "IN", "MI", "IL", "GA"},
			"V": {"IL", "GA", "TX", "CA", "NJ", "PA", "OH", "TN", "IN"},
		},
		Corridors: []Corridor{
			{Name: "I-95 Northeast", States: []string{"ME", "NH", "MA", "RI", "CT", "NY", "NJ", "PA", "DE", "MD", "VA"}},
			{Name: "I-95 Southeast", States: []string{"VA", "NC", "SC", "GA", "FL"}},
			{Name: "I-10 Sunbelt", States: []string{"CA", "AZ", "NM", "TX", "LA", "MS", "AL", "FL"}},
			{Name: "I-35 NAFTA", States: []string{"TX", "OK", "KS", "MO", "IA", "MN"}},
			{Name: "I-80 Transcontinental", States: []string{"CA", "NV", "UT", "WY", "NE", "IA", "IL", "IN", "OH", "PA", "NJ"}},
			{Name: "I-5 West Coast", States: []string{"CA", "OR", "WA"}},
		},
	}
}

// LoadTables reads tables from a YAML file with a top-level "scorer" key.
// Sections absent from the file keep their defaults.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, eris.Wrapf(err, "scorer: read tables %s", path)
	}

	var wrapper struct {
		Scorer Tables `yaml:"scorer"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Tables{}, eris.Wrap(err, "scorer: parse tables")
	}

	t := wrapper.Scorer
	def := DefaultTables()
	if t.EquipmentStates == nil {
		t.EquipmentStates = def.EquipmentStates
	}
	if t.Corridors == nil {
		t.Corridors = def.Corridors
	}
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// Validate rejects empty corridor names and malformed state codes.
func (t Tables) Validate() error {
	var errs []string
	for code, states := range t.EquipmentStates {
		if strings.TrimSpace(code) == "" {
			errs = append(errs, "equipment code must not be empty")
		}
		for _, s := range states {
			if !validState(s) {
				errs = append(errs, fmt.Sprintf("equipment %s: bad state %q", code, s))
			}
		}
	}
	for i, c := range t.Corridors {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Sprintf("corridor %d: name is required", i))
		}
		for _, s := range c.States {
			if !validState(s) {
				errs = append(errs, fmt.Sprintf("corridor %s: bad state %q", c.Name, s))
			}
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("scorer: tables validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validState(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
