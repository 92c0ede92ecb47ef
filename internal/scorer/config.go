package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/rapidroutes/lane-engine/internal/config"
)

// DefaultScorerConfig returns the default weights.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		Enabled:         true,
		EquipmentWeight: 10,
		CorridorWeight:  15,
		KMAWeight:       5,
		IndicatorWeight: 10,
	}
}

// WeightsFromConfig extracts Weights from c.
func WeightsFromConfig(c config.ScorerConfig) Weights {
	return Weights{
		Equipment: c.EquipmentWeight,
		Corridor:  c.CorridorWeight,
		KMA:       c.KMAWeight,
		Indicator: c.IndicatorWeight,
	}
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	weights := []struct {
		name string
		w    float64
	}{
		{"equipment_weight", c.EquipmentWeight},
		{"corridor_weight", c.CorridorWeight},
		{"kma_weight", c.KMAWeight},
		{"indicator_weight", c.IndicatorWeight},
	}
	for _, w := range weights {
		if w.w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}

	if c.Enabled && c.EquipmentWeight+c.CorridorWeight+c.KMAWeight+c.IndicatorWeight <= 0 {
		errs = append(errs, "weight sum must be > 0 when scoring is enabled")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FromConfig builds a Scorer from c, loading tables from c.TablesPath when
// set. It returns nil when scoring is disabled.
func FromConfig(c config.ScorerConfig) (*Scorer, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := ValidateConfig(c); err != nil {
		return nil, err
	}
	tables := DefaultTables()
	if c.TablesPath != "" {
		var err error
		if tables, err = LoadTables(c.TablesPath); err != nil {
			return nil, err
		}
	}
	return New(tables, WeightsFromConfig(c)), nil
}
