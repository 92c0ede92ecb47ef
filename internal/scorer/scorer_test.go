package scorer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidroutes/lane-engine/internal/config"
	"github.com/rapidroutes/lane-engine/internal/indicators"
	"github.com/rapidroutes/lane-engine/internal/model"
)

func cand(state, kma string) model.Candidate {
	return model.Candidate{City: model.City{Name: "X", State: state, KMACode: kma}}
}

var unitWeights = Weights{Equipment: 1, Corridor: 10, KMA: 100, Indicator: 1000}

func TestScore_Components(t *testing.T) {
	t.Parallel()
	tables := Tables{
		EquipmentStates: map[string][]string{"R": {"ca", "FL"}},
		Corridors:       []Corridor{{Name: "I-5", States: []string{"CA", "OR", "WA"}}},
		KMABonus:        map[string]float64{"CA_LAX": 0.5},
	}
	s := New(tables, unitWeights)
	base := model.City{State: "OR"}

	tests := []struct {
		name      string
		cand      model.Candidate
		equipment string
		want      float64
	}{
		{"equipment and corridor", cand("CA", ""), "R", 11},
		{"full code falls back to first letter", cand("CA", ""), "RZ", 11},
		{"kma bonus", cand("CA", "CA_LAX"), "V", 60},
		{"equipment only", cand("FL", ""), "r", 1},
		{"all misses", cand("NV", "NV_REN"), "F", 0},
		{"empty equipment", cand("NV", ""), "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.cand, base, tt.equipment), 1e-9)
		})
	}
}

func TestScore_Indicators(t *testing.T) {
	t.Parallel()
	s := New(Tables{}, unitWeights)
	snap := indicators.Snapshot{States: map[string]float64{"TX": 0.02, "CA": -0.01}}

	assert.Zero(t, s.Score(cand("TX", ""), model.City{}, "V"))

	withSnap := s.WithSnapshot(snap)
	assert.InDelta(t, 20, withSnap.Score(cand("TX", ""), model.City{}, "V"), 1e-9)
	assert.InDelta(t, -10, withSnap.Score(cand("CA", ""), model.City{}, "V"), 1e-9)
	assert.Zero(t, withSnap.Score(cand("NV", ""), model.City{}, "V"))

	// The original is unchanged.
	assert.Zero(t, s.Score(cand("TX", ""), model.City{}, "V"))
}

func TestScore_Pure(t *testing.T) {
	t.Parallel()
	s := New(DefaultTables(), WeightsFromConfig(DefaultScorerConfig()))
	c := cand("GA", "GA_ATL")
	base := model.City{State: "FL"}
	first := s.Score(c, base, "R")
	for range 5 {
		assert.Equal(t, first, s.Score(c, base, "R"))
	}
	assert.Greater(t, first, 0.0)
}

func TestFor(t *testing.T) {
	t.Parallel()
	s := New(DefaultTables(), WeightsFromConfig(DefaultScorerConfig()))
	fn := s.For(model.City{State: "NJ"}, "V")
	assert.Equal(t, s.Score(cand("PA", ""), model.City{State: "NJ"}, "V"), fn(cand("PA", "")))
}

func TestCorridors(t *testing.T) {
	t.Parallel()
	s := New(DefaultTables(), Weights{})
	assert.Equal(t, []string{"I-95 Northeast", "I-80 Transcontinental"}, s.Corridors("nj", "PA"))
	assert.Empty(t, s.Corridors("WA", "FL"))
}

func TestLoadTables(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scorer:
  corridors:
    - name: Gulf Coast
      states: [TX, LA, MS]
  kma_bonus:
    TX_HOU: 2
`), 0o600))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	require.Len(t, tables.Corridors, 1)
	assert.Equal(t, "Gulf Coast", tables.Corridors[0].Name)
	assert.Equal(t, 2.0, tables.KMABonus["TX_HOU"])
	assert.Equal(t, DefaultTables().EquipmentStates, tables.EquipmentStates)
}

func TestLoadTables_Invalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scorer:\n  corridors:\n    - states: [Texas]\n"), 0o600))
	_, err := LoadTables(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), `bad state "Texas"`)

	_, err = LoadTables(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("scorer: [unterminated"), 0o600))
	_, err = LoadTables(garbage)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateConfig(DefaultScorerConfig()))

	c := DefaultScorerConfig()
	c.CorridorWeight = -1
	err := ValidateConfig(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corridor_weight must be >= 0")

	c = config.ScorerConfig{Enabled: true}
	assert.Error(t, ValidateConfig(c))

	c.Enabled = false
	assert.NoError(t, ValidateConfig(c))
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	s, err := FromConfig(config.ScorerConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = FromConfig(DefaultScorerConfig())
	require.NoError(t, err)
	require.NotNil(t, s)

	c := DefaultScorerConfig()
	c.TablesPath = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = FromConfig(c)
	assert.Error(t, err)
}
