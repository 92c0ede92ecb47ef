package citystore

import (
	"strings"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// cityColumns is the select list shared by every backend; cityRow scans it.
const cityColumns = `name, state, zip, latitude, longitude, kma_code, kma_name`

// cityRow mirrors a cities row with every optional column nullable. It is
// converted to model.City once, here, so the rest of the pipeline never sees
// NULLs.
type cityRow struct {
	Name      string
	State     string
	Zip       *string
	Latitude  *float64
	Longitude *float64
	KMACode   *string
	KMAName   *string
}

func (r *cityRow) dest() []any {
	return []any{&r.Name, &r.State, &r.Zip, &r.Latitude, &r.Longitude, &r.KMACode, &r.KMAName}
}

func (r *cityRow) city() model.City {
	c := model.City{
		Name:      strings.TrimSpace(r.Name),
		State:     strings.ToUpper(strings.TrimSpace(r.State)),
		Zip:       deref(r.Zip),
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		KMACode:   deref(r.KMACode),
		KMAName:   deref(r.KMAName),
	}
	return c
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// nullable returns nil for empty strings so they load as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
