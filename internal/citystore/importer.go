package citystore

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// importBatchSize bounds the rows sent per Insert call.
const importBatchSize = 5000

// headerAliases maps accepted CSV header spellings to canonical columns.
var headerAliases = map[string]string{
	"name":              "name",
	"city":              "name",
	"state":             "state",
	"state_or_province": "state",
	"zip":               "zip",
	"zip_code":          "zip",
	"postal_code":       "zip",
	"latitude":          "latitude",
	"lat":               "latitude",
	"longitude":         "longitude",
	"lon":               "longitude",
	"lng":               "longitude",
	"kma_code":          "kma_code",
	"kma":               "kma_code",
	"kma_name":          "kma_name",
}

// ParseCSV reads cities from a CSV with a header row. name and state columns
// are required; blank coordinates or KMA codes load as NULL.
func ParseCSV(r io.Reader) ([]model.City, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "citystore: read csv header")
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canon, ok := headerAliases[key]; ok {
			idx[canon] = i
		}
	}
	for _, required := range []string{"name", "state"} {
		if _, ok := idx[required]; !ok {
			return nil, eris.Errorf("citystore: csv missing %q column", required)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var cities []model.City
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "citystore: read csv line %d", line)
		}

		c := model.City{
			Name:    field(rec, "name"),
			State:   strings.ToUpper(field(rec, "state")),
			Zip:     field(rec, "zip"),
			KMACode: field(rec, "kma_code"),
			KMAName: field(rec, "kma_name"),
		}
		if c.Name == "" || c.State == "" {
			zap.L().Debug("citystore: skipping csv row without name/state", zap.Int("line", line))
			continue
		}
		if c.Latitude, err = parseCoord(field(rec, "latitude")); err != nil {
			return nil, eris.Wrapf(err, "citystore: line %d latitude", line)
		}
		if c.Longitude, err = parseCoord(field(rec, "longitude")); err != nil {
			return nil, eris.Wrapf(err, "citystore: line %d longitude", line)
		}
		cities = append(cities, c)
	}
	return cities, nil
}

func parseCoord(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Import parses a city CSV and loads it in batches.
func Import(ctx context.Context, l Loader, r io.Reader) (int64, error) {
	cities, err := ParseCSV(r)
	if err != nil {
		return 0, err
	}

	var total int64
	for start := 0; start < len(cities); start += importBatchSize {
		end := min(start+importBatchSize, len(cities))
		n, err := l.Insert(ctx, cities[start:end])
		if err != nil {
			return total, err
		}
		total += n
		zap.L().Info("citystore: imported batch",
			zap.Int64("rows", n),
			zap.Int64("total", total),
			zap.Int("of", len(cities)),
		)
	}
	return total, nil
}
