// Package verify runs structural checks over a generated posting row set
// before it is released for upload. It reports problems; it never fixes
// them.
package verify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rapidroutes/lane-engine/internal/export"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// Check names.
const (
	CheckRowCount    = "row_count"
	CheckFieldSet    = "field_set"
	CheckRequired    = "required_field"
	CheckDuplicate   = "duplicate_market_pair"
	CheckDate        = "date_format"
	CheckReferenceID = "reference_id"
	CheckLane        = "lane_mismatch"
)

// Report is the outcome of Verify.
type Report struct {
	Valid  bool                      `json:"valid"`
	Errors []model.VerificationError `json:"errors,omitempty"`
}

// Err returns a *model.VerificationFailureError for an invalid report.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return &model.VerificationFailureError{Errors: r.Errors}
}

// Verifier checks rows produced with a given reference prefix.
type Verifier struct {
	refRE *regexp.Regexp
}

// seqPattern matches a zero-padded five digit sequence of at least 1.
const seqPattern = `(0000[1-9]|000[1-9]\d|00[1-9]\d{2}|0[1-9]\d{3}|[1-9]\d{4})`

// New creates a Verifier for reference IDs made of prefix and five digits.
func New(prefix string) *Verifier {
	if prefix == "" {
		prefix = export.DefaultReferencePrefix
	}
	return &Verifier{refRE: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + seqPattern + `$`)}
}

// Verify checks rows with the default reference prefix.
func Verify(rows []model.Row, lane model.Lane, minPairs int, contactMethods []string) Report {
	return New(export.DefaultReferencePrefix).Verify(rows, lane, minPairs, contactMethods)
}

// Verify runs every check and collects all failures. rows are read only.
func (v *Verifier) Verify(rows []model.Row, lane model.Lane, minPairs int, contactMethods []string) Report {
	var errs []model.VerificationError
	add := func(check string, row int, field, format string, args ...any) {
		errs = append(errs, model.VerificationError{
			Check:   check,
			Row:     row,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if want := minPairs * len(contactMethods); len(rows) < want {
		add(CheckRowCount, 0, "", "got %d rows, need at least %d (%d pairs x %d contact methods)",
			len(rows), want, minPairs, len(contactMethods))
	}

	headers := export.Headers()
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	required := export.RequiredHeaders()
	wantEquipment := strings.ToUpper(strings.TrimSpace(lane.Equipment))

	marketPairs := make(map[string]int)
	refs := make(map[string]int)

	for i, r := range rows {
		n := i + 1

		for _, h := range headers {
			if _, ok := r.Fields[h]; !ok {
				add(CheckFieldSet, n, h, "missing field")
			}
		}
		for k := range r.Fields {
			if !known[k] {
				add(CheckFieldSet, n, k, "unexpected field")
			}
		}

		for _, h := range required {
			if strings.TrimSpace(r.Fields[h]) == "" {
				add(CheckRequired, n, h, "required field is empty")
			}
		}

		key := r.OriginKMA + "->" + r.DestKMA + "|" + strings.ToLower(r.Fields[export.HeaderContactMethod])
		if first, ok := marketPairs[key]; ok {
			add(CheckDuplicate, n, "", "market pair %s->%s repeats row %d", r.OriginKMA, r.DestKMA, first)
		} else {
			marketPairs[key] = n
		}

		var earliest, latest time.Time
		datesOK := true
		for _, h := range []string{export.HeaderPickupEarliest, export.HeaderPickupLatest} {
			val := r.Fields[h]
			if val == "" {
				continue
			}
			ts, err := time.Parse(export.DateLayout, val)
			if err != nil {
				add(CheckDate, n, h, "%q is not MM/DD/YYYY", val)
				datesOK = false
				continue
			}
			if h == export.HeaderPickupEarliest {
				earliest = ts
			} else {
				latest = ts
			}
		}
		if datesOK && !earliest.IsZero() && !latest.IsZero() && latest.Before(earliest) {
			add(CheckDate, n, export.HeaderPickupLatest, "pickup latest is before pickup earliest")
		}

		ref := r.Fields[export.HeaderReferenceID]
		if !v.refRE.MatchString(ref) {
			add(CheckReferenceID, n, export.HeaderReferenceID, "%q is not a valid reference ID", ref)
		} else if first, ok := refs[ref]; ok {
			add(CheckReferenceID, n, export.HeaderReferenceID, "%s repeats row %d", ref, first)
		} else {
			refs[ref] = n
		}

		if wantEquipment != "" {
			if got := r.Fields[export.HeaderEquipment]; got != "" && got != wantEquipment {
				add(CheckLane, n, export.HeaderEquipment, "equipment %q does not match lane %q", got, wantEquipment)
			}
		}
	}

	return Report{Valid: len(errs) == 0, Errors: errs}
}
