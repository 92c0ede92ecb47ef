package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrStoreUnavailable means the city store could not be reached or timed
	// out. Callers may retry with backoff.
	ErrStoreUnavailable = eris.New("city store unavailable")

	// ErrCityNotFound means a lane endpoint is not present in the city store.
	ErrCityNotFound = eris.New("city not found")

	// ErrInvalidInput marks caller errors (bad coordinates, radius, lane fields).
	ErrInvalidInput = eris.New("invalid input")
)

// Side names which end of a lane a selection belongs to.
type Side string

const (
	SidePickup   Side = "pickup"
	SideDelivery Side = "delivery"
)

// InsufficientDiversityError reports that fewer unique market areas were
// found than requested after every radius tier was searched.
type InsufficientDiversityError struct {
	Side      Side
	Found     int
	Target    int
	TiersUsed int
	MaxRadius float64
}

func (e *InsufficientDiversityError) Error() string {
	return fmt.Sprintf("%s: only %d of the requested %d diverse markets found within %.0f miles",
		e.Side, e.Found, e.Target, e.MaxRadius)
}

// Shortfall is the gap between target and found.
func (e *InsufficientDiversityError) Shortfall() int {
	return e.Target - e.Found
}

// PairShortfallError reports that pairing constraints prevented reaching the
// minimum pair count.
type PairShortfallError struct {
	Assembled int
	Required  int
}

func (e *PairShortfallError) Error() string {
	return fmt.Sprintf("only %d of the required %d lane pairs could be assembled", e.Assembled, e.Required)
}

// VerificationError is one failed structural check on a generated row set.
type VerificationError struct {
	Check   string `json:"check"`
	Row     int    `json:"row"` // 1-based; 0 when the check applies to the whole set
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e VerificationError) String() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s: row %d: %s", e.Check, e.Row, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Check, e.Message)
}

// VerificationFailureError blocks an export whose rows failed verification.
type VerificationFailureError struct {
	Errors []VerificationError
}

func (e *VerificationFailureError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return "structural verification failed: " + strings.Join(msgs, "; ")
}
