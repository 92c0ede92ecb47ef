package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// FullPartial is the load-board full/partial truckload flag.
type FullPartial string

const (
	LoadFull    FullPartial = "full"
	LoadPartial FullPartial = "partial"
)

// Lane is a shipment request owned by the surrounding application. Only the
// fields the pairing engine and row expander consume are modelled.
type Lane struct {
	ID              string      `json:"id,omitempty"`
	OriginCity      string      `json:"origin_city"`
	OriginState     string      `json:"origin_state"`
	OriginZip       string      `json:"origin_zip,omitempty"`
	DestCity        string      `json:"dest_city"`
	DestState       string      `json:"dest_state"`
	DestZip         string      `json:"dest_zip,omitempty"`
	Equipment       string      `json:"equipment"`
	LengthFt        int         `json:"length_ft"`
	Weight          int         `json:"weight"`
	RandomizeWeight bool        `json:"randomize_weight,omitempty"`
	WeightMin       int         `json:"weight_min,omitempty"`
	WeightMax       int         `json:"weight_max,omitempty"`
	FullPartial     FullPartial `json:"full_partial,omitempty"`
	PickupEarliest  time.Time   `json:"pickup_earliest"`
	PickupLatest    *time.Time  `json:"pickup_latest,omitempty"`
	Comment         string      `json:"comment,omitempty"`
	Commodity       string      `json:"commodity,omitempty"`
	Rate            string      `json:"rate,omitempty"`
}

// Validate checks the fields every downstream stage relies on.
func (l Lane) Validate() error {
	switch {
	case l.OriginCity == "" || l.OriginState == "":
		return eris.Wrap(ErrInvalidInput, "lane: origin city and state are required")
	case l.DestCity == "" || l.DestState == "":
		return eris.Wrap(ErrInvalidInput, "lane: destination city and state are required")
	case l.Equipment == "":
		return eris.Wrap(ErrInvalidInput, "lane: equipment is required")
	case l.PickupEarliest.IsZero():
		return eris.Wrap(ErrInvalidInput, "lane: pickup earliest date is required")
	case l.PickupLatest != nil && l.PickupLatest.Before(l.PickupEarliest):
		return eris.Wrap(ErrInvalidInput, "lane: pickup latest is before pickup earliest")
	}
	if l.RandomizeWeight {
		if l.WeightMin <= 0 || l.WeightMax < l.WeightMin {
			return eris.Wrapf(ErrInvalidInput, "lane: invalid weight range [%d, %d]", l.WeightMin, l.WeightMax)
		}
	} else if l.Weight <= 0 {
		return eris.Wrap(ErrInvalidInput, "lane: weight must be positive")
	}
	return nil
}

// LanePair binds an alternate origin and destination for one posting.
// Construct with NewLanePair; pairs are not modified after construction.
type LanePair struct {
	Origin      Candidate `json:"origin"`
	Destination Candidate `json:"destination"`
	Equipment   string    `json:"equipment"`
}

// NewLanePair builds a pair, rejecting identical origin and destination cities.
func NewLanePair(origin, dest Candidate, equipment string) (LanePair, error) {
	if origin.City.SameCity(dest.City) {
		return LanePair{}, eris.Wrapf(ErrInvalidInput, "pair: origin and destination are both %s, %s",
			origin.City.Name, origin.City.State)
	}
	return LanePair{Origin: origin, Destination: dest, Equipment: equipment}, nil
}

// MarketKey returns the (origin KMA, destination KMA) combination.
func (p LanePair) MarketKey() string {
	return p.Origin.City.KMACode + "->" + p.Destination.City.KMACode
}
