package engine

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/rapidroutes/lane-engine/internal/config"
	"github.com/rapidroutes/lane-engine/internal/diversity"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// Options is the pairing policy applied to every run.
type Options struct {
	Tiers          []float64
	TargetCount    int
	MinPairs       int
	MaxPairs       int
	ContactMethods []string
	AcceptPartial  bool
	BucketMiles    float64
	StoreTimeout   time.Duration
	PerMarket      int
}

// DefaultOptions returns the default policy: tiers 75/100/125/150 miles,
// five markets per side, five pairs, two contact methods.
func DefaultOptions() Options {
	return Options{
		Tiers:          append([]float64(nil), diversity.DefaultTiers...),
		TargetCount:    5,
		MinPairs:       5,
		MaxPairs:       5,
		ContactMethods: []string{"email", "primary phone"},
		StoreTimeout:   10 * time.Second,
		PerMarket:      25,
	}
}

// OptionsFromConfig converts the pairing config section.
func OptionsFromConfig(c config.PairingConfig) Options {
	return Options{
		Tiers:          c.Tiers,
		TargetCount:    c.TargetCount,
		MinPairs:       c.MinPairs,
		MaxPairs:       c.MaxPairs,
		ContactMethods: c.ContactMethods,
		AcceptPartial:  c.AcceptPartial,
		BucketMiles:    c.BucketMiles,
		StoreTimeout:   time.Duration(c.StoreTimeoutSecs) * time.Second,
		PerMarket:      c.PerMarketLimit,
	}
}

func (o Options) normalize() (Options, error) {
	tiers, err := diversity.NormalizeTiers(o.Tiers)
	if err != nil {
		return o, err
	}
	o.Tiers = tiers
	switch {
	case o.TargetCount <= 0:
		return o, eris.Wrapf(model.ErrInvalidInput, "engine: target count must be > 0, got %d", o.TargetCount)
	case o.MinPairs <= 0:
		return o, eris.Wrapf(model.ErrInvalidInput, "engine: min pairs must be > 0, got %d", o.MinPairs)
	case len(o.ContactMethods) == 0:
		return o, eris.Wrap(model.ErrInvalidInput, "engine: at least one contact method is required")
	}
	if o.MaxPairs > 0 && o.MaxPairs < o.MinPairs {
		o.MaxPairs = o.MinPairs
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	return o, nil
}
