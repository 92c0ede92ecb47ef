package export

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rapidroutes/lane-engine/internal/config"
	"github.com/rapidroutes/lane-engine/internal/model"
)

const (
	// DefaultReferencePrefix starts every reference ID.
	DefaultReferencePrefix = "RR"

	// MaxSequence is the largest 5-digit reference sequence.
	MaxSequence = 99999

	// DefaultLengthFt is posted when a lane has no trailer length.
	DefaultLengthFt = 53
)

var prefixRE = regexp.MustCompile(`^[A-Z]{1,5}$`)

// Settings are the per-account posting flags written on every row.
type Settings struct {
	ReferencePrefix       string
	UsePrivateNetwork     bool
	AllowPrivateBooking   bool
	AllowPrivateBidding   bool
	UseLoadboard          bool
	AllowLoadboardBooking bool
	UseExtendedNetwork    bool
}

// DefaultSettings posts to the DAT load board only.
func DefaultSettings() Settings {
	return Settings{
		ReferencePrefix: DefaultReferencePrefix,
		UseLoadboard:    true,
	}
}

// SettingsFromConfig converts the export config section.
func SettingsFromConfig(c config.ExportConfig) Settings {
	return Settings{
		ReferencePrefix:       c.ReferencePrefix,
		UsePrivateNetwork:     c.UsePrivateNetwork,
		AllowPrivateBooking:   c.AllowPrivateBooking,
		AllowPrivateBidding:   c.AllowPrivateBidding,
		UseLoadboard:          c.UseLoadboard,
		AllowLoadboardBooking: c.AllowLoadboardBooking,
		UseExtendedNetwork:    c.UseExtendedNetwork,
	}
}

// Rand draws a uniform integer in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Expander turns lane pairs into posting rows.
type Expander struct {
	settings Settings
	rng      Rand
}

// Option configures an Expander.
type Option func(*Expander)

// WithRand sets the source for randomized weights.
func WithRand(r Rand) Option {
	return func(e *Expander) { e.rng = r }
}

// NewExpander creates an Expander. An empty prefix uses DefaultReferencePrefix.
func NewExpander(s Settings, opts ...Option) (*Expander, error) {
	if s.ReferencePrefix == "" {
		s.ReferencePrefix = DefaultReferencePrefix
	}
	if !prefixRE.MatchString(s.ReferencePrefix) {
		return nil, eris.Wrapf(model.ErrInvalidInput, "export: reference prefix %q must be 1-5 upper-case letters", s.ReferencePrefix)
	}
	e := &Expander{settings: s, rng: globalRand{}}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Prefix returns the reference ID prefix.
func (e *Expander) Prefix() string { return e.settings.ReferencePrefix }

// Expand emits one row per pair per contact method, pairs outermost.
// Reference IDs run from 1 within each call.
func (e *Expander) Expand(lane model.Lane, pairs []model.LanePair, contactMethods []string) ([]model.Row, error) {
	if err := lane.Validate(); err != nil {
		return nil, err
	}
	methods, err := normalizeMethods(contactMethods)
	if err != nil {
		return nil, err
	}
	total := len(pairs) * len(methods)
	if total > MaxSequence {
		return nil, eris.Errorf("export: %d rows exceed the %d reference IDs available", total, MaxSequence)
	}

	title := cases.Title(language.English)
	earliest := lane.PickupEarliest.Format(DateLayout)
	latest := earliest
	if lane.PickupLatest != nil {
		latest = lane.PickupLatest.Format(DateLayout)
	}
	length := lane.LengthFt
	if length <= 0 {
		length = DefaultLengthFt
	}

	rows := make([]model.Row, 0, total)
	seq := 0
	for i, p := range pairs {
		weight := e.weight(lane)
		for _, method := range methods {
			seq++
			f := make(map[string]string, len(headers))
			f[HeaderPickupEarliest] = earliest
			f[HeaderPickupLatest] = latest
			f[HeaderLength] = strconv.Itoa(length)
			f[HeaderWeight] = strconv.Itoa(weight)
			f[HeaderFullPartial] = fullPartial(lane.FullPartial)
			f[HeaderEquipment] = strings.ToUpper(strings.TrimSpace(p.Equipment))
			f[HeaderUsePrivateNetwork] = yesNo(e.settings.UsePrivateNetwork)
			f[HeaderPrivateNetworkRate] = rateIf(e.settings.UsePrivateNetwork, lane.Rate)
			f[HeaderAllowPrivateBooking] = yesNo(e.settings.AllowPrivateBooking)
			f[HeaderAllowPrivateBidding] = yesNo(e.settings.AllowPrivateBidding)
			f[HeaderUseLoadboard] = yesNo(e.settings.UseLoadboard)
			f[HeaderLoadboardRate] = rateIf(e.settings.UseLoadboard, lane.Rate)
			f[HeaderAllowLoadboardBooking] = yesNo(e.settings.AllowLoadboardBooking)
			f[HeaderUseExtendedNetwork] = yesNo(e.settings.UseExtendedNetwork)
			f[HeaderContactMethod] = method
			f[HeaderOriginCity] = title.String(strings.TrimSpace(p.Origin.City.Name))
			f[HeaderOriginState] = strings.ToUpper(strings.TrimSpace(p.Origin.City.State))
			f[HeaderOriginPostalCode] = p.Origin.City.Zip
			f[HeaderDestCity] = title.String(strings.TrimSpace(p.Destination.City.Name))
			f[HeaderDestState] = strings.ToUpper(strings.TrimSpace(p.Destination.City.State))
			f[HeaderDestPostalCode] = p.Destination.City.Zip
			f[HeaderComment] = lane.Comment
			f[HeaderCommodity] = lane.Commodity
			f[HeaderReferenceID] = FormatReference(e.settings.ReferencePrefix, seq)

			rows = append(rows, model.Row{
				Fields:    f,
				OriginKMA: p.Origin.City.KMACode,
				DestKMA:   p.Destination.City.KMACode,
				PairIndex: i,
			})
		}
	}
	return rows, nil
}

// Expand uses DefaultSettings.
func Expand(lane model.Lane, pairs []model.LanePair, contactMethods []string) ([]model.Row, error) {
	e, err := NewExpander(DefaultSettings())
	if err != nil {
		return nil, err
	}
	return e.Expand(lane, pairs, contactMethods)
}

// FormatReference renders a reference ID such as RR00001.
func FormatReference(prefix string, seq int) string {
	return fmt.Sprintf("%s%05d", prefix, seq)
}

// One weight per pair so both contact-method rows of a posting agree.
func (e *Expander) weight(lane model.Lane) int {
	if !lane.RandomizeWeight {
		return lane.Weight
	}
	return lane.WeightMin + e.rng.IntN(lane.WeightMax-lane.WeightMin+1)
}

func normalizeMethods(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, eris.Wrap(model.ErrInvalidInput, "export: at least one contact method is required")
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			return nil, eris.Wrap(model.ErrInvalidInput, "export: empty contact method")
		}
		if seen[m] {
			return nil, eris.Wrapf(model.ErrInvalidInput, "export: duplicate contact method %q", m)
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

func fullPartial(fp model.FullPartial) string {
	if fp == model.LoadPartial {
		return "Partial"
	}
	return "Full"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func rateIf(enabled bool, rate string) string {
	if !enabled {
		return ""
	}
	return strings.TrimSpace(rate)
}
