// Package engine runs the lane pairing pipeline: resolve the lane's cities,
// select diverse pickup and delivery markets, pair them, expand the pairs
// into posting rows and verify the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rapidroutes/lane-engine/internal/citystore"
	"github.com/rapidroutes/lane-engine/internal/diversity"
	"github.com/rapidroutes/lane-engine/internal/export"
	"github.com/rapidroutes/lane-engine/internal/indicators"
	"github.com/rapidroutes/lane-engine/internal/locator"
	"github.com/rapidroutes/lane-engine/internal/metrics"
	"github.com/rapidroutes/lane-engine/internal/model"
	"github.com/rapidroutes/lane-engine/internal/pairing"
	"github.com/rapidroutes/lane-engine/internal/scorer"
	"github.com/rapidroutes/lane-engine/internal/verify"
)

// Request is one pairing-and-export call.
type Request struct {
	Lane model.Lane `json:"lane"`

	// AcceptPartial lets this request proceed with fewer diverse markets
	// than the target even when the engine policy does not.
	AcceptPartial bool `json:"accept_partial,omitempty"`
}

// Result is the outcome of a run. On diversity, pairing or verification
// failures it is returned alongside the error with the stages completed so
// far filled in.
type Result struct {
	RunID       string           `json:"run_id"`
	Lane        model.Lane       `json:"lane"`
	Origin      model.City       `json:"origin"`
	Destination model.City       `json:"destination"`
	Pickup      diversity.Result `json:"pickup"`
	Delivery    diversity.Result `json:"delivery"`
	Pairs       []model.LanePair `json:"pairs"`
	Rows        []model.Row      `json:"rows,omitempty"`
	Report      verify.Report    `json:"verification"`
	Warnings    []string         `json:"warnings,omitempty"`
	Cached      bool             `json:"cached"`
	Duration    time.Duration    `json:"duration_ns"`
}

// outcome is the cacheable part of a run: everything before row expansion.
type outcome struct {
	origin      model.City
	destination model.City
	pickup      diversity.Result
	delivery    diversity.Result
	pairs       []model.LanePair
	minPairs    int
	warnings    []string
}

// computeTimeout bounds one shared pairing computation, which no caller can
// cancel once it has started.
const computeTimeout = 2 * time.Minute

// Engine is safe for concurrent use. Its only shared mutable state is the
// optional PairCache and indicator Cache.
type Engine struct {
	store      citystore.Store
	locator    *locator.Locator
	opts       Options
	scorer     *scorer.Scorer
	indicators *indicators.Cache
	expander   *export.Expander
	verifier   *verify.Verifier
	cache      *PairCache
	flight     singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer orders candidates inside a distance bucket by freight score.
func WithScorer(s *scorer.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithIndicators supplies the indicator cache consulted once per run.
func WithIndicators(c *indicators.Cache) Option {
	return func(e *Engine) { e.indicators = c }
}

// WithPairCache enables process-wide caching of pairing outcomes.
func WithPairCache(c *PairCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithExpander overrides the default row expander.
func WithExpander(x *export.Expander) Option {
	return func(e *Engine) { e.expander = x }
}

// New creates an Engine over store.
func New(store citystore.Store, opts Options, eopts ...Option) (*Engine, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store: store,
		opts:  opts,
		locator: locator.New(store,
			locator.WithStoreTimeout(opts.StoreTimeout),
			locator.WithPerMarket(opts.PerMarket),
			locator.WithObserver(metrics.ObserveStoreQuery),
		),
	}
	for _, o := range eopts {
		o(e)
	}
	if e.expander == nil {
		if e.expander, err = export.NewExpander(export.DefaultSettings()); err != nil {
			return nil, err
		}
	}
	e.verifier = verify.New(e.expander.Prefix())
	return e, nil
}

// Options returns the normalized policy.
func (e *Engine) Options() Options { return e.opts }

// Run executes the pipeline for req.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := e.run(ctx, req)
	elapsed := time.Since(start)
	if res != nil {
		res.Duration = elapsed
	}

	metrics.PairingRuns.WithLabelValues(outcomeLabel(res, err)).Inc()
	metrics.PairingDuration.Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("origin", req.Lane.OriginCity+", "+req.Lane.OriginState),
		zap.String("destination", req.Lane.DestCity+", "+req.Lane.DestState),
		zap.String("equipment", req.Lane.Equipment),
		zap.Duration("elapsed", elapsed),
	}
	if res != nil {
		fields = append(fields,
			zap.String("run_id", res.RunID),
			zap.Int("pairs", len(res.Pairs)),
			zap.Int("rows", len(res.Rows)),
			zap.Bool("cached", res.Cached),
		)
	}
	if err != nil {
		zap.L().Info("engine: run failed", append(fields, zap.Error(err))...)
	} else {
		zap.L().Info("engine: run complete", fields...)
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, req Request) (*Result, error) {
	lane := req.Lane
	if err := lane.Validate(); err != nil {
		return nil, err
	}
	acceptPartial := e.opts.AcceptPartial || req.AcceptPartial

	res := &Result{RunID: uuid.NewString(), Lane: lane}

	out, cached, err := e.pairs(ctx, lane, acceptPartial)
	if out != nil {
		res.Origin, res.Destination = out.origin, out.destination
		res.Pickup, res.Delivery = out.pickup, out.delivery
		res.Pairs = append([]model.LanePair(nil), out.pairs...)
		res.Warnings = append([]string(nil), out.warnings...)
		res.Cached = cached
	}
	if err != nil {
		if out == nil {
			return nil, err
		}
		return res, err
	}

	rows, err := e.expander.Expand(lane, res.Pairs, e.opts.ContactMethods)
	if err != nil {
		return res, eris.Wrap(err, "engine: expand rows")
	}
	res.Rows = rows

	res.Report = e.verifier.Verify(rows, lane, out.minPairs, e.opts.ContactMethods)
	if !res.Report.Valid {
		return res, res.Report.Err()
	}
	metrics.RowsExported.Add(float64(len(rows)))
	return res, nil
}

// pairs returns the pairing outcome for lane from the cache or by computing
// it, with at most one computation in flight per fingerprint.
func (e *Engine) pairs(ctx context.Context, lane model.Lane, acceptPartial bool) (*outcome, bool, error) {
	sc := e.runScorer(ctx)
	key := e.fingerprint(lane, acceptPartial, sc.generation)
	if e.cache != nil {
		if out, ok := e.cache.get(key); ok {
			return out, true, nil
		}
	}

	type flightResult struct {
		out *outcome
		err error
	}
	// The shared computation belongs to no single caller: it keeps the
	// leader's values but not its cancellation, and each caller stops
	// waiting when its own context ends.
	ch := e.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()

		out, err := e.compute(fctx, lane, acceptPartial, sc)
		if err == nil && e.cache != nil {
			e.cache.put(key, out)
		}
		return flightResult{out: out, err: err}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, eris.Wrap(ctx.Err(), "engine: pairing")
	case r := <-ch:
		if r.Shared {
			zap.L().Debug("engine: joined in-flight computation", zap.String("fingerprint", key))
		}
		fr := r.Val.(flightResult)
		return fr.out, false, fr.err
	}
}

// fingerprint identifies every input that influences the pairs. The scorer
// weights are fixed per Engine; generation names the indicator snapshot.
func (e *Engine) fingerprint(lane model.Lane, acceptPartial bool, generation string) string {
	tiers := make([]string, len(e.opts.Tiers))
	for i, t := range e.opts.Tiers {
		tiers[i] = fmt.Sprintf("%g", t)
	}
	return strings.Join([]string{
		model.City{Name: lane.OriginCity, State: lane.OriginState}.Key(),
		model.City{Name: lane.DestCity, State: lane.DestState}.Key(),
		strings.ToUpper(strings.TrimSpace(lane.Equipment)),
		strings.Join(tiers, ","),
		fmt.Sprintf("t%d", e.opts.TargetCount),
		fmt.Sprintf("m%d", e.opts.MinPairs),
		fmt.Sprintf("x%d", e.opts.MaxPairs),
		fmt.Sprintf("b%g", e.opts.BucketMiles),
		fmt.Sprintf("p%t", acceptPartial),
		generation,
	}, "#")
}

func (e *Engine) compute(ctx context.Context, lane model.Lane, acceptPartial bool, sc runScoring) (*outcome, error) {
	origin, err := e.findCity(ctx, lane.OriginCity, lane.OriginState)
	if err != nil {
		return nil, eris.Wrap(err, "engine: origin")
	}
	dest, err := e.findCity(ctx, lane.DestCity, lane.DestState)
	if err != nil {
		return nil, eris.Wrap(err, "engine: destination")
	}
	originPt, ok := origin.Point()
	if !ok {
		return nil, eris.Wrapf(model.ErrInvalidInput, "engine: origin %s, %s has no coordinates", origin.Name, origin.State)
	}
	destPt, ok := dest.Point()
	if !ok {
		return nil, eris.Wrapf(model.ErrInvalidInput, "engine: destination %s, %s has no coordinates", dest.Name, dest.State)
	}

	out := &outcome{origin: *origin, destination: *dest, minPairs: e.opts.MinPairs}
	if origin.KMACode == "" {
		out.warn("origin %s, %s has no market area; nothing is excluded on the pickup side", origin.Name, origin.State)
	}
	if dest.KMACode == "" {
		out.warn("destination %s, %s has no market area; nothing is excluded on the delivery side", dest.Name, dest.State)
	}

	if sc.warning != "" {
		out.warn("%s", sc.warning)
	}

	// One memo and one indicator snapshot per run, shared by both sides.
	memo := locator.NewMemo(e.locator)
	pickupSel := diversity.NewSelector(memo, e.selectorOptions(sc.scorer, *origin, lane.Equipment)...)
	deliverySel := diversity.NewSelector(memo, e.selectorOptions(sc.scorer, *dest, lane.Equipment)...)

	var (
		g                      errgroup.Group
		pickupErr, deliveryErr error
	)
	g.Go(func() error {
		out.pickup, pickupErr = pickupSel.Select(ctx, originPt, origin.KMACode, e.opts.TargetCount, e.opts.Tiers)
		return pickupErr
	})
	g.Go(func() error {
		out.delivery, deliveryErr = deliverySel.Select(ctx, destPt, dest.KMACode, e.opts.TargetCount, e.opts.Tiers)
		return deliveryErr
	})
	_ = g.Wait()

	hits, misses := memo.Stats()
	zap.L().Debug("engine: selection complete",
		zap.Strings("pickup_markets", out.pickup.Markets()),
		zap.Strings("delivery_markets", out.delivery.Markets()),
		zap.Int("memo_hits", hits),
		zap.Int("memo_misses", misses),
	)

	for _, side := range []struct {
		side model.Side
		res  diversity.Result
		err  error
	}{
		{model.SidePickup, out.pickup, pickupErr},
		{model.SideDelivery, out.delivery, deliveryErr},
	} {
		metrics.TiersUsed.WithLabelValues(string(side.side)).Observe(float64(side.res.TiersUsed))
		metrics.Shortfall.WithLabelValues(string(side.side)).Add(float64(side.res.Shortfall))

		if side.err != nil {
			if !acceptPartial || !eris.Is(side.err, model.ErrStoreUnavailable) || len(side.res.Selected) == 0 {
				return out, eris.Wrapf(side.err, "engine: %s selection", side.side)
			}
			out.warn("%s: city store failed after tier %d; continuing with %d markets", side.side, side.res.TiersUsed, len(side.res.Selected))
		}
		if side.res.Shortfall > 0 {
			if !acceptPartial {
				return out, &model.InsufficientDiversityError{
					Side:      side.side,
					Found:     len(side.res.Selected),
					Target:    side.res.Target,
					TiersUsed: side.res.TiersUsed,
					MaxRadius: e.opts.Tiers[len(e.opts.Tiers)-1],
				}
			}
			out.warn("%s: only %d of the requested %d diverse markets found within %.0f miles",
				side.side, len(side.res.Selected), side.res.Target, e.opts.Tiers[len(e.opts.Tiers)-1])
		}
	}

	if acceptPartial {
		avail := min(len(out.pickup.Selected), len(out.delivery.Selected))
		if avail > 0 && avail < out.minPairs {
			out.warn("minimum pairs lowered from %d to %d for a partial selection", out.minPairs, avail)
			out.minPairs = avail
		}
	}

	pairs, err := pairing.Assemble(out.pickup.Selected, out.delivery.Selected, lane.Equipment, out.minPairs,
		pairing.WithMaxPairs(e.opts.MaxPairs))
	out.pairs = pairs
	if err != nil {
		return out, eris.Wrap(err, "engine: assemble pairs")
	}
	for _, w := range out.warnings {
		zap.L().Warn("engine: partial result accepted", zap.String("warning", w))
	}
	return out, nil
}

// runScoring is the scorer one run uses and the indicator snapshot it was
// built from.
type runScoring struct {
	scorer     *scorer.Scorer
	generation string
	warning    string
}

// runScorer resolves the scorer for one run with the current indicator
// snapshot applied. The scorer is nil when scoring is off.
func (e *Engine) runScorer(ctx context.Context) runScoring {
	if e.scorer == nil {
		return runScoring{}
	}
	rs := runScoring{scorer: e.scorer, generation: "i-"}
	if e.indicators == nil {
		return rs
	}
	snap, err := e.indicators.Get(ctx)
	if err != nil {
		zap.L().Warn("engine: indicators unavailable", zap.Error(err))
		rs.warning = "economic indicators unavailable; scores exclude them"
		return rs
	}
	rs.scorer = e.scorer.WithSnapshot(snap)
	rs.generation = fmt.Sprintf("i%d", e.indicators.FetchedAt().UnixNano())
	return rs
}

func (e *Engine) selectorOptions(sc *scorer.Scorer, base model.City, equipment string) []diversity.Option {
	opts := []diversity.Option{diversity.WithBucketMiles(e.opts.BucketMiles)}
	if sc != nil {
		opts = append(opts, diversity.WithScore(sc.For(base, equipment)))
	}
	return opts
}

func (e *Engine) findCity(ctx context.Context, name, state string) (*model.City, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	c, err := e.store.FindCity(callCtx, name, state)
	if err == nil {
		return c, nil
	}
	if eris.Is(err, model.ErrCityNotFound) || eris.Is(err, model.ErrInvalidInput) || eris.Is(err, model.ErrStoreUnavailable) {
		return nil, err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	return nil, eris.Wrapf(model.ErrStoreUnavailable, "find %s, %s: %v", name, state, err)
}

func (o *outcome) warn(format string, args ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, args...))
}

func outcomeLabel(res *Result, err error) string {
	var (
		insufficient *model.InsufficientDiversityError
		shortfall    *model.PairShortfallError
		verification *model.VerificationFailureError
	)
	switch {
	case err == nil && res != nil && len(res.Warnings) > 0:
		return "partial"
	case err == nil:
		return "ok"
	case errors.As(err, &insufficient):
		return "insufficient_diversity"
	case errors.As(err, &shortfall):
		return "pair_shortfall"
	case errors.As(err, &verification):
		return "verification_failed"
	case eris.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	case eris.Is(err, model.ErrCityNotFound):
		return "city_not_found"
	case eris.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
