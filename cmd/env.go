package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/api"
	"github.com/rapidroutes/lane-engine/internal/citystore"
	"github.com/rapidroutes/lane-engine/internal/db"
	"github.com/rapidroutes/lane-engine/internal/engine"
	"github.com/rapidroutes/lane-engine/internal/export"
	"github.com/rapidroutes/lane-engine/internal/indicators"
	"github.com/rapidroutes/lane-engine/internal/resilience"
	"github.com/rapidroutes/lane-engine/internal/scorer"
)

// storeEnv is an opened city store with its optional capabilities.
type storeEnv struct {
	Store  citystore.Store
	Loader citystore.Loader
	DB     api.Pinger    // nil for the in-memory store
	Pool   *pgxpool.Pool // nil unless driver is postgres
	close  []func()
}

// Close releases the store's connections.
func (se *storeEnv) Close() {
	for i := len(se.close) - 1; i >= 0; i-- {
		se.close[i]()
	}
}

// appEnv holds everything the pair and serve commands need.
type appEnv struct {
	*storeEnv
	Engine     *engine.Engine
	PairCache  *engine.PairCache
	Indicators *indicators.Cache
}

func retryPolicy() resilience.Policy {
	r := cfg.Retry
	return resilience.FromConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// openStore opens the configured city store. A non-empty citiesCSV loads
// that file into an in-memory store instead, for offline runs.
func openStore(ctx context.Context, citiesCSV string) (*storeEnv, error) {
	if citiesCSV != "" {
		f, err := os.Open(citiesCSV)
		if err != nil {
			return nil, eris.Wrap(err, "open cities csv")
		}
		defer f.Close()

		mem := citystore.NewMemoryStore()
		n, err := citystore.Import(ctx, mem, f)
		if err != nil {
			return nil, eris.Wrap(err, "load cities csv")
		}
		zap.L().Info("loaded cities into memory", zap.Int64("cities", n), zap.String("csv", citiesCSV))
		return &storeEnv{Store: mem, Loader: mem}, nil
	}

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cities.db"
		}
		st, err := citystore.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return &storeEnv{
			Store:  citystore.WithRetry(st, retryPolicy()),
			Loader: st,
			DB:     st,
			close:  []func(){func() { _ = st.Close() }},
		}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, db.PoolConfig{MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return nil, eris.Wrap(err, "connect city store")
		}
		opts := []citystore.PostgresOption{citystore.WithTable(cfg.Store.Table)}
		if cfg.Store.UsePostGIS {
			opts = append(opts, citystore.WithPostGIS())
		}
		st, err := citystore.NewPostgresStore(pool, opts...)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &storeEnv{
			Store:  citystore.WithRetry(st, retryPolicy()),
			Loader: st,
			DB:     pool,
			Pool:   pool,
			close:  []func(){pool.Close},
		}, nil

	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine opens the store and builds the engine with the scorer,
// indicator feed and pair cache the config enables. Callers should defer
// env.Close().
func initEngine(ctx context.Context, mode, citiesCSV string) (*appEnv, error) {
	check := mode
	if citiesCSV != "" {
		check = "offline"
	}
	if err := cfg.Validate(check); err != nil {
		return nil, err
	}

	se, err := openStore(ctx, citiesCSV)
	if err != nil {
		return nil, err
	}
	env := &appEnv{storeEnv: se}

	eopts := []engine.Option{}

	sc, err := scorer.FromConfig(cfg.Scorer)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init scorer")
	}
	if sc != nil {
		eopts = append(eopts, engine.WithScorer(sc))
		zap.L().Info("freight scorer enabled", zap.String("tables", cfg.Scorer.TablesPath))
	}

	if cfg.Indicators.URL != "" {
		cache, err := initIndicators(env)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Indicators = cache
		eopts = append(eopts, engine.WithIndicators(cache))
	} else {
		zap.L().Debug("LANE_ENGINE_INDICATORS_URL not set, indicator scoring disabled")
	}

	if mode == "serve" {
		env.PairCache = engine.NewPairCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLMinutes)*time.Minute)
		eopts = append(eopts, engine.WithPairCache(env.PairCache))
	}

	x, err := export.NewExpander(export.SettingsFromConfig(cfg.Export))
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init expander")
	}
	eopts = append(eopts, engine.WithExpander(x))

	env.Engine, err = engine.New(env.Store, engine.OptionsFromConfig(cfg.Pairing), eopts...)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init engine")
	}
	return env, nil
}

func initIndicators(env *appEnv) (*indicators.Cache, error) {
	ic := cfg.Indicators
	src, err := indicators.NewHTTPSource(indicators.HTTPOptions{
		URL:            ic.URL,
		APIKey:         ic.APIKey,
		Timeout:        time.Duration(ic.TimeoutSecs) * time.Second,
		RequestsPerSec: ic.RequestsPerSec,
		Retry:          retryPolicy(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init indicators")
	}

	var opts []indicators.CacheOption
	if ic.ValkeyAddr != "" {
		vs, err := indicators.NewValkeyStore(ic.ValkeyAddr)
		if err != nil {
			zap.L().Warn("valkey unavailable, indicator snapshots are per process", zap.Error(err))
		} else {
			env.close = append(env.close, vs.Close)
			opts = append(opts, indicators.WithShared(vs, ""))
			zap.L().Info("indicator snapshots shared via valkey", zap.String("addr", ic.ValkeyAddr))
		}
	}
	return indicators.NewCache(src, time.Duration(ic.TTLMinutes)*time.Minute, opts...), nil
}
