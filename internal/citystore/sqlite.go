package citystore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// SQLiteStore implements Store and Loader over modernc.org/sqlite. It backs
// offline runs and tests with the same bounding-box query as Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn. In-memory databases are pinned to
// a single connection so every query sees the same data.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cities (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	state     TEXT NOT NULL,
	zip       TEXT,
	latitude  REAL,
	longitude REAL,
	kma_code  TEXT,
	kma_name  TEXT
);

CREATE INDEX IF NOT EXISTS idx_cities_lat_lon ON cities(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_cities_kma ON cities(kma_code);
CREATE INDEX IF NOT EXISTS idx_cities_name_state ON cities(name COLLATE NOCASE, state COLLATE NOCASE);
`

// Migrate implements Loader.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinRadius implements Store.
func (s *SQLiteStore) WithinRadius(ctx context.Context, q Query) ([]model.City, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	box, lonScale := q.boxArgs()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cityColumns+`
		FROM (
			SELECT `+cityColumns+`, dist,
			       row_number() OVER (PARTITION BY kma_code ORDER BY dist, name, state) AS kma_rank
			FROM (
				SELECT `+cityColumns+`,
				       (latitude - ?) * (latitude - ?)
				     + ((longitude - ?) * ?) * ((longitude - ?) * ?) AS dist
				FROM cities
				WHERE latitude BETWEEN ? AND ?
				  AND longitude BETWEEN ? AND ?
				  AND kma_code IS NOT NULL AND kma_code <> ''
				  AND (? = '' OR kma_code <> ?)
			)
		)
		WHERE kma_rank <= ?
		ORDER BY dist, name, state`,
		q.Center.Lat, q.Center.Lat,
		q.Center.Lon, lonScale, q.Center.Lon, lonScale,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		q.ExcludeKMA, q.ExcludeKMA,
		q.perMarket(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: within radius")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var r cityRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan city row")
		}
		cities = append(cities, r.city())
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate city rows")
	}
	return cities, nil
}

// FindCity implements Store.
func (s *SQLiteStore) FindCity(ctx context.Context, name, state string) (*model.City, error) {
	var r cityRow
	err := s.db.QueryRowContext(ctx, `
		SELECT `+cityColumns+`
		FROM cities
		WHERE name = ? COLLATE NOCASE AND state = ? COLLATE NOCASE
		ORDER BY (kma_code IS NULL OR kma_code = ''), (latitude IS NULL OR longitude IS NULL), zip IS NULL, zip
		LIMIT 1`, strings.TrimSpace(name), strings.TrimSpace(state)).Scan(r.dest()...)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrCityNotFound, "sqlite: %s, %s", name, state)
		}
		return nil, eris.Wrap(err, "sqlite: find city")
	}
	c := r.city()
	return &c, nil
}

// Insert implements Loader in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, cities []model.City) (int64, error) {
	if len(cities) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cities (name, state, zip, latitude, longitude, kma_code, kma_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	var n int64
	for _, c := range cities {
		if _, err := stmt.ExecContext(ctx,
			c.Name, c.State, nullable(c.Zip),
			nullableFloat(c.Latitude), nullableFloat(c.Longitude),
			nullable(c.KMACode), nullable(c.KMAName),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %s, %s", c.Name, c.State)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert")
	}
	return n, nil
}
