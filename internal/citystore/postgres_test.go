package citystore

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidroutes/lane-engine/internal/model"
)

var cityCols = []string{"name", "state", "zip", "latitude", "longitude", "kma_code", "kma_name"}

func strPtr(s string) *string { return &s }

func newMockStore(t *testing.T, opts ...PostgresOption) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewPostgresStore(mock, opts...)
	require.NoError(t, err)
	return s, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestNewPostgresStore_InvalidTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStore(mock, WithTable("cities; DROP TABLE users"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestPostgresWithinRadius_BBox(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM public\.cities\s+WHERE latitude BETWEEN[\s\S]+PARTITION BY kma_code[\s\S]+WHERE kma_rank <= \$9`).
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows(cityCols).
			AddRow("Irving", "TX", strPtr("75061"), model.Float64(32.814), model.Float64(-96.9489), strPtr("TX_DAL"), strPtr("Dallas Mkt")).
			AddRow(" Fort Worth ", "tx", (*string)(nil), model.Float64(32.7555), model.Float64(-97.3308), strPtr("TX_FTW"), (*string)(nil)))

	got, err := s.WithinRadius(context.Background(), Query{Center: dallas, RadiusMiles: 75})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Irving", got[0].Name)
	assert.Equal(t, "75061", got[0].Zip)
	assert.Equal(t, "Fort Worth", got[1].Name)
	assert.Equal(t, "TX", got[1].State)
	assert.Equal(t, "", got[1].Zip)
	assert.Equal(t, "", got[1].KMAName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWithinRadius_PostGIS(t *testing.T) {
	s, mock := newMockStore(t, WithPostGIS(), WithTable("freight.cities"))

	mock.ExpectQuery(`FROM freight\.cities\s+WHERE ST_DWithin`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "TX_DAL", 50).
		WillReturnRows(pgxmock.NewRows(cityCols))

	got, err := s.WithinRadius(context.Background(), Query{Center: dallas, RadiusMiles: 75, ExcludeKMA: "TX_DAL", PerMarket: 50})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWithinRadius_QueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE latitude BETWEEN`).
		WithArgs(anyArgs(9)...).
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := s.WithinRadius(context.Background(), Query{Center: dallas, RadiusMiles: 75})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "citystore: within radius")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWithinRadius_InvalidQuery(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.WithinRadius(context.Background(), Query{Center: dallas, RadiusMiles: -1})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindCity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE lower\(name\) = lower\(\$1\)`).
		WithArgs("Dallas", "TX").
		WillReturnRows(pgxmock.NewRows(cityCols).
			AddRow("Dallas", "TX", strPtr("75201"), model.Float64(32.7767), model.Float64(-96.797), strPtr("TX_DAL"), strPtr("Dallas Mkt")))

	c, err := s.FindCity(context.Background(), "Dallas", "TX")
	require.NoError(t, err)
	assert.Equal(t, "TX_DAL", c.KMACode)
	assert.True(t, c.Eligible())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindCity_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE lower\(name\)`).
		WithArgs("Atlantis", "TX").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.FindCity(context.Background(), "Atlantis", "TX")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrCityNotFound))
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t, WithPostGIS())

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS public\.cities`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS public_cities_lat_lon_idx`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS public_cities_kma_idx`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS public_cities_name_state_idx`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`USING GIST \(geom\)`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate_Error(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(fmt.Errorf("permission denied"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "citystore: migrate")
}

func TestPostgresInsert_Copy(t *testing.T) {
	s, mock := newMockStore(t, WithPostGIS())

	mock.ExpectCopyFrom(pgx.Identifier{"public", "cities"},
		[]string{"name", "state", "zip", "latitude", "longitude", "kma_code", "kma_name", "geom"}).
		WillReturnResult(2)

	n, err := s.Insert(context.Background(), []model.City{
		city("Dallas", "TX", "TX_DAL", 32.7767, -96.797),
		{Name: "Garland", State: "TX"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
