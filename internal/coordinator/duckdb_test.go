package coordinator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckbridge/internal/coordinator"
	"duckbridge/internal/domain"
	"duckbridge/internal/engine"
)

// writeParquet materializes selectSQL as a Parquet file under dir/rel.
func writeParquet(t *testing.T, dir, rel, selectSQL string) {
	t.Helper()
	db, err := engine.Open(context.Background(), engine.Options{})
	require.NoError(t, err)
	defer db.Close()

	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, db.Exec(context.Background(), "COPY ("+selectSQL+") TO '"+p+"' (FORMAT PARQUET)"))
}

func newDuckDBCoordinator(t *testing.T, dir string) *coordinator.Coordinator {
	t.Helper()
	c := coordinator.New(coordinator.Options{AssetRoot: dir, ReadyTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDuckDB_RegisterAndQuery(t *testing.T) {
	dir := t.TempDir()
	writeParquet(t, dir, "orders.parquet", `
		SELECT * FROM (VALUES
			(1::BIGINT, 'widget', 2.5::DECIMAL(10,2), TIMESTAMP '2024-03-01 12:30:00', true),
			(2::BIGINT, 'gadget', 10.0::DECIMAL(10,2), TIMESTAMP '2024-03-02 00:00:00', false)
		) AS t(id, name, price, placed_at, shipped)`)

	c := newDuckDBCoordinator(t, dir)
	ctx := context.Background()
	require.NoError(t, c.RegisterSources(ctx, domain.SourceMap{{Name: "shop", Locations: []string{"static/orders.parquet"}}}, false))

	res, err := c.Query(ctx, `SELECT id, name, price, placed_at, shipped FROM shop.orders ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, domain.EngineLocal, res.Engine())
	require.Equal(t, 2, res.Len())

	first := res.Rows[0]
	assert.Equal(t, float64(1), first["id"])
	assert.Equal(t, "widget", first["name"])
	assert.Equal(t, 2.5, first["price"])
	assert.Equal(t, "2024-03-01T12:30:00Z", first["placed_at"])
	assert.Equal(t, true, first["shipped"])

	want := map[string]domain.NormalizedType{
		"id":        domain.TypeNumber,
		"name":      domain.TypeString,
		"price":     domain.TypeNumber,
		"placed_at": domain.TypeDate,
		"shipped":   domain.TypeBoolean,
	}
	cols := res.ColumnTypes()
	require.Len(t, cols, len(want))
	for _, col := range cols {
		assert.Equal(t, want[col.Name], col.Type, col.Name)
		assert.Equal(t, domain.FidelityPrecise, col.Fidelity, col.Name)
	}
}

func TestDuckDB_SameStemAcrossSources(t *testing.T) {
	dir := t.TempDir()
	for _, src := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, src), 0o755))
		writeParquet(t, dir, src+"/data.parquet", "SELECT 'from "+src+"' AS origin")
	}

	c := newDuckDBCoordinator(t, dir)
	ctx := context.Background()
	require.NoError(t, c.RegisterSources(ctx, domain.SourceMap{
		{Name: "a", Locations: []string{"/a/data.parquet"}},
		{Name: "b", Locations: []string{"/b/data.parquet"}},
	}, false))

	for _, src := range []string{"a", "b"} {
		res, err := c.Query(ctx, "SELECT origin FROM "+src+".data")
		require.NoError(t, err)
		assert.Equal(t, []domain.Row{{"origin": "from " + src}}, res.Rows)
	}
}

func TestDuckDB_ReplaceAndAppend(t *testing.T) {
	dir := t.TempDir()
	writeParquet(t, dir, "first.parquet", `SELECT 1::BIGINT AS n`)
	writeParquet(t, dir, "second.parquet", `SELECT 2::BIGINT AS n`)

	ctx := context.Background()
	first := domain.SourceMap{{Name: "s", Locations: []string{"/first.parquet"}}}
	second := domain.SourceMap{{Name: "t", Locations: []string{"/second.parquet"}}}

	t.Run("replace_drops_previous_views", func(t *testing.T) {
		c := newDuckDBCoordinator(t, dir)
		require.NoError(t, c.RegisterSources(ctx, first, false))
		require.NoError(t, c.RegisterSources(ctx, second, false))

		_, err := c.Query(ctx, "SELECT n FROM s.first")
		var qerr *domain.QueryError
		require.ErrorAs(t, err, &qerr)

		res, err := c.Query(ctx, "SELECT n FROM t.second")
		require.NoError(t, err)
		assert.Equal(t, []domain.Row{{"n": float64(2)}}, res.Rows)
	})

	t.Run("append_keeps_previous_views", func(t *testing.T) {
		c := newDuckDBCoordinator(t, dir)
		require.NoError(t, c.RegisterSources(ctx, first, false))
		require.NoError(t, c.RegisterSources(ctx, second, true))

		res, err := c.Query(ctx, "SELECT (SELECT n FROM s.first) AS a, (SELECT n FROM t.second) AS b")
		require.NoError(t, err)
		assert.Equal(t, []domain.Row{{"a": float64(1), "b": float64(2)}}, res.Rows)
	})

	t.Run("append_replaces_same_file", func(t *testing.T) {
		c := newDuckDBCoordinator(t, dir)
		require.NoError(t, c.RegisterSources(ctx, first, false))
		require.NoError(t, c.RegisterSources(ctx, first, true))

		res, err := c.Query(ctx, "SELECT count(*) AS c FROM s.first")
		require.NoError(t, err)
		assert.Equal(t, []domain.Row{{"c": float64(1)}}, res.Rows)
	})
}

func TestDuckDB_MissingFileRejectsViews(t *testing.T) {
	c := newDuckDBCoordinator(t, t.TempDir())
	ctx := context.Background()

	err := c.RegisterSources(ctx, domain.SourceMap{{Name: "s", Locations: []string{"/missing.parquet"}}}, false)
	var rerr *domain.RegistrationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "/missing.parquet", rerr.Location)

	_, err = c.Query(ctx, "SELECT 1")
	require.ErrorAs(t, err, &rerr)
}

func TestDuckDB_SearchPath(t *testing.T) {
	dir := t.TempDir()
	writeParquet(t, dir, "events.parquet", `SELECT 'click' AS kind`)

	c := newDuckDBCoordinator(t, dir)
	ctx := context.Background()
	require.NoError(t, c.RegisterSources(ctx, domain.SourceMap{{Name: "analytics", Locations: []string{"/events.parquet"}}}, false))
	require.NoError(t, c.SetSearchPath(ctx, []string{"analytics"}))

	res, err := c.Query(ctx, "SELECT kind FROM events")
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"kind": "click"}}, res.Rows)
}

func TestDuckDB_NativeTypes(t *testing.T) {
	c := coordinator.New(coordinator.Options{NativeTypes: true, WithoutSources: true, ReadyTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = c.Close() })

	tbl, err := c.QueryArrow(context.Background(), "SELECT 9007199254740993::BIGINT AS n")
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, arrow.INT64, tbl.Schema().Field(0).Type.ID())

	res, err := c.Query(context.Background(), "SELECT 9007199254740993::BIGINT AS n")
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"n": "9007199254740993"}}, res.Rows)
}

func TestDuckDB_NestedColumns(t *testing.T) {
	dir := t.TempDir()
	writeParquet(t, dir, "events.parquet", `
		SELECT * FROM (VALUES
			(1, [1, 2, 3], {'kind': 'click', 'tags': ['a', 'b']}, MAP {'x': 2.5::DOUBLE}),
			(2, NULL, NULL, NULL)
		) AS t(id, counts, detail, weights)`)

	c := newDuckDBCoordinator(t, dir)
	ctx := context.Background()
	require.NoError(t, c.RegisterSources(ctx, domain.SourceMap{{Name: "web", Locations: []string{"/events.parquet"}}}, false))

	res, err := c.Query(ctx, `SELECT counts, detail, weights FROM web.events ORDER BY id`)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	first := res.Rows[0]
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, first["counts"])
	assert.Equal(t, map[string]any{"kind": "click", "tags": []any{"a", "b"}}, first["detail"])
	assert.Equal(t, map[string]any{"x": 2.5}, first["weights"])

	second := res.Rows[1]
	assert.Nil(t, second["counts"])
	assert.Nil(t, second["detail"])
	assert.Nil(t, second["weights"])
}
