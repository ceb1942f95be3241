// Package engine is the embedded DuckDB engine: it opens the database with
// the session options the query layer depends on, runs statements over one
// pinned connection, returns query results as Arrow tables, and keeps the
// virtual file registry that source views read from.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/duckdb/duckdb-go/v2"

	"duckbridge/internal/ddl"
	"duckbridge/internal/domain"
)

var _ domain.LocalEngine = (*DB)(nil)

// Variant selects how the engine is built for the host.
type Variant string

const (
	// VariantParallel lets DuckDB use its default worker threads.
	VariantParallel Variant = "parallel"
	// VariantSerial pins DuckDB to a single thread for hosts without
	// usable parallelism.
	VariantSerial Variant = "serial"
)

// Features is the result of probing the host.
type Features struct {
	Threads bool // host can run engine worker threads
}

// FeatureProbe inspects the host before the engine is opened.
type FeatureProbe func(ctx context.Context) (Features, error)

// DetectFeatures is the default probe.
func DetectFeatures(_ context.Context) (Features, error) {
	return Features{Threads: runtime.GOMAXPROCS(0) > 1}, nil
}

// SelectVariant maps probed features to an engine variant.
func SelectVariant(f Features) Variant {
	if f.Threads {
		return VariantParallel
	}
	return VariantSerial
}

// Options configures Open.
type Options struct {
	Path      string  // database file; empty opens an in-memory database
	Variant   Variant // defaults to VariantParallel
	Session   SessionOptions
	AssetRoot string // directory or base URL that root-absolute file paths resolve against
	Logger    *slog.Logger
}

// DB is an open DuckDB database with one pinned connection.
type DB struct {
	db        *sql.DB
	conn      *sql.Conn
	variant   Variant
	session   SessionOptions
	assetRoot string
	inMemory  bool
	logger    *slog.Logger
	alloc     memory.Allocator

	filesMu sync.Mutex
	files   map[string]*fileEntry

	closeOnce sync.Once
	closed    chan struct{}
}

// Open starts DuckDB and pins a connection.
func Open(ctx context.Context, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	variant := opts.Variant
	if variant == "" {
		variant = VariantParallel
	}

	connector, err := duckdb.NewConnector(opts.Path, func(execer driver.ExecerContext) error {
		if variant != VariantSerial {
			return nil
		}
		_, err := execer.ExecContext(context.Background(), "SET threads = 1", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect duckdb: %w", err)
	}

	logger.Debug("duckdb opened", "variant", variant, "path", opts.Path, "session", opts.Session)
	return &DB{
		db:        db,
		conn:      conn,
		variant:   variant,
		session:   opts.Session,
		assetRoot: opts.AssetRoot,
		inMemory:  opts.Path == "" || opts.Path == ":memory:",
		logger:    logger,
		alloc:     memory.DefaultAllocator,
		files:     make(map[string]*fileEntry),
		closed:    make(chan struct{}),
	}, nil
}

// Variant returns the variant the engine was opened with.
func (d *DB) Variant() Variant { return d.variant }

// SQLDB exposes the underlying pool for callers that need database/sql.
func (d *DB) SQLDB() *sql.DB { return d.db }

// Exec runs a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, query string) error {
	if d.isClosed() {
		return domain.ErrEngineClosed
	}
	d.logger.Debug("exec", "sql", query)
	if _, err := d.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return nil
}

// QueryArrow runs a query and returns the materialized Arrow result with
// the session coercions applied. The caller owns the table and must Release
// it.
func (d *DB) QueryArrow(ctx context.Context, query string) (arrow.Table, error) {
	if d.isClosed() {
		return nil, domain.ErrEngineClosed
	}
	d.logger.Debug("query", "sql", query)

	schema, records, err := d.queryRecords(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	coerced, outSchema, err := d.session.coerce(d.alloc, schema, records)
	releaseAll(records)
	if err != nil {
		return nil, fmt.Errorf("coerce result: %w", err)
	}
	defer releaseAll(coerced)

	tbl := array.NewTableFromRecords(outSchema, coerced)
	d.logger.Debug("query result", "rows", tbl.NumRows(), "columns", tbl.NumCols())
	return tbl, nil
}

// InstallExtensions installs and loads the extensions needed to read
// network locations.
func (d *DB) InstallExtensions(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = []string{"httpfs"}
	}
	for _, name := range names {
		stmt, err := ddl.LoadExtension(name)
		if err != nil {
			return fmt.Errorf("build DDL: %w", err)
		}
		if err := d.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("extension setup (%s): %w", name, err)
		}
	}
	return nil
}

// CreateS3Secret creates a named DuckDB secret for s3:// locations.
func (d *DB) CreateS3Secret(ctx context.Context, name, keyID, secret, endpoint, region, urlStyle string) error {
	secretSQL, err := ddl.CreateS3Secret(name, keyID, secret, endpoint, region, urlStyle)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if err := d.Exec(ctx, secretSQL); err != nil {
		return fmt.Errorf("create S3 secret %q: %w", name, err)
	}
	return nil
}

// Close releases the pinned connection and the database.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		if cerr := d.conn.Close(); cerr != nil {
			err = cerr
		}
		if cerr := d.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (d *DB) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

func releaseAll(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}

// copyRecord deep-copies rec into buffers allocated from mem, so the copy
// outlives whatever owns rec's memory.
func copyRecord(mem memory.Allocator, rec arrow.Record) (arrow.Record, error) {
	cols := make([]arrow.Array, rec.NumCols())
	release := func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}
	defer release()
	for i := range cols {
		src := rec.Column(i)
		if src.Len() == 0 {
			cols[i] = array.MakeArrayOfNull(mem, src.DataType(), 0)
			continue
		}
		col, err := array.Concatenate([]arrow.Array{src}, mem)
		if err != nil {
			return nil, fmt.Errorf("copy column %q: %w", rec.ColumnName(i), err)
		}
		cols[i] = col
	}
	return array.NewRecord(rec.Schema(), cols, rec.NumRows()), nil
}
