// Package testutil provides shared mock implementations of the engine ports
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"duckbridge/internal/domain"
)

// === Local Engine Mock ===

// MockLocalEngine implements domain.LocalEngine for testing. Methods without
// a function set succeed and are recorded.
type MockLocalEngine struct {
	ExecFn            func(ctx context.Context, query string) error
	QueryArrowFn      func(ctx context.Context, query string) (arrow.Table, error)
	RegisterFileURLFn func(ctx context.Context, name, location string) error
	CreateFileViewFn  func(ctx context.Context, schema, view, fileName string) error
	GlobFilesFn       func(ctx context.Context, pattern string) ([]domain.VirtualFile, error)
	DropFileFn        func(ctx context.Context, name string) error
	FlushFilesFn      func(ctx context.Context) error

	mu      sync.Mutex
	execs   []string
	queries []string
	dropped []string
	closed  bool
}

var _ domain.LocalEngine = (*MockLocalEngine)(nil)

// Exec implements the interface method for testing.
func (m *MockLocalEngine) Exec(ctx context.Context, query string) error {
	m.mu.Lock()
	m.execs = append(m.execs, query)
	m.mu.Unlock()
	if m.ExecFn != nil {
		return m.ExecFn(ctx, query)
	}
	return nil
}

// QueryArrow implements the interface method for testing.
func (m *MockLocalEngine) QueryArrow(ctx context.Context, query string) (arrow.Table, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.QueryArrowFn != nil {
		return m.QueryArrowFn(ctx, query)
	}
	panic("unexpected call to MockLocalEngine.QueryArrow")
}

// RegisterFileURL implements the interface method for testing.
func (m *MockLocalEngine) RegisterFileURL(ctx context.Context, name, location string) error {
	if m.RegisterFileURLFn != nil {
		return m.RegisterFileURLFn(ctx, name, location)
	}
	return nil
}

// CreateFileView implements the interface method for testing.
func (m *MockLocalEngine) CreateFileView(ctx context.Context, schema, view, fileName string) error {
	if m.CreateFileViewFn != nil {
		return m.CreateFileViewFn(ctx, schema, view, fileName)
	}
	return nil
}

// GlobFiles implements the interface method for testing.
func (m *MockLocalEngine) GlobFiles(ctx context.Context, pattern string) ([]domain.VirtualFile, error) {
	if m.GlobFilesFn != nil {
		return m.GlobFilesFn(ctx, pattern)
	}
	return nil, nil
}

// DropFile implements the interface method for testing.
func (m *MockLocalEngine) DropFile(ctx context.Context, name string) error {
	m.mu.Lock()
	m.dropped = append(m.dropped, name)
	m.mu.Unlock()
	if m.DropFileFn != nil {
		return m.DropFileFn(ctx, name)
	}
	return nil
}

// FlushFiles implements the interface method for testing.
func (m *MockLocalEngine) FlushFiles(ctx context.Context) error {
	if m.FlushFilesFn != nil {
		return m.FlushFilesFn(ctx)
	}
	return nil
}

// Close implements the interface method for testing.
func (m *MockLocalEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Execs returns the statements passed to Exec, in order.
func (m *MockLocalEngine) Execs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.execs...)
}

// Queries returns the statements passed to QueryArrow, in order.
func (m *MockLocalEngine) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// Dropped returns the file names passed to DropFile, in order.
func (m *MockLocalEngine) Dropped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dropped...)
}

// Closed reports whether Close was called.
func (m *MockLocalEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// === Remote Session Mock ===

// MockRemoteSession implements domain.RemoteSession for testing.
type MockRemoteSession struct {
	QueryFn func(ctx context.Context, query string) (arrow.Table, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

var _ domain.RemoteSession = (*MockRemoteSession)(nil)

// Query implements the interface method for testing.
func (m *MockRemoteSession) Query(ctx context.Context, query string) (arrow.Table, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.QueryFn != nil {
		return m.QueryFn(ctx, query)
	}
	panic("unexpected call to MockRemoteSession.Query")
}

// Close implements the interface method for testing.
func (m *MockRemoteSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Query was called.
func (m *MockRemoteSession) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockRemoteSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// === Arrow fixtures ===

// StringTable builds a one-column string table. The caller releases it.
func StringTable(column string, values ...string) arrow.Table {
	schema := arrow.NewSchema([]arrow.Field{{Name: column, Type: arrow.BinaryTypes.String, Nullable: true}}, nil)
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, nil)
	return singleColumnTable(schema, b.NewArray())
}

// Int64Table builds a one-column int64 table. The caller releases it.
func Int64Table(column string, values ...int64) arrow.Table {
	schema := arrow.NewSchema([]arrow.Field{{Name: column, Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, nil)
	return singleColumnTable(schema, b.NewArray())
}

func singleColumnTable(schema *arrow.Schema, col arrow.Array) arrow.Table {
	defer col.Release()
	rec := array.NewRecord(schema, []arrow.Array{col}, int64(col.Len()))
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}
