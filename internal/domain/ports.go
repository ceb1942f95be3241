package domain

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// VirtualFile is an entry of the local engine's virtual file registry.
type VirtualFile struct {
	Name     string // registered name, e.g. orders_daily.parquet
	Location string // resolved location the engine reads
}

// LocalEngine is the embedded engine handle shared by the registrar and the
// router. Query results are materialized Arrow tables owned by the caller.
type LocalEngine interface {
	Exec(ctx context.Context, query string) error
	QueryArrow(ctx context.Context, query string) (arrow.Table, error)

	// RegisterFileURL maps a virtual file name to a location.
	RegisterFileURL(ctx context.Context, name, location string) error
	// CreateFileView creates or replaces schema.view reading the named
	// virtual file. Dropping the file drops the view.
	CreateFileView(ctx context.Context, schema, view, fileName string) error
	GlobFiles(ctx context.Context, pattern string) ([]VirtualFile, error)
	DropFile(ctx context.Context, name string) error
	FlushFiles(ctx context.Context) error

	Close() error
}

// RemoteSession is an authenticated session with the remote engine.
type RemoteSession interface {
	Query(ctx context.Context, query string) (arrow.Table, error)
	Close() error
}
