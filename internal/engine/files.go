package engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"duckbridge/internal/ddl"
	"duckbridge/internal/domain"
)

type viewKey struct {
	schema string
	view   string
}

// fileEntry is one registered virtual file and the views reading it.
type fileEntry struct {
	location string
	views    map[viewKey]struct{}
}

// RegisterFileURL maps name to location. Root-absolute paths resolve
// against the asset root; network locations are used as given. Registering
// an existing name replaces its location.
func (d *DB) RegisterFileURL(_ context.Context, name, location string) error {
	if d.isClosed() {
		return domain.ErrEngineClosed
	}
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	if location == "" {
		return fmt.Errorf("file location is required")
	}

	resolved := d.resolveLocation(location)

	d.filesMu.Lock()
	defer d.filesMu.Unlock()
	if entry, ok := d.files[name]; ok {
		entry.location = resolved
	} else {
		d.files[name] = &fileEntry{location: resolved, views: make(map[viewKey]struct{})}
	}
	d.logger.Debug("file registered", "name", name, "location", resolved)
	return nil
}

// CreateFileView creates or replaces schema.view over the registered file.
func (d *DB) CreateFileView(ctx context.Context, schema, view, fileName string) error {
	d.filesMu.Lock()
	entry, ok := d.files[fileName]
	var location string
	if ok {
		location = entry.location
	}
	d.filesMu.Unlock()
	if !ok {
		return fmt.Errorf("virtual file %q is not registered", fileName)
	}

	stmt, err := ddl.CreateOrReplaceFileView(schema, view, location)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if err := d.Exec(ctx, stmt); err != nil {
		return err
	}

	key := viewKey{schema: schema, view: view}
	d.filesMu.Lock()
	defer d.filesMu.Unlock()
	for name, e := range d.files {
		if name != fileName {
			delete(e.views, key)
		}
	}
	// The entry may have been dropped while the view was being created.
	if e, ok := d.files[fileName]; ok {
		e.views[key] = struct{}{}
	}
	return nil
}

// GlobFiles lists registered files whose name matches pattern using
// path.Match rules. A malformed pattern matches the identical name only.
func (d *DB) GlobFiles(_ context.Context, pattern string) ([]domain.VirtualFile, error) {
	if d.isClosed() {
		return nil, domain.ErrEngineClosed
	}
	d.filesMu.Lock()
	defer d.filesMu.Unlock()

	out := make([]domain.VirtualFile, 0, len(d.files))
	for name, entry := range d.files {
		if matchFile(pattern, name) {
			out = append(out, domain.VirtualFile{Name: name, Location: entry.location})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DropFile unregisters a file and drops the views that read it. Dropping an
// unknown name is a no-op.
func (d *DB) DropFile(ctx context.Context, name string) error {
	if d.isClosed() {
		return domain.ErrEngineClosed
	}
	d.filesMu.Lock()
	entry, ok := d.files[name]
	if ok {
		delete(d.files, name)
	}
	d.filesMu.Unlock()
	if !ok {
		return nil
	}

	keys := make([]viewKey, 0, len(entry.views))
	for k := range entry.views {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].schema != keys[j].schema {
			return keys[i].schema < keys[j].schema
		}
		return keys[i].view < keys[j].view
	})
	for _, k := range keys {
		stmt, err := ddl.DropView(k.schema, k.view)
		if err != nil {
			return fmt.Errorf("build DDL: %w", err)
		}
		if err := d.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("drop view %s.%s: %w", k.schema, k.view, err)
		}
	}
	d.logger.Debug("file dropped", "name", name, "views", len(keys))
	return nil
}

// FlushFiles persists pending writes. In-memory databases have none.
func (d *DB) FlushFiles(ctx context.Context) error {
	if d.isClosed() {
		return domain.ErrEngineClosed
	}
	if d.inMemory {
		return nil
	}
	return d.Exec(ctx, "CHECKPOINT")
}

func (d *DB) resolveLocation(location string) string {
	if d.assetRoot == "" || domain.IsNetworkLocation(location) {
		return location
	}
	if strings.Contains(d.assetRoot, "://") {
		return strings.TrimRight(d.assetRoot, "/") + "/" + strings.TrimLeft(location, "/")
	}
	return filepath.Join(d.assetRoot, filepath.FromSlash(location))
}

func matchFile(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	if err != nil {
		return pattern == name
	}
	return ok
}
