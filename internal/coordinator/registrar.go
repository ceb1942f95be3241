package coordinator

import (
	"context"
	"fmt"

	"duckbridge/internal/ddl"
	"duckbridge/internal/domain"
)

// RegisterSources exposes every source location as a view "<source>"."<stem>".
// Without appendMode all previously registered files, and the views over
// them, are dropped first. With appendMode only files registered under the
// same derived name or location are replaced.
//
// A failure rejects the views gate and returns a *domain.RegistrationError.
// Work done before the failure is kept.
func (c *Coordinator) RegisterSources(ctx context.Context, sources domain.SourceMap, appendMode bool) error {
	if err := c.EnsureInitialized(ctx); err != nil {
		return err
	}
	c.regStarted.Store(true)

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if err := c.register(ctx, c.localEngine(), sources, appendMode); err != nil {
		c.viewsGate.Reject(err)
		c.logger.Error("source registration failed", "error", err)
		return err
	}
	c.viewsGate.Resolve(struct{}{})
	return nil
}

func (c *Coordinator) register(ctx context.Context, local domain.LocalEngine, sources domain.SourceMap, appendMode bool) error {
	if !appendMode {
		if err := clearFiles(ctx, local, "*"); err != nil {
			return &domain.RegistrationError{Err: fmt.Errorf("clear virtual files: %w", err)}
		}
	}

	views := 0
	for _, src := range sources {
		stmt, err := ddl.CreateSchemaIfNotExists(src.Name)
		if err != nil {
			return &domain.RegistrationError{Source: src.Name, Err: err}
		}
		if err := local.Exec(ctx, stmt); err != nil {
			return &domain.RegistrationError{Source: src.Name, Err: fmt.Errorf("create schema: %w", err)}
		}

		for _, loc := range src.Locations {
			if err := c.registerLocation(ctx, local, domain.DescribeView(src.Name, loc), appendMode); err != nil {
				return err
			}
			views++
		}
	}
	c.logger.Info("sources registered", "sources", len(sources), "views", views, "append", appendMode)
	return nil
}

func (c *Coordinator) registerLocation(ctx context.Context, local domain.LocalEngine, d domain.ViewDescriptor, appendMode bool) error {
	if err := ddl.ValidateName(d.Table); err != nil {
		return domain.ErrRegistration(d.Schema, d.Location, "invalid view name %q: %w", d.Table, err)
	}
	if appendMode {
		for _, pattern := range []string{d.FileName, d.Location} {
			if err := clearFiles(ctx, local, pattern); err != nil {
				return domain.ErrRegistration(d.Schema, d.Location, "clear previous file: %w", err)
			}
		}
	}
	if err := local.RegisterFileURL(ctx, d.FileName, d.Path); err != nil {
		return domain.ErrRegistration(d.Schema, d.Location, "register file %s: %w", d.FileName, err)
	}
	if err := local.CreateFileView(ctx, d.Schema, d.Table, d.FileName); err != nil {
		return domain.ErrRegistration(d.Schema, d.Location, "create view %s: %w", d.QualifiedName(), err)
	}
	c.logger.Debug("view registered", "view", d.QualifiedName(), "file", d.FileName, "path", d.Path)
	return nil
}

// ClearVirtualFiles flushes the engine and drops every registered file whose
// name matches glob, along with the views reading it.
func (c *Coordinator) ClearVirtualFiles(ctx context.Context, glob string) error {
	if err := c.EnsureInitialized(ctx); err != nil {
		return err
	}
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return clearFiles(ctx, c.localEngine(), glob)
}

func clearFiles(ctx context.Context, local domain.LocalEngine, glob string) error {
	if err := local.FlushFiles(ctx); err != nil {
		return fmt.Errorf("flush files: %w", err)
	}
	files, err := local.GlobFiles(ctx, glob)
	if err != nil {
		return fmt.Errorf("glob files %q: %w", glob, err)
	}
	for _, f := range files {
		if err := local.DropFile(ctx, f.Name); err != nil {
			return fmt.Errorf("drop file %s: %w", f.Name, err)
		}
	}
	return nil
}
