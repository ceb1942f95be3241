package manifest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/robfig/cron/v3"

	"duckbridge/internal/domain"
)

// Registrar receives the sources of an applied manifest.
type Registrar interface {
	RegisterSources(ctx context.Context, sources domain.SourceMap, appendMode bool) error
}

// Refresher applies a manifest file and re-applies it on a cron schedule.
// A run is skipped when the file is byte-identical to the last applied one.
type Refresher struct {
	path   string
	reg    Registrar
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	applied []byte
}

// NewRefresher creates a Refresher for the manifest at path.
func NewRefresher(path string, reg Registrar, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		path:   path,
		reg:    reg,
		logger: logger.With("component", "manifest", "path", path),
		cron:   cron.New(),
	}
}

// Apply loads the manifest and registers its sources. It reports whether a
// registration ran.
func (r *Refresher) Apply(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("read manifest: %w", err)
	}
	if r.applied != nil && bytes.Equal(data, r.applied) {
		r.logger.Debug("manifest unchanged, skipping registration")
		return false, nil
	}

	m, err := Parse(data)
	if err != nil {
		return false, fmt.Errorf("%s: %w", r.path, err)
	}
	if err := r.reg.RegisterSources(ctx, m.Sources, m.Append); err != nil {
		return false, err
	}
	r.applied = data
	r.logger.Info("manifest applied", "sources", len(m.Sources), "append", m.Append)
	return true, nil
}

// Start schedules Apply with a standard five-field cron spec or a
// descriptor such as "@every 5m". Failed runs are logged and retried on
// the next tick.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.Apply(ctx); err != nil {
			r.logger.Warn("scheduled manifest refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	r.logger.Info("manifest refresh scheduled", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
