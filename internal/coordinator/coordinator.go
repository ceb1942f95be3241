// Package coordinator is the dual-engine query layer. A Coordinator owns the
// local DuckDB engine and the optional remote engine session, registers
// Parquet sources as views, and routes queries remote-first with a local
// fallback.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"duckbridge/internal/ddl"
	"duckbridge/internal/domain"
	"duckbridge/internal/engine"
	"duckbridge/internal/gate"
	"duckbridge/internal/remote"
)

const (
	DefaultReadyTimeout         = 10 * time.Second
	DefaultRemoteConnectTimeout = 5 * time.Second
)

// LocalOpener opens the local engine for the selected variant.
type LocalOpener func(ctx context.Context, variant engine.Variant) (domain.LocalEngine, error)

// RemoteDialer establishes a remote engine session.
type RemoteDialer func(ctx context.Context) (domain.RemoteSession, error)

// S3Config creates a DuckDB secret for s3:// source locations.
type S3Config struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string
}

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	Path      string // DuckDB file; empty for in-memory
	AssetRoot string // directory or base URL for root-absolute locations

	RemoteURL   string // grpc:// or grpcs:// address of the remote engine
	RemoteToken string

	ReadyTimeout         time.Duration
	RemoteConnectTimeout time.Duration

	// Debug logs engine statements and result sizes.
	Debug  bool
	Logger *slog.Logger

	// Extensions are installed and loaded after the engine opens. httpfs is
	// added when S3 is set.
	Extensions []string
	S3         *S3Config

	// WithoutSources lets queries run before any registration. Once a
	// RegisterSources call starts, queries wait on its outcome as usual.
	WithoutSources bool

	// NativeTypes turns off the session coercions so QueryArrow returns the
	// engine's own Arrow types. The remote engine server runs this way.
	NativeTypes bool

	Probe      engine.FeatureProbe
	OpenLocal  LocalOpener
	DialRemote RemoteDialer
}

// Coordinator is the process-wide query context. It is safe for concurrent
// use.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	initGate   *gate.Gate[domain.LocalEngine]
	remoteGate *gate.Gate[domain.RemoteSession]
	viewsGate  *gate.Gate[struct{}]

	mu      sync.Mutex
	started bool
	closed  bool
	local   domain.LocalEngine
	variant engine.Variant

	// regMu serializes registration passes and file clearing.
	regMu sync.Mutex
	// regStarted is set by the first RegisterSources call.
	regStarted atomic.Bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	closeOnce sync.Once
}

// New creates a Coordinator. Nothing is started until the first call that
// needs an engine.
func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.RemoteConnectTimeout <= 0 {
		opts.RemoteConnectTimeout = DefaultRemoteConnectTimeout
	}
	if opts.Probe == nil {
		opts.Probe = engine.DetectFeatures
	}

	c := &Coordinator{
		opts:       opts,
		logger:     opts.Logger.With("component", "coordinator"),
		initGate:   gate.New[domain.LocalEngine]("engine initialization"),
		remoteGate: gate.New[domain.RemoteSession]("remote session"),
		viewsGate:  gate.New[struct{}]("view registration"),
	}
	if c.opts.OpenLocal == nil {
		c.opts.OpenLocal = c.openEngine
	}
	if c.opts.DialRemote == nil && opts.RemoteURL != "" {
		c.opts.DialRemote = c.dialRemote
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c
}

// Status is a point-in-time view of the coordinator's gates.
type Status struct {
	Local       string         `json:"local"`
	Remote      string         `json:"remote"`
	Views       string         `json:"views"`
	Variant     engine.Variant `json:"variant,omitempty"`
	LocalError  string         `json:"local_error,omitempty"`
	RemoteError string         `json:"remote_error,omitempty"`
	ViewsError  string         `json:"views_error,omitempty"`
}

// Status reports the state of every gate without blocking.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	variant := c.variant
	c.mu.Unlock()

	return Status{
		Local:       c.initGate.State().String(),
		Remote:      c.remoteGate.State().String(),
		Views:       c.viewsGate.State().String(),
		Variant:     variant,
		LocalError:  rejection(c.initGate),
		RemoteError: rejection(c.remoteGate),
		ViewsError:  rejection(c.viewsGate),
	}
}

func rejection[T any](g *gate.Gate[T]) string {
	if g.State() != gate.Rejected {
		return ""
	}
	_, err := g.Wait(context.Background())
	return err.Error()
}

// SetSearchPath sets the schemas unqualified names resolve against on the
// local engine.
func (c *Coordinator) SetSearchPath(ctx context.Context, schemas []string) error {
	if err := c.EnsureInitialized(ctx); err != nil {
		return err
	}
	stmt, err := ddl.SetSearchPath(schemas)
	if err != nil {
		return domain.ErrValidation("search path: %v", err)
	}
	return c.localEngine().Exec(ctx, stmt)
}

// RemoteReady waits, bounded by the ready timeout, for the remote session.
// It returns domain.ErrRemoteDisabled when no remote engine is configured.
func (c *Coordinator) RemoteReady(ctx context.Context) error {
	if err := c.EnsureInitialized(ctx); err != nil {
		return err
	}
	_, err := c.remoteGate.WaitTimeout(ctx, c.opts.ReadyTimeout)
	return err
}

// Close stops background work and closes both engines. Calls after Close
// fail with domain.ErrEngineClosed.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.started = true
		c.initGate.Reject(domain.ErrEngineClosed)
		local := c.local
		c.mu.Unlock()

		c.bgCancel()
		c.bg.Wait()

		c.remoteGate.Reject(domain.ErrEngineClosed)
		c.viewsGate.Reject(domain.ErrEngineClosed)

		if c.remoteGate.State() == gate.Resolved {
			if sess, werr := c.remoteGate.Wait(context.Background()); werr == nil {
				err = errors.Join(err, sess.Close())
			}
		}
		if local != nil {
			err = errors.Join(err, local.Close())
		}
	})
	return err
}

func (c *Coordinator) localEngine() domain.LocalEngine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Coordinator) engineLogger() *slog.Logger {
	if !c.opts.Debug {
		return nil
	}
	return c.opts.Logger.With("component", "engine")
}

// openEngine is the default LocalOpener: DuckDB with the fixed session
// coercions, plus any configured extensions and S3 secret.
func (c *Coordinator) openEngine(ctx context.Context, variant engine.Variant) (domain.LocalEngine, error) {
	session := engine.DefaultSessionOptions
	if c.opts.NativeTypes {
		session = engine.SessionOptions{}
	}
	db, err := engine.Open(ctx, engine.Options{
		Path:      c.opts.Path,
		Variant:   variant,
		Session:   session,
		AssetRoot: c.opts.AssetRoot,
		Logger:    c.engineLogger(),
	})
	if err != nil {
		return nil, err
	}

	exts := c.opts.Extensions
	if c.opts.S3 != nil {
		exts = append(append([]string(nil), exts...), "httpfs")
	}
	if len(exts) > 0 {
		if err := db.InstallExtensions(ctx, dedupe(exts)...); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if s3 := c.opts.S3; s3 != nil {
		if err := db.CreateS3Secret(ctx, "duckbridge_s3", s3.KeyID, s3.Secret, s3.Endpoint, s3.Region, s3.URLStyle); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// dialRemote is the default RemoteDialer for a configured RemoteURL.
func (c *Coordinator) dialRemote(ctx context.Context) (domain.RemoteSession, error) {
	sess, err := remote.Dial(ctx, remote.Options{
		URL:            c.opts.RemoteURL,
		Token:          c.opts.RemoteToken,
		ConnectTimeout: c.opts.RemoteConnectTimeout,
		Logger:         c.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
