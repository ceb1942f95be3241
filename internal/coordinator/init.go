package coordinator

import (
	"context"

	"duckbridge/internal/domain"
	"duckbridge/internal/engine"
)

// EnsureInitialized starts the local engine exactly once. Concurrent callers
// wait on the first attempt, bounded by the ready timeout. A failed start is
// terminal: every later call returns the same *domain.InitializationError.
//
// Once the local engine is up, the remote session is dialed in the
// background. Its outcome only affects routing, never this call.
func (c *Coordinator) EnsureInitialized(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrEngineClosed
	}
	if c.local != nil {
		c.mu.Unlock()
		return nil
	}
	if c.started {
		c.mu.Unlock()
		_, err := c.initGate.WaitTimeout(ctx, c.opts.ReadyTimeout)
		return err
	}
	c.started = true
	c.mu.Unlock()

	return c.initialize(context.WithoutCancel(ctx))
}

func (c *Coordinator) initialize(ctx context.Context) error {
	features, err := c.opts.Probe(ctx)
	if err != nil {
		c.logger.Warn("feature probe failed, using serial engine", "error", err)
		features = engine.Features{}
	}
	variant := engine.SelectVariant(features)

	local, err := c.opts.OpenLocal(ctx, variant)
	if err != nil {
		ierr := domain.ErrInitialization("open local engine", err)
		c.initGate.Reject(ierr)
		c.logger.Error("local engine failed to start", "variant", variant, "error", err)
		return ierr
	}

	c.mu.Lock()
	if !c.initGate.Resolve(local) {
		c.mu.Unlock()
		_ = local.Close()
		return domain.ErrEngineClosed
	}
	c.local = local
	c.variant = variant
	c.mu.Unlock()
	c.logger.Info("local engine ready", "variant", variant)

	c.connectRemote()
	return nil
}

// connectRemote settles the remote gate in the background.
func (c *Coordinator) connectRemote() {
	if c.opts.DialRemote == nil {
		c.remoteGate.Reject(domain.ErrRemoteDisabled)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.bgCtx, c.opts.RemoteConnectTimeout)
		defer cancel()

		sess, err := c.opts.DialRemote(ctx)
		if err != nil {
			c.logger.Warn("remote engine unavailable, queries run locally", "error", err)
			c.remoteGate.Reject(err)
			return
		}
		if !c.remoteGate.Resolve(sess) {
			_ = sess.Close()
			return
		}
		c.logger.Info("remote engine session ready")
	}()
}
