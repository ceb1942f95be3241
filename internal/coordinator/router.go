package coordinator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"duckbridge/internal/domain"
	"duckbridge/internal/gate"
	"duckbridge/internal/normalize"
)

// Query runs sql and returns the normalized result. The remote engine is
// tried first when its session is ready; any remote failure is logged and
// the query is re-run on the local engine. Only a local failure is
// returned, as a *domain.QueryError.
//
// Query first waits for a source registration, failing with a
// *domain.TimeoutError after the ready timeout. A coordinator built
// WithoutSources skips the wait until the first RegisterSources call.
func (c *Coordinator) Query(ctx context.Context, sql string) (*domain.Result, error) {
	if err := c.awaitViews(ctx); err != nil {
		return nil, err
	}

	var remoteErr error
	if sess, ok := c.remoteSession(); ok {
		res, err := c.queryRemote(ctx, sess, sql)
		if err == nil {
			return res, nil
		}
		remoteErr = err
		c.logger.Warn("remote query failed, falling back to local engine", "error", err)
	}

	res, err := c.queryLocal(ctx, sql)
	if err != nil {
		return nil, &domain.QueryError{SQL: sql, Remote: remoteErr, Err: err}
	}
	return res, nil
}

// QueryArrow runs sql on the local engine only and returns the raw Arrow
// table. The caller must release it. It waits for registration the same
// way Query does.
func (c *Coordinator) QueryArrow(ctx context.Context, sql string) (arrow.Table, error) {
	if err := c.awaitViews(ctx); err != nil {
		return nil, err
	}
	tbl, err := c.localEngine().QueryArrow(ctx, sql)
	if err != nil {
		return nil, &domain.QueryError{SQL: sql, Err: err}
	}
	return tbl, nil
}

func (c *Coordinator) awaitViews(ctx context.Context) error {
	if err := c.EnsureInitialized(ctx); err != nil {
		return err
	}
	if c.opts.WithoutSources && !c.regStarted.Load() {
		return nil
	}
	_, err := c.viewsGate.WaitTimeout(ctx, c.opts.ReadyTimeout)
	return err
}

// remoteSession returns the session only when the remote gate is resolved.
// Pending and rejected gates both mean the session is not ready.
func (c *Coordinator) remoteSession() (domain.RemoteSession, bool) {
	if c.remoteGate.State() != gate.Resolved {
		return nil, false
	}
	sess, err := c.remoteGate.Wait(context.Background())
	return sess, err == nil && sess != nil
}

func (c *Coordinator) queryRemote(ctx context.Context, sess domain.RemoteSession, sql string) (*domain.Result, error) {
	tbl, err := sess.Query(ctx, sql)
	if err != nil {
		return nil, &domain.RemoteQueryError{Err: err}
	}
	defer tbl.Release()

	res, err := normalize.Table(domain.EngineRemote, tbl)
	if err != nil {
		return nil, &domain.RemoteQueryError{Err: err}
	}
	if c.opts.Debug {
		c.logger.Debug("remote query", "sql", sql, "rows", res.Len())
	}
	return res, nil
}

func (c *Coordinator) queryLocal(ctx context.Context, sql string) (*domain.Result, error) {
	tbl, err := c.localEngine().QueryArrow(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	res, err := normalize.Table(domain.EngineLocal, tbl)
	if err != nil {
		return nil, err
	}
	if c.opts.Debug {
		c.logger.Debug("local query", "sql", sql, "rows", res.Len())
	}
	return res, nil
}
