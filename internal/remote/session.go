// Package remote is the client side of the remote engine: an authenticated
// Arrow Flight SQL session that returns query results as Arrow tables.
package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"duckbridge/internal/domain"
)

var _ domain.RemoteSession = (*Session)(nil)

// AuthorizationHeader carries the session credential on every call.
const AuthorizationHeader = "authorization"

const defaultConnectTimeout = 5 * time.Second

// Options configures Dial.
type Options struct {
	// URL is the engine endpoint, grpc://host:port or grpcs://host:port.
	URL string
	// Token is the opaque credential sent as a bearer token.
	Token          string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	// DialOptions are appended to the transport options, mainly for tests.
	DialOptions []grpc.DialOption
}

// Session is an open remote engine session.
type Session struct {
	client     *arrowflightsql.Client
	token      string
	serverName string
	logger     *slog.Logger
	alloc      memory.Allocator
}

// Dial connects to the remote engine and verifies the session with a
// GetSqlInfo handshake bounded by ConnectTimeout.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	target, secure, err := dialTarget(opts.URL)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)

	client, err := arrowflightsql.NewClient(target, nil, nil, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial remote engine: %w", err)
	}

	s := &Session{client: client, token: opts.Token, logger: logger, alloc: memory.DefaultAllocator}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	name, err := s.handshake(hctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("remote engine handshake: %w", err)
	}
	s.serverName = name
	logger.Info("remote engine session established", "target", target, "server", name)
	return s, nil
}

// ServerName is the name the remote engine reported during the handshake.
func (s *Session) ServerName() string { return s.serverName }

// Query executes query remotely and materializes the streamed result. The
// caller owns the table and must Release it.
func (s *Session) Query(ctx context.Context, query string) (arrow.Table, error) {
	ctx = s.withMetadata(ctx)
	info, err := s.client.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	var (
		schema  *arrow.Schema
		records []arrow.Record
	)
	release := func() {
		for _, r := range records {
			r.Release()
		}
	}
	for _, ep := range info.Endpoint {
		rdr, err := s.client.DoGet(ctx, ep.GetTicket())
		if err != nil {
			release()
			return nil, fmt.Errorf("fetch results: %w", err)
		}
		if schema == nil {
			schema = rdr.Schema()
		}
		for rdr.Next() {
			rec := rdr.Record()
			rec.Retain()
			records = append(records, rec)
		}
		err = rdr.Err()
		rdr.Release()
		if err != nil {
			release()
			return nil, fmt.Errorf("read results: %w", err)
		}
	}
	defer release()

	if schema == nil {
		schema, err = arrowflight.DeserializeSchema(info.GetSchema(), s.alloc)
		if err != nil {
			return nil, fmt.Errorf("decode result schema: %w", err)
		}
	}
	return array.NewTableFromRecords(schema, records), nil
}

// Close ends the session.
func (s *Session) Close() error {
	return s.client.Close()
}

func (s *Session) handshake(ctx context.Context) (string, error) {
	ctx = s.withMetadata(ctx)
	info, err := s.client.GetSqlInfo(ctx, []arrowflightsql.SqlInfo{arrowflightsql.SqlInfoFlightSqlServerName})
	if err != nil {
		return "", err
	}
	if len(info.Endpoint) == 0 {
		return "", fmt.Errorf("server returned no sql info endpoint")
	}
	rdr, err := s.client.DoGet(ctx, info.Endpoint[0].GetTicket())
	if err != nil {
		return "", err
	}
	defer rdr.Release()

	var name string
	for rdr.Next() {
		rec := rdr.Record()
		if rec.NumRows() == 0 || rec.NumCols() < 2 {
			continue
		}
		// SqlInfo rows are (info_name uint32, value dense union); the
		// server name is the string member of the union.
		if u, ok := rec.Column(1).(*array.DenseUnion); ok {
			if str, ok := u.Field(u.ChildID(0)).(*array.String); ok && str.Len() > 0 {
				name = str.Value(int(u.ValueOffset(0)))
			}
		}
	}
	return name, rdr.Err()
}

func (s *Session) withMetadata(ctx context.Context) context.Context {
	if s.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, AuthorizationHeader, "Bearer "+s.token)
}

func dialTarget(endpointURL string) (target string, secure bool, err error) {
	u, parseErr := url.Parse(endpointURL)
	if parseErr != nil {
		return "", false, fmt.Errorf("parse remote engine url: %w", parseErr)
	}

	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	switch scheme {
	case "grpc", "grpcs":
		if u.Host == "" {
			return "", false, fmt.Errorf("remote engine host is required")
		}
		return u.Host, scheme == "grpcs", nil
	default:
		return "", false, fmt.Errorf("remote engine requires a grpc:// or grpcs:// url")
	}
}
