// Package flightsql serves a query executor over Arrow Flight SQL. It is the
// server side of the remote engine.
package flightsql

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcHealth "google.golang.org/grpc/health"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Option configures a Server.
type Option func(*Server)

// WithToken requires every Flight call to carry "authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithServerName sets the name reported through GetSqlInfo.
func WithServerName(name string) Option {
	return func(s *Server) { s.name = name }
}

// Server is a Flight SQL listener with a gRPC health service.
type Server struct {
	addr   string
	logger *slog.Logger
	query  QueryExecutor
	token  string
	name   string

	mu         sync.Mutex
	ln         net.Listener
	grpcServer *grpc.Server
	health     *grpcHealth.Server
	queries    *queryServer
	wg         sync.WaitGroup
}

func NewServer(addr string, logger *slog.Logger, query QueryExecutor, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if query == nil {
		query = func(context.Context, string) (arrow.Table, error) {
			return nil, fmt.Errorf("flight sql query executor is not configured")
		}
	}
	s := &Server{addr: addr, logger: logger, query: query, name: "duckbridge"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("flight sql listener already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen flight sql: %w", err)
	}
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryAuth),
		grpc.ChainStreamInterceptor(s.streamAuth),
	)
	queries := newQueryServer(s.name, s.logger, s.query)
	arrowflight.RegisterFlightServiceServer(grpcSrv, arrowflightsql.NewFlightServer(queries))
	healthSrv := grpcHealth.NewServer()
	healthSrv.SetServingStatus("", grpcHealthV1.HealthCheckResponse_SERVING)
	grpcHealthV1.RegisterHealthServer(grpcSrv, healthSrv)

	s.ln = ln
	s.grpcServer = grpcSrv
	s.health = healthSrv
	s.queries = queries
	s.wg.Add(1)
	go s.serveLoop()
	s.logger.Info("Flight SQL listener enabled", "addr", ln.Addr().String(), "auth", s.token != "")
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	grpcSrv := s.grpcServer
	health := s.health
	queries := s.queries
	s.ln = nil
	s.grpcServer = nil
	s.health = nil
	s.queries = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	if health != nil {
		health.Shutdown()
	}

	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
			return fmt.Errorf("flight sql shutdown: %w", ctx.Err())
		case <-time.After(5 * time.Second):
			grpcSrv.Stop()
		}
	}
	if queries != nil {
		queries.releaseAll()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flight sql shutdown wait: %w", ctx.Err())
	}
}

func (s *Server) serveLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	ln := s.ln
	grpcSrv := s.grpcServer
	s.mu.Unlock()

	if ln == nil || grpcSrv == nil {
		return
	}
	if err := grpcSrv.Serve(ln); err != nil {
		s.logger.Debug("flight sql gRPC server stopped", "error", err)
	}
}

func (s *Server) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.authorize(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.authorize(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	return handler(srv, ss)
}

// authorize checks the bearer token. Health checks are always allowed.
func (s *Server) authorize(ctx context.Context, method string) error {
	if s.token == "" || strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("authorization") {
		token, ok := strings.CutPrefix(v, "Bearer ")
		if ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1 {
			return nil
		}
	}
	s.logger.Warn("flight sql call rejected", "method", method)
	return status.Error(codes.Unauthenticated, "invalid or missing token")
}
