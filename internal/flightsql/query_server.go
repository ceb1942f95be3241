package flightsql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QueryExecutor runs a statement and returns its materialized result. The
// server releases the table once it has been streamed.
type QueryExecutor func(ctx context.Context, query string) (arrow.Table, error)

// ticketTTL bounds how long an unfetched result is held.
const ticketTTL = 5 * time.Minute

// streamChunk is the number of rows sent per Flight message.
const streamChunk = 8192

type pendingResult struct {
	table   arrow.Table
	created time.Time
}

type queryServer struct {
	arrowflightsql.BaseServer

	query  QueryExecutor
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	tickets map[string]pendingResult
}

func newQueryServer(name string, logger *slog.Logger, query QueryExecutor) *queryServer {
	srv := &queryServer{
		query:   query,
		logger:  logger,
		now:     time.Now,
		tickets: make(map[string]pendingResult),
	}
	srv.Alloc = memory.DefaultAllocator
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerName, name)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerVersion, "dev")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerArrowVersion, "18")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerSql, true)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerReadOnly, true)
	return srv
}

func (s *queryServer) GetFlightInfoStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	tbl, err := s.run(ctx, stmt.GetQuery())
	if err != nil {
		return nil, err
	}

	handle := uuid.NewString()
	s.mu.Lock()
	s.evictExpiredLocked()
	s.tickets[handle] = pendingResult{table: tbl, created: s.now()}
	s.mu.Unlock()

	ticket, err := arrowflightsql.CreateStatementQueryTicket([]byte(handle))
	if err != nil {
		s.take(handle)
		tbl.Release()
		return nil, fmt.Errorf("create statement query ticket: %w", err)
	}

	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(tbl.Schema(), memory.DefaultAllocator),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket: &arrowflight.Ticket{Ticket: ticket},
			Location: []*arrowflight.Location{{
				Uri: arrowflight.LocationReuseConnection,
			}},
		}},
		TotalRecords: tbl.NumRows(),
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) GetSchemaStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, _ *arrowflight.FlightDescriptor) (*arrowflight.SchemaResult, error) {
	tbl, err := s.run(ctx, stmt.GetQuery())
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return &arrowflight.SchemaResult{Schema: arrowflight.SerializeSchema(tbl.Schema(), memory.DefaultAllocator)}, nil
}

func (s *queryServer) DoGetStatement(ctx context.Context, queryTicket arrowflightsql.StatementQueryTicket) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	tbl, ok := s.take(string(queryTicket.GetStatementHandle()))
	if !ok {
		return nil, nil, status.Error(codes.NotFound, "unknown statement handle")
	}
	return streamTable(ctx, tbl)
}

func (s *queryServer) GetFlightInfoTables(_ context.Context, req arrowflightsql.GetTables, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	if req.GetIncludeSchema() {
		return nil, status.Error(codes.Unimplemented, "table schemas are not supported")
	}
	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(tablesSchema, memory.DefaultAllocator),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket: &arrowflight.Ticket{Ticket: desc.Cmd},
			Location: []*arrowflight.Location{{
				Uri: arrowflight.LocationReuseConnection,
			}},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) DoGetTables(ctx context.Context, req arrowflightsql.GetTables) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	tbl, err := s.run(ctx, buildTablesQuery(req))
	if err != nil {
		return nil, nil, err
	}
	defer tbl.Release()

	rec, err := tablesRecord(tbl)
	if err != nil {
		return nil, nil, err
	}
	out := array.NewTableFromRecords(tablesSchema, []arrow.Record{rec})
	rec.Release()
	return streamTable(ctx, out)
}

func (s *queryServer) run(ctx context.Context, query string) (arrow.Table, error) {
	start := s.now()
	tbl, err := s.query(ctx, query)
	if err != nil {
		s.logger.Debug("flight sql query failed", "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("flight sql query", "rows", tbl.NumRows(), "duration", s.now().Sub(start))
	return tbl, nil
}

func (s *queryServer) take(handle string) (arrow.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tickets[handle]
	if ok {
		delete(s.tickets, handle)
	}
	return p.table, ok
}

func (s *queryServer) evictExpiredLocked() {
	now := s.now()
	for handle, p := range s.tickets {
		if now.Sub(p.created) > ticketTTL {
			p.table.Release()
			delete(s.tickets, handle)
		}
	}
}

func (s *queryServer) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for handle, p := range s.tickets {
		p.table.Release()
		delete(s.tickets, handle)
	}
}

// streamTable streams tbl and releases it once the stream is drained.
func streamTable(ctx context.Context, tbl arrow.Table) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	rdr := array.NewTableReader(tbl, streamChunk)
	tbl.Release()
	ch := make(chan arrowflight.StreamChunk)
	go arrowflight.StreamChunksFromReader(ctx, rdr, ch)
	return rdr.Schema(), ch, nil
}

// tablesSchema is the GetTables result schema without table schemas.
var tablesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "catalog_name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "db_schema_name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "table_name", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "table_type", Type: arrow.BinaryTypes.String, Nullable: false},
}, nil)

// tablesRecord reshapes an information_schema.tables result into the
// GetTables schema.
func tablesRecord(tbl arrow.Table) (arrow.Record, error) {
	builders := make([]*array.StringBuilder, 4)
	for i := range builders {
		builders[i] = array.NewStringBuilder(memory.DefaultAllocator)
		defer builders[i].Release()
	}

	tr := array.NewTableReader(tbl, streamChunk)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		if rec.NumCols() < 4 {
			return nil, fmt.Errorf("tables query returned %d columns", rec.NumCols())
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			for c, b := range builders {
				col := rec.Column(c)
				switch {
				case col.IsNull(row) && c < 2:
					b.AppendNull()
				case col.IsNull(row):
					b.Append("")
				default:
					b.Append(col.ValueStr(row))
				}
			}
		}
	}
	if err := tr.Err(); err != nil {
		return nil, err
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	rec := array.NewRecord(tablesSchema, cols, int64(cols[0].Len()))
	for _, c := range cols {
		c.Release()
	}
	return rec, nil
}

func buildTablesQuery(req arrowflightsql.GetTables) string {
	query := "SELECT table_catalog, table_schema, table_name, table_type FROM information_schema.tables"
	filters := make([]string, 0, 4)

	if catalog := req.GetCatalog(); catalog != nil {
		filters = append(filters, "table_catalog = "+quoteSQLLiteral(*catalog))
	}
	if pattern := req.GetDBSchemaFilterPattern(); pattern != nil {
		filters = append(filters, "table_schema LIKE "+quoteSQLLiteral(*pattern))
	}
	if pattern := req.GetTableNameFilterPattern(); pattern != nil {
		filters = append(filters, "table_name LIKE "+quoteSQLLiteral(*pattern))
	}

	if tableTypes := req.GetTableTypes(); len(tableTypes) > 0 {
		literals := make([]string, 0, len(tableTypes)*2)
		for _, tableType := range tableTypes {
			normalized := strings.ToUpper(strings.TrimSpace(tableType))
			if normalized == "" {
				continue
			}
			literals = append(literals, quoteSQLLiteral(normalized))
			if normalized == "TABLE" {
				literals = append(literals, quoteSQLLiteral("BASE TABLE"))
			}
		}
		if len(literals) > 0 {
			filters = append(filters, "UPPER(table_type) IN ("+strings.Join(literals, ",")+")")
		}
	}

	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	return query + " ORDER BY table_catalog, table_schema, table_name, table_type"
}

func quoteSQLLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
