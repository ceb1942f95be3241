package flightsql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func int64Table(name string, values ...int64) arrow.Table {
	schema := arrow.NewSchema([]arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, nil)
	col := b.NewArray()
	defer col.Release()
	rec := array.NewRecord(schema, []arrow.Array{col}, int64(len(values)))
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.Record{rec})
}

func startServer(t *testing.T, query QueryExecutor, opts ...Option) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0", nil, query, opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv
}

func newClient(t *testing.T, addr string) *arrowflightsql.Client {
	t.Helper()
	client, err := arrowflightsql.NewClient(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, nil, WithToken("secret"))
	require.NoError(t, srv.Start())
	require.Error(t, srv.Start(), "second start fails")

	addr := srv.Addr()
	require.NotEmpty(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Health checks bypass token auth.
	resp, err := grpcHealthV1.NewHealthClient(conn).Check(ctx, &grpcHealthV1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpcHealthV1.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, srv.Shutdown(ctx))
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Shutdown(ctx), "shutdown is idempotent")
}

func TestServer_ExecuteStatementQuery(t *testing.T) {
	srv := startServer(t, func(_ context.Context, query string) (arrow.Table, error) {
		require.Equal(t, "SELECT 42", query)
		return int64Table("answer", 42), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := newClient(t, srv.Addr())

	info, err := client.Execute(ctx, "SELECT 42")
	require.NoError(t, err)
	require.Len(t, info.Endpoint, 1)
	assert.Equal(t, int64(1), info.TotalRecords)

	rdr, err := client.DoGet(ctx, info.Endpoint[0].Ticket)
	require.NoError(t, err)
	t.Cleanup(rdr.Release)

	require.True(t, rdr.Next())
	rec := rdr.Record()
	require.Equal(t, int64(1), rec.NumRows())
	col, ok := rec.Column(0).(*array.Int64)
	require.True(t, ok, "native types are preserved")
	assert.Equal(t, int64(42), col.Value(0))
	assert.Equal(t, "answer", rec.ColumnName(0))
	require.False(t, rdr.Next())

	_, err = client.DoGet(ctx, info.Endpoint[0].Ticket)
	assert.Error(t, err, "tickets are single use")
}

func TestServer_QueryError(t *testing.T) {
	srv := startServer(t, func(context.Context, string) (arrow.Table, error) {
		return nil, fmt.Errorf("Catalog Error: Table with name missing does not exist")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := newClient(t, srv.Addr())

	_, err := client.Execute(ctx, "SELECT * FROM missing")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestServer_TokenAuth(t *testing.T) {
	srv := startServer(t, func(context.Context, string) (arrow.Table, error) {
		return int64Table("n", 1), nil
	}, WithToken("secret"))

	client := newClient(t, srv.Addr())

	tests := []struct {
		name     string
		header   string
		wantCode codes.Code
	}{
		{name: "missing_token", header: "", wantCode: codes.Unauthenticated},
		{name: "wrong_token", header: "Bearer nope", wantCode: codes.Unauthenticated},
		{name: "wrong_scheme", header: "Basic secret", wantCode: codes.Unauthenticated},
		{name: "valid_token", header: "Bearer secret", wantCode: codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if tt.header != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "authorization", tt.header)
			}
			_, err := client.Execute(ctx, "SELECT 1")
			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}

func TestServer_GetSqlInfo(t *testing.T) {
	srv := startServer(t, nil, WithServerName("test-engine"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := newClient(t, srv.Addr())

	info, err := client.GetSqlInfo(ctx, []arrowflightsql.SqlInfo{arrowflightsql.SqlInfoFlightSqlServerName, arrowflightsql.SqlInfoFlightSqlServerSql})
	require.NoError(t, err)
	require.NotEmpty(t, info.Endpoint)

	rdr, err := client.DoGet(ctx, info.Endpoint[0].Ticket)
	require.NoError(t, err)
	t.Cleanup(rdr.Release)

	require.True(t, rdr.Next())
	require.GreaterOrEqual(t, rdr.Record().NumRows(), int64(1))
}

func TestServer_GetTables(t *testing.T) {
	queries := make(chan string, 1)
	srv := startServer(t, func(_ context.Context, query string) (arrow.Table, error) {
		queries <- query
		schema := arrow.NewSchema([]arrow.Field{
			{Name: "table_catalog", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "table_schema", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "table_name", Type: arrow.BinaryTypes.String},
			{Name: "table_type", Type: arrow.BinaryTypes.String},
		}, nil)
		rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
		defer rb.Release()
		rb.Field(0).(*array.StringBuilder).Append("memory")
		rb.Field(1).(*array.StringBuilder).Append("orders")
		rb.Field(2).(*array.StringBuilder).Append("daily")
		rb.Field(3).(*array.StringBuilder).Append("VIEW")
		rec := rb.NewRecord()
		defer rec.Release()
		return array.NewTableFromRecords(schema, []arrow.Record{rec}), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := newClient(t, srv.Addr())

	schemaPattern := "ord%"
	info, err := client.GetTables(ctx, &arrowflightsql.GetTablesOpts{DbSchemaFilterPattern: &schemaPattern})
	require.NoError(t, err)

	rdr, err := client.DoGet(ctx, info.Endpoint[0].Ticket)
	require.NoError(t, err)
	t.Cleanup(rdr.Release)

	require.True(t, rdr.Next())
	rec := rdr.Record()
	require.Equal(t, int64(1), rec.NumRows())
	assert.Equal(t, "daily", rec.Column(2).(*array.String).Value(0))
	assert.Contains(t, <-queries, "table_schema LIKE 'ord%'")
}

func TestBuildTablesQuery(t *testing.T) {
	catalog := "mem'ory"
	tableTypes := []string{"table", " "}
	q := buildTablesQuery(arrowflightsql.GetTables(&getTablesStub{catalog: &catalog, tableTypes: tableTypes}))
	assert.Contains(t, q, "table_catalog = 'mem''ory'")
	assert.Contains(t, q, "UPPER(table_type) IN ('TABLE','BASE TABLE')")
	assert.Contains(t, q, "ORDER BY table_catalog")
}

type getTablesStub struct {
	catalog    *string
	tableTypes []string
}

func (g *getTablesStub) GetCatalog() *string                { return g.catalog }
func (g *getTablesStub) GetDBSchemaFilterPattern() *string  { return nil }
func (g *getTablesStub) GetTableNameFilterPattern() *string { return nil }
func (g *getTablesStub) GetTableTypes() []string            { return g.tableTypes }
func (g *getTablesStub) GetIncludeSchema() bool             { return false }
