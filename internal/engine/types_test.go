//go:build !duckdb_arrow

package engine

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColumnType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  arrow.DataType
	}{
		{name: "scalar", input: "INTEGER", want: arrow.PrimitiveTypes.Int32},
		{name: "list", input: "INTEGER[]", want: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{name: "nested_list", input: "VARCHAR[][]", want: arrow.ListOf(arrow.ListOf(arrow.BinaryTypes.String))},
		{name: "fixed_array", input: "DOUBLE[3]", want: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
		{name: "decimal_list", input: "DECIMAL(18,3)[]", want: arrow.ListOf(&arrow.Decimal128Type{Precision: 18, Scale: 3})},
		{
			name:  "struct",
			input: `STRUCT("a" INTEGER, "b" VARCHAR[])`,
			want: arrow.StructOf(
				arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
				arrow.Field{Name: "b", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
			),
		},
		{
			name:  "struct_quoted_name",
			input: `STRUCT("x, ""y"" (z)" DOUBLE)`,
			want:  arrow.StructOf(arrow.Field{Name: `x, "y" (z)`, Type: arrow.PrimitiveTypes.Float64, Nullable: true}),
		},
		{
			name:  "map_of_struct",
			input: `MAP(VARCHAR, STRUCT("n" BIGINT))`,
			want: arrow.MapOf(arrow.BinaryTypes.String,
				arrow.StructOf(arrow.Field{Name: "n", Type: arrow.PrimitiveTypes.Int64, Nullable: true})),
		},
		{name: "union_as_text", input: `UNION("num" INTEGER, "str" VARCHAR)`, want: arrow.BinaryTypes.String},
		{name: "unknown_as_text", input: "ENUM", want: arrow.BinaryTypes.String},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseColumnType(tt.input)
			require.NoError(t, err)
			assert.True(t, arrow.TypeEqual(tt.want, got.arrow), "got %s, want %s", got.arrow, tt.want)
		})
	}
}

func TestParseColumnType_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "unterminated_name", input: `STRUCT("a INTEGER)`},
		{name: "field_without_type", input: `STRUCT("a")`},
		{name: "map_one_type", input: "MAP(INTEGER)"},
		{name: "unbalanced", input: "STRUCT(a INTEGER))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseColumnType(tt.input)
			require.Error(t, err)
		})
	}
}

func TestQueryRecords_UnionAsJSON(t *testing.T) {
	db, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer db.Close()

	schema, records, err := db.queryRecords(context.Background(),
		`SELECT (123)::UNION(num INTEGER, str VARCHAR) AS u UNION ALL SELECT ('hi')::UNION(num INTEGER, str VARCHAR)`)
	require.NoError(t, err)
	defer releaseAll(records)

	assert.Equal(t, arrow.STRING, schema.Field(0).Type.ID())
	col := records[0].Column(0).(*array.String)
	assert.ElementsMatch(t, []string{`{"num":123}`, `{"str":"hi"}`}, []string{col.Value(0), col.Value(1)})
}
