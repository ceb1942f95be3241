//go:build !duckdb_arrow

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
)

// recordBatchSize caps the rows per record built from database/sql rows.
const recordBatchSize = 2048

// queryRecords builds Arrow records from database/sql rows. It is used when
// the driver is built without its Arrow interface; column types follow the
// mapping DuckDB uses for its own Arrow export.
func (d *DB) queryRecords(ctx context.Context, query string) (*arrow.Schema, []arrow.Record, error) {
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("column types: %w", err)
	}
	fields := make([]arrow.Field, len(colTypes))
	types := make([]*columnType, len(colTypes))
	for i, ct := range colTypes {
		types[i], err = parseColumnType(ct.DatabaseTypeName())
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", ct.Name(), err)
		}
		fields[i] = arrow.Field{Name: ct.Name(), Type: types[i].arrow, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	rb := array.NewRecordBuilder(d.alloc, schema)
	defer rb.Release()

	var (
		records []arrow.Record
		pending int
	)
	values := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			releaseAll(records)
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if err := appendValue(rb.Field(i), types[i], v); err != nil {
				releaseAll(records)
				return nil, nil, fmt.Errorf("column %q: %w", fields[i].Name, err)
			}
		}
		pending++
		if pending == recordBatchSize {
			records = append(records, rb.NewRecord())
			pending = 0
		}
	}
	if err := rows.Err(); err != nil {
		releaseAll(records)
		return nil, nil, err
	}
	if pending > 0 || len(records) == 0 {
		records = append(records, rb.NewRecord())
	}
	return schema, records, nil
}

func arrowTypeFor(dbType string) arrow.DataType {
	switch dbType {
	case "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean
	case "TINYINT":
		return arrow.PrimitiveTypes.Int8
	case "SMALLINT":
		return arrow.PrimitiveTypes.Int16
	case "INTEGER":
		return arrow.PrimitiveTypes.Int32
	case "BIGINT":
		return arrow.PrimitiveTypes.Int64
	case "UTINYINT":
		return arrow.PrimitiveTypes.Uint8
	case "USMALLINT":
		return arrow.PrimitiveTypes.Uint16
	case "UINTEGER":
		return arrow.PrimitiveTypes.Uint32
	case "UBIGINT":
		return arrow.PrimitiveTypes.Uint64
	case "FLOAT":
		return arrow.PrimitiveTypes.Float32
	case "DOUBLE", "HUGEINT", "UHUGEINT":
		return arrow.PrimitiveTypes.Float64
	case "DATE":
		return arrow.FixedWidthTypes.Date32
	case "TIME":
		return arrow.FixedWidthTypes.Time64us
	case "TIMESTAMP", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS":
		return arrow.FixedWidthTypes.Timestamp_us
	case "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case "INTERVAL":
		return arrow.FixedWidthTypes.Duration_us
	case "BLOB":
		return arrow.BinaryTypes.Binary
	}
	var precision, scale int32
	if _, err := fmt.Sscanf(dbType, "DECIMAL(%d,%d)", &precision, &scale); err == nil {
		return &arrow.Decimal128Type{Precision: precision, Scale: scale}
	}
	return arrow.BinaryTypes.String
}

func appendValue(b array.Builder, ct *columnType, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	dbType := ct.name
	switch b := b.(type) {
	case *array.MapBuilder:
		m, ok := v.(duckdb.Map)
		if !ok {
			return fmt.Errorf("unexpected %T for %s", v, dbType)
		}
		b.Append(true)
		for _, k := range sortedKeys(m) {
			if err := appendValue(b.KeyBuilder(), ct.key, k); err != nil {
				return err
			}
			if err := appendValue(b.ItemBuilder(), ct.value, m[k]); err != nil {
				return err
			}
		}
	case *array.ListBuilder:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("unexpected %T for %s", v, dbType)
		}
		b.Append(true)
		for _, item := range items {
			if err := appendValue(b.ValueBuilder(), ct.elem, item); err != nil {
				return err
			}
		}
	case *array.StructBuilder:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("unexpected %T for %s", v, dbType)
		}
		b.Append(true)
		for i, f := range ct.fields {
			if err := appendValue(b.FieldBuilder(i), f.typ, m[f.name]); err != nil {
				return fmt.Errorf("field %q: %w", f.name, err)
			}
		}
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("unexpected %T for BOOLEAN", v)
		}
		b.Append(x)
	case *array.Int8Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b.Append(int8(n))
	case *array.Int16Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b.Append(int16(n))
	case *array.Int32Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b.Append(int32(n))
	case *array.Int64Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b.Append(n)
	case *array.Uint8Builder:
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		b.Append(uint8(n))
	case *array.Uint16Builder:
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		b.Append(uint16(n))
	case *array.Uint32Builder:
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		b.Append(uint32(n))
	case *array.Uint64Builder:
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		b.Append(n)
	case *array.Float32Builder:
		switch x := v.(type) {
		case float32:
			b.Append(x)
		case float64:
			b.Append(float32(x))
		default:
			return fmt.Errorf("unexpected %T for FLOAT", v)
		}
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			b.Append(x)
		case float32:
			b.Append(float64(x))
		case *big.Int:
			f, _ := new(big.Float).SetInt(x).Float64()
			b.Append(f)
		default:
			n, err := toInt64(v)
			if err != nil {
				return err
			}
			b.Append(float64(n))
		}
	case *array.Date32Builder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for DATE", v)
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.Time64Builder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for TIME", v)
		}
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		b.Append(arrow.Time64(t.Sub(midnight).Microseconds()))
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for %s", v, dbType)
		}
		b.Append(arrow.Timestamp(t.UnixMicro()))
	case *array.DurationBuilder:
		iv, ok := v.(duckdb.Interval)
		if !ok {
			return fmt.Errorf("unexpected %T for INTERVAL", v)
		}
		const microsPerDay = int64(24 * time.Hour / time.Microsecond)
		b.Append(arrow.Duration(int64(iv.Months)*30*microsPerDay + int64(iv.Days)*microsPerDay + iv.Micros))
	case *array.BinaryBuilder:
		x, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("unexpected %T for BLOB", v)
		}
		b.Append(x)
	case *array.Decimal128Builder:
		dec, ok := v.(duckdb.Decimal)
		if !ok {
			return fmt.Errorf("unexpected %T for %s", v, dbType)
		}
		b.Append(decimal128.FromBigInt(dec.Value))
	case *array.StringBuilder:
		str, err := stringValue(dbType, v)
		if err != nil {
			return err
		}
		b.Append(str)
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

func stringValue(dbType string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		if dbType == "UUID" {
			if id, err := uuid.FromBytes(x); err == nil {
				return id.String(), nil
			}
		}
		return string(x), nil
	case duckdb.Union:
		b, err := json.Marshal(map[string]any{x.Tag: x.Value})
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", dbType, err)
		}
		return string(b), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// sortedKeys orders map keys by their text so map columns are deterministic.
func sortedKeys(m duckdb.Map) []any {
	keys := make([]any, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
	return keys
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	}
	return 0, fmt.Errorf("unexpected %T for integer column", v)
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case uint:
		return uint64(x), nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}
