// Package normalize converts Arrow query results from either engine into
// JSON-safe rows with per-column type descriptors.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"duckbridge/internal/domain"
)

// readChunk is the number of rows read from a table per record.
const readChunk = 4096

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999"
)

// Table converts tbl into a Result tagged with the producing engine. The
// table is not released.
func Table(engine domain.Engine, tbl arrow.Table) (*domain.Result, error) {
	if tbl == nil {
		return domain.NewResult(engine, nil, nil), nil
	}
	schema := tbl.Schema()
	columns := ColumnTypes(schema)

	rows := make([]domain.Row, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, readChunk)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make(domain.Row, rec.NumCols())
			for c := 0; c < int(rec.NumCols()); c++ {
				v, err := Value(rec.Column(c), i)
				if err != nil {
					return nil, fmt.Errorf("row %d column %q: %w", len(rows), schema.Field(c).Name, err)
				}
				row[schema.Field(c).Name] = v
			}
			rows = append(rows, row)
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	return domain.NewResult(engine, rows, columns), nil
}

// ColumnTypes returns the normalized descriptor of every schema field.
func ColumnTypes(schema *arrow.Schema) []domain.ColumnType {
	out := make([]domain.ColumnType, schema.NumFields())
	for i, f := range schema.Fields() {
		out[i] = domain.ColumnType{
			Name:     f.Name,
			Type:     TypeOf(f.Type),
			Fidelity: domain.FidelityPrecise,
		}
	}
	return out
}

// TypeOf maps an Arrow type to its normalized type.
func TypeOf(dt arrow.DataType) domain.NormalizedType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64,
		arrow.DECIMAL128, arrow.DECIMAL256:
		return domain.TypeNumber
	case arrow.BOOL:
		return domain.TypeBoolean
	case arrow.DATE32, arrow.DATE64, arrow.TIMESTAMP, arrow.TIME32, arrow.TIME64:
		return domain.TypeDate
	case arrow.DICTIONARY:
		return TypeOf(dt.(*arrow.DictionaryType).ValueType)
	default:
		return domain.TypeString
	}
}

// Value returns the JSON-safe value at row i of arr. 64-bit integers become
// decimal strings so they survive a JSON round trip.
func Value(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return strconv.FormatInt(a.Value(i), 10), nil
	case *array.Uint64:
		return strconv.FormatUint(a.Value(i), 10), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Uint8:
		return uint64(a.Value(i)), nil
	case *array.Uint16:
		return uint64(a.Value(i)), nil
	case *array.Uint32:
		return uint64(a.Value(i)), nil
	case *array.Float16:
		return finite(float64(a.Value(i).Float32())), nil
	case *array.Float32:
		return finite(float64(a.Value(i))), nil
	case *array.Float64:
		return finite(a.Value(i)), nil
	case *array.Decimal128:
		return finite(a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal128Type).Scale)), nil
	case *array.Decimal256:
		return finite(a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal256Type).Scale)), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.Date32:
		return a.Value(i).ToTime().Format(dateLayout), nil
	case *array.Date64:
		// Date64 carries milliseconds; ToTime would truncate to the day.
		return time.UnixMilli(int64(a.Value(i))).UTC().Format(time.RFC3339Nano), nil
	case *array.Timestamp:
		dt := a.DataType().(*arrow.TimestampType)
		return a.Value(i).ToTime(dt.Unit).UTC().Format(time.RFC3339Nano), nil
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return timeOfDay(int64(a.Value(i)), unit), nil
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return timeOfDay(int64(a.Value(i)), unit), nil
	case *array.Dictionary:
		return Value(a.Dictionary(), a.GetValueIndex(i))
	case *array.Map:
		return mapValue(a, i)
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			v, err := Value(values, int(j))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		out := make(map[string]any, a.NumField())
		for f := 0; f < a.NumField(); f++ {
			v, err := Value(a.Field(f), i)
			if err != nil {
				return nil, err
			}
			out[st.Field(f).Name] = v
		}
		return out, nil
	default:
		return arr.ValueStr(i), nil
	}
}

// timeOfDay formats v as a clock time. Values outside one day come from
// coerced durations and are formatted as a duration instead of wrapping.
func timeOfDay(v int64, unit arrow.TimeUnit) string {
	mult := int64(unit.Multiplier())
	if v >= 0 && v < int64(24*time.Hour)/mult {
		return time.Time{}.Add(time.Duration(v * mult)).Format(timeLayout)
	}
	switch {
	case v > math.MaxInt64/mult:
		return time.Duration(math.MaxInt64).String()
	case v < math.MinInt64/mult:
		return time.Duration(math.MinInt64).String()
	}
	return time.Duration(v * mult).String()
}

func mapValue(a *array.Map, i int) (any, error) {
	start, end := a.ValueOffsets(i)
	keys, items := a.Keys(), a.Items()
	out := make(map[string]any, end-start)
	for j := start; j < end; j++ {
		v, err := Value(items, int(j))
		if err != nil {
			return nil, err
		}
		out[keys.ValueStr(int(j))] = v
	}
	return out, nil
}

// finite keeps non-finite floats out of JSON, which cannot encode them.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
