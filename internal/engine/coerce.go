package engine

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// SessionOptions are the result coercions applied to every local query.
// They trade type fidelity for values every consumer can represent.
type SessionOptions struct {
	CastBigIntToDouble   bool // int64/uint64 -> float64
	CastTimestampToDate  bool // timestamp -> date64 (milliseconds)
	CastDecimalToDouble  bool // decimal128 -> float64
	CastDurationToTime64 bool // duration -> time64 (microseconds), saturating; lossy past one day
}

// DefaultSessionOptions enables every coercion.
var DefaultSessionOptions = SessionOptions{
	CastBigIntToDouble:   true,
	CastTimestampToDate:  true,
	CastDecimalToDouble:  true,
	CastDurationToTime64: true,
}

func (o SessionOptions) enabled() bool {
	return o.CastBigIntToDouble || o.CastTimestampToDate || o.CastDecimalToDouble || o.CastDurationToTime64
}

// targetType returns the coerced type for dt, or nil when dt is kept.
func (o SessionOptions) targetType(dt arrow.DataType) arrow.DataType {
	switch dt.ID() {
	case arrow.INT64, arrow.UINT64:
		if o.CastBigIntToDouble {
			return arrow.PrimitiveTypes.Float64
		}
	case arrow.DECIMAL128:
		if o.CastDecimalToDouble {
			return arrow.PrimitiveTypes.Float64
		}
	case arrow.TIMESTAMP:
		if o.CastTimestampToDate {
			return arrow.FixedWidthTypes.Date64
		}
	case arrow.DURATION:
		if o.CastDurationToTime64 {
			return arrow.FixedWidthTypes.Time64us
		}
	}
	return nil
}

// CoerceSchema returns the schema a result has after coercion.
func (o SessionOptions) CoerceSchema(schema *arrow.Schema) *arrow.Schema {
	if schema == nil {
		return arrow.NewSchema(nil, nil)
	}
	fields := make([]arrow.Field, schema.NumFields())
	for i, f := range schema.Fields() {
		if dt := o.targetType(f.Type); dt != nil {
			f.Type = dt
		}
		fields[i] = f
	}
	md := schema.Metadata()
	return arrow.NewSchema(fields, &md)
}

// coerce converts records to the coerced schema. Returned records are new
// references owned by the caller; the inputs are left untouched.
func (o SessionOptions) coerce(mem memory.Allocator, schema *arrow.Schema, records []arrow.Record) ([]arrow.Record, *arrow.Schema, error) {
	outSchema := o.CoerceSchema(schema)
	out := make([]arrow.Record, 0, len(records))
	for _, rec := range records {
		if !o.enabled() {
			rec.Retain()
			out = append(out, rec)
			continue
		}
		cols := make([]arrow.Array, rec.NumCols())
		for i := range cols {
			col, err := o.coerceArray(mem, rec.Column(i))
			if err != nil {
				for _, c := range cols[:i] {
					c.Release()
				}
				releaseAll(out)
				return nil, nil, fmt.Errorf("column %q: %w", rec.ColumnName(i), err)
			}
			cols[i] = col
		}
		out = append(out, array.NewRecord(outSchema, cols, rec.NumRows()))
		for _, c := range cols {
			c.Release()
		}
	}
	return out, outSchema, nil
}

// coerceArray returns a new reference to arr or a converted copy.
func (o SessionOptions) coerceArray(mem memory.Allocator, arr arrow.Array) (arrow.Array, error) {
	if o.targetType(arr.DataType()) == nil {
		arr.Retain()
		return arr, nil
	}

	switch a := arr.(type) {
	case *array.Int64:
		return toFloat64(mem, a, func(i int) float64 { return float64(a.Value(i)) }), nil
	case *array.Uint64:
		return toFloat64(mem, a, func(i int) float64 { return float64(a.Value(i)) }), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return toFloat64(mem, a, func(i int) float64 { return a.Value(i).ToFloat64(scale) }), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		b := array.NewDate64Builder(mem)
		defer b.Release()
		b.Reserve(a.Len())
		for i := 0; i < a.Len(); i++ {
			if a.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Date64(a.Value(i).ToTime(unit).UnixMilli()))
		}
		return b.NewArray(), nil
	case *array.Duration:
		unit := a.DataType().(*arrow.DurationType).Unit
		b := array.NewTime64Builder(mem, arrow.FixedWidthTypes.Time64us.(*arrow.Time64Type))
		defer b.Release()
		b.Reserve(a.Len())
		for i := 0; i < a.Len(); i++ {
			if a.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Time64(durationMicros(int64(a.Value(i)), unit)))
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("no coercion for %s", arr.DataType())
	}
}

// durationMicros converts v in unit to microseconds, saturating at the
// int64 range.
func durationMicros(v int64, unit arrow.TimeUnit) int64 {
	if unit == arrow.Nanosecond {
		return v / 1000
	}
	factor := int64(unit.Multiplier()) / int64(arrow.Microsecond.Multiplier())
	switch {
	case v > math.MaxInt64/factor:
		return math.MaxInt64
	case v < math.MinInt64/factor:
		return math.MinInt64
	}
	return v * factor
}

func toFloat64(mem memory.Allocator, arr arrow.Array, value func(i int) float64) arrow.Array {
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.Reserve(arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(value(i))
	}
	return b.NewArray()
}
