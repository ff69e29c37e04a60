package tabular

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
)

// Value extracts a Go value from an Arrow array at the given row index.
// Nulls become nil. Unknown array types fall back to their string form.
func Value(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}

	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row)
	case *array.Int8:
		return int8(arr.Value(row))
	case *array.Int16:
		return int16(arr.Value(row))
	case *array.Int32:
		return int32(arr.Value(row))
	case *array.Int64:
		return int64(arr.Value(row))
	case *array.Uint8:
		return uint8(arr.Value(row))
	case *array.Uint16:
		return uint16(arr.Value(row))
	case *array.Uint32:
		return uint32(arr.Value(row))
	case *array.Uint64:
		return uint64(arr.Value(row))
	case *array.Float32:
		return float32(arr.Value(row))
	case *array.Float64:
		return float64(arr.Value(row))
	case *array.String:
		return arr.Value(row)
	case *array.LargeString:
		return arr.Value(row)
	case *array.Binary:
		return arr.Value(row)
	case *array.LargeBinary:
		return arr.Value(row)
	case *array.Date32:
		days := int64(arr.Value(row))
		return time.Unix(days*86400, 0).UTC()
	case *array.Timestamp:
		ts := arr.DataType().(*arrow.TimestampType)
		return timestampToTime(arr.Value(row), ts.Unit)
	case *array.Time64:
		micros := int64(arr.Value(row))
		return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(micros) * time.Microsecond)
	case *array.Decimal128:
		return decimalToString(arr.Value(row), arr.DataType().(*arrow.Decimal128Type))
	case *array.List:
		start, end := arr.ValueOffsets(row)
		child := arr.ListValues()
		elems := make([]any, 0, end-start)
		for i := int(start); i < int(end); i++ {
			elems = append(elems, Value(child, i))
		}
		return elems
	default:
		return arr.ValueStr(row)
	}
}

// Rows materializes a table into Go values, one slice per row.
func Rows(tbl arrow.Table) ([][]any, error) {
	if tbl.NumRows() == 0 {
		return nil, nil
	}

	out := make([][]any, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 1024)
	defer tr.Release()

	for tr.Next() {
		rec := tr.RecordBatch()
		for row := 0; row < int(rec.NumRows()); row++ {
			vals := make([]any, rec.NumCols())
			for col := 0; col < int(rec.NumCols()); col++ {
				vals[col] = Value(rec.Column(col), row)
			}
			out = append(out, vals)
		}
	}
	return out, nil
}

// AsInt64 coerces a scalar extracted by Value into an int64. Engines disagree
// about the column type of COUNT aggregates, so all numeric widths are accepted.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func timestampToTime(val arrow.Timestamp, unit arrow.TimeUnit) time.Time {
	v := int64(val)
	switch unit {
	case arrow.Second:
		return time.Unix(v, 0).UTC()
	case arrow.Millisecond:
		return time.Unix(v/1000, (v%1000)*1e6).UTC()
	case arrow.Microsecond:
		return time.Unix(v/1e6, (v%1e6)*1000).UTC()
	case arrow.Nanosecond:
		return time.Unix(v/1e9, v%1e9).UTC()
	default:
		return time.Unix(v/1e6, (v%1e6)*1000).UTC()
	}
}

// decimalToString renders a Decimal128 as a plain decimal string so callers
// do not lose precision to a float conversion.
func decimalToString(val decimal128.Num, dt *arrow.Decimal128Type) string {
	bi := val.BigInt()
	if dt.Scale == 0 {
		return bi.String()
	}
	str := bi.String()
	neg := false
	if len(str) > 0 && str[0] == '-' {
		neg = true
		str = str[1:]
	}
	scale := int(dt.Scale)
	for len(str) <= scale {
		str = "0" + str
	}
	result := str[:len(str)-scale] + "." + str[len(str)-scale:]
	if neg {
		result = "-" + result
	}
	return result
}
