// v2
// internal/scylla/decode.go
package scylla

import "time"

// The driver hands back SliceMap/MapScan values as interface{} whose concrete
// type depends on the column type (smallint -> int16, bigint -> int64, and so
// on). These helpers normalize the numeric widths so callers don't have to
// care which integer flavor a fake or the live driver produced.

func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	default:
		return 0, false
	}
}

func AsInt16(v any) (int16, bool) {
	n, ok := AsInt64(v)
	if !ok {
		return 0, false
	}
	return int16(n), true
}

func AsBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	default:
		return nil, false
	}
}

func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func AsTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
