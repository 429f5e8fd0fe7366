package backend

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row is a loosely typed table row as exchanged with the backend. Values are
// JSON-shaped: string, float64, bool, nil, []any, map[string]any.
type Row map[string]any

// TimeLayout is the wire format for timestamps. Fixed width so that
// timestamps compare correctly as strings.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimeLayout, UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Encode converts v (a struct or map) into a Row through its JSON form.
func Encode(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return row, nil
}

// Decode maps row onto v through its JSON form.
func Decode(row Row, v any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// DecodeAll maps rows onto a slice of T.
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := Decode(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Normalize round-trips a row through JSON so that every value has its
// JSON-shaped Go type (time.Time becomes a string, ints become float64).
func Normalize(row Row) (Row, error) {
	return Encode(row)
}

// Clone returns a shallow copy of row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the string value of column, "" when absent or not a string.
func (r Row) String(column string) string {
	s, _ := r[column].(string)
	return s
}

// Int returns the numeric value of column truncated to int.
func (r Row) Int(column string) int {
	switch v := r[column].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
