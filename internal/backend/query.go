package backend

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
	// OpIs tests for null (Value nil) or not null (Value NotNull).
	OpIs Op = "is"
)

// NotNull is the Value of an OpIs filter matching non-null columns.
const NotNull = "not.null"

// Filter is one column predicate. Filters passed together are ANDed.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, v any) Filter  { return Filter{Column: column, Op: OpEq, Value: v} }
func Neq(column string, v any) Filter { return Filter{Column: column, Op: OpNeq, Value: v} }
func Gt(column string, v any) Filter  { return Filter{Column: column, Op: OpGt, Value: v} }
func Gte(column string, v any) Filter { return Filter{Column: column, Op: OpGte, Value: v} }
func Lt(column string, v any) Filter  { return Filter{Column: column, Op: OpLt, Value: v} }
func Lte(column string, v any) Filter { return Filter{Column: column, Op: OpLte, Value: v} }
func IsNull(column string) Filter     { return Filter{Column: column, Op: OpIs, Value: nil} }
func IsNotNull(column string) Filter  { return Filter{Column: column, Op: OpIs, Value: NotNull} }

// In matches rows whose column equals any of values.
func In[T any](column string, values []T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Column: column, Op: OpIn, Value: vs}
}

// String renders the filter in PostgREST form, e.g. "conversation_id=eq.42".
func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%v", f.Column, f.Op, f.Value)
}

// ParseFilter parses the PostgREST form produced by String. Only single
// value operators are supported.
func ParseFilter(s string) (Filter, error) {
	col, rest, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("invalid filter %q", s)
	}
	op, val, ok := strings.Cut(rest, ".")
	if !ok {
		return Filter{}, fmt.Errorf("invalid filter %q", s)
	}
	switch Op(op) {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return Filter{Column: col, Op: Op(op), Value: val}, nil
	default:
		return Filter{}, fmt.Errorf("unsupported filter operator %q", op)
	}
}

// Order sorts query results by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows: filters, ordering, and an offset/limit range. Limit 0
// means no limit.
type Query struct {
	Filters []Filter
	Order   []Order
	Offset  int
	Limit   int
}

// Match reports whether row satisfies every filter.
func Match(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(row, f) {
			return false
		}
	}
	return true
}

func matchOne(row Row, f Filter) bool {
	v, present := row[f.Column]
	switch f.Op {
	case OpIs:
		isNull := !present || v == nil
		if f.Value == NotNull {
			return !isNull
		}
		return isNull
	case OpIn:
		list, _ := f.Value.([]any)
		for _, item := range list {
			if Compare(v, item) == 0 {
				return true
			}
		}
		return false
	}
	if !present || v == nil {
		return false
	}
	c := Compare(v, f.Value)
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// Compare orders two JSON-shaped values: numbers numerically, timestamps
// chronologically, everything else by string form. nil sorts first.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := toBool(b); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if len(t) < len("2006-01-02T15:04:05Z") {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}
