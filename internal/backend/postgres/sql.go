package postgres

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
)

// rowAlias is the alias every statement gives its target table.
const rowAlias = "r"

type statement struct {
	sql  strings.Builder
	args []any
}

func (s *statement) arg(v any) string {
	s.args = append(s.args, v)
	return "$" + strconv.Itoa(len(s.args))
}

func (s *statement) write(parts ...string) {
	for _, p := range parts {
		s.sql.WriteString(p)
	}
}

func (s *statement) String() string {
	return s.sql.String()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func column(name string) string {
	return rowAlias + "." + ident(name)
}

// where appends a WHERE clause ANDing filters.
func (s *statement) where(filters []backend.Filter) error {
	for i, f := range filters {
		if f.Column == "" {
			return fmt.Errorf("filter %d has no column", i)
		}
		if i == 0 {
			s.write(" WHERE ")
		} else {
			s.write(" AND ")
		}
		if err := s.predicate(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *statement) predicate(f backend.Filter) error {
	col := column(f.Column)
	switch f.Op {
	case backend.OpEq:
		s.write(col, " = ", s.arg(f.Value))
	case backend.OpNeq:
		s.write(col, " <> ", s.arg(f.Value))
	case backend.OpGt:
		s.write(col, " > ", s.arg(f.Value))
	case backend.OpGte:
		s.write(col, " >= ", s.arg(f.Value))
	case backend.OpLt:
		s.write(col, " < ", s.arg(f.Value))
	case backend.OpLte:
		s.write(col, " <= ", s.arg(f.Value))
	case backend.OpIs:
		if f.Value == backend.NotNull {
			s.write(col, " IS NOT NULL")
		} else {
			s.write(col, " IS NULL")
		}
	case backend.OpIn:
		list, _ := f.Value.([]any)
		if len(list) == 0 {
			s.write("false")
			return nil
		}
		values := make([]string, len(list))
		for i, v := range list {
			values[i] = fmt.Sprint(v)
		}
		s.write(col, "::text = ANY(", s.arg(values), "::text[])")
	default:
		return fmt.Errorf("unsupported filter operator %q", f.Op)
	}
	return nil
}

func (s *statement) orderBy(order []backend.Order) {
	for i, o := range order {
		if i == 0 {
			s.write(" ORDER BY ")
		} else {
			s.write(", ")
		}
		s.write(column(o.Column))
		if o.Desc {
			s.write(" DESC")
		}
	}
}

func selectStatement(table string, q backend.Query) (*statement, error) {
	s := &statement{}
	s.write("SELECT to_jsonb(", rowAlias, ") FROM ", ident(table), " AS ", rowAlias)
	if err := s.where(q.Filters); err != nil {
		return nil, err
	}
	s.orderBy(q.Order)
	if q.Limit > 0 {
		s.write(" LIMIT ", s.arg(q.Limit))
	}
	if q.Offset > 0 {
		s.write(" OFFSET ", s.arg(q.Offset))
	}
	return s, nil
}

func countStatement(table string, filters []backend.Filter) (*statement, error) {
	s := &statement{}
	s.write("SELECT count(*) FROM ", ident(table), " AS ", rowAlias)
	if err := s.where(filters); err != nil {
		return nil, err
	}
	return s, nil
}

// insertStatement inserts only the columns present in the row, so column
// defaults apply to the rest. Postgres converts the JSON values to the
// column types.
func insertStatement(table string, columns []string, payload []byte) *statement {
	s := &statement{}
	s.write("INSERT INTO ", ident(table), " AS ", rowAlias)
	if len(columns) == 0 {
		s.write(" DEFAULT VALUES")
	} else {
		quoted := quoteAll(columns)
		s.write(" (", quoted, ") SELECT ", quoted,
			" FROM jsonb_populate_record(NULL::", ident(table), ", ", s.arg(string(payload)), "::jsonb)")
	}
	s.write(" RETURNING to_jsonb(", rowAlias, ")")
	return s
}

func updateStatement(table string, columns []string, payload []byte, filters []backend.Filter) (*statement, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("update %s: refusing to update without filters", table)
	}
	s := &statement{}
	s.write("UPDATE ", ident(table), " AS ", rowAlias, " SET ")
	for i, c := range columns {
		if i > 0 {
			s.write(", ")
		}
		s.write(ident(c), " = p.", ident(c))
	}
	s.write(" FROM jsonb_populate_record(NULL::", ident(table), ", ", s.arg(string(payload)), "::jsonb) AS p")
	if err := s.where(filters); err != nil {
		return nil, err
	}
	s.write(" RETURNING to_jsonb(", rowAlias, ")")
	return s, nil
}

func deleteStatement(table string, filters []backend.Filter) (*statement, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("delete %s: refusing to delete without filters", table)
	}
	s := &statement{}
	s.write("DELETE FROM ", ident(table), " AS ", rowAlias)
	if err := s.where(filters); err != nil {
		return nil, err
	}
	s.write(" RETURNING to_jsonb(", rowAlias, ")")
	return s, nil
}

// rpcStatement calls a procedure with named arguments.
func rpcStatement(name string, args backend.Row) *statement {
	s := &statement{}
	s.write("SELECT ", ident(name), "(")
	for i, k := range sortedKeys(args) {
		if i > 0 {
			s.write(", ")
		}
		s.write(ident(k), " => ", s.arg(args[k]))
	}
	s.write(")::jsonb")
	return s
}

func sortedKeys(row backend.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteAll(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ident(c)
	}
	return strings.Join(quoted, ", ")
}
