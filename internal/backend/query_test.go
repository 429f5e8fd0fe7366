package backend

import (
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row, err := Normalize(Row{
		"id":         "m-1",
		"count":      3,
		"created_at": now,
		"deleted_at": nil,
		"is_muted":   false,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	cases := []struct {
		name    string
		filters []Filter
		want    bool
	}{
		{"eq string", []Filter{Eq("id", "m-1")}, true},
		{"neq string", []Filter{Neq("id", "m-1")}, false},
		{"numeric gt", []Filter{Gt("count", 2)}, true},
		{"numeric lte", []Filter{Lte("count", 2)}, false},
		{"time lt", []Filter{Lt("created_at", now.Add(time.Second))}, true},
		{"time gt formatted", []Filter{Gt("created_at", FormatTime(now.Add(-time.Millisecond)))}, true},
		{"is null", []Filter{IsNull("deleted_at")}, true},
		{"is null absent column", []Filter{IsNull("left_at")}, true},
		{"is not null", []Filter{IsNotNull("created_at")}, true},
		{"in", []Filter{In("id", []string{"x", "m-1"})}, true},
		{"in miss", []Filter{In("id", []string{"x"})}, false},
		{"bool eq", []Filter{Eq("is_muted", false)}, true},
		{"missing column eq", []Filter{Eq("other", "x")}, false},
		{"and", []Filter{Eq("id", "m-1"), Gt("count", 5)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(row, tc.filters); got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseFilterRoundTrip(t *testing.T) {
	f := Eq("conversation_id", "c-42")
	parsed, err := ParseFilter(f.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Column != "conversation_id" || parsed.Op != OpEq || parsed.Value != "c-42" {
		t.Fatalf("unexpected filter %+v", parsed)
	}

	if _, err := ParseFilter("garbage"); err == nil {
		t.Fatal("expected error for malformed filter")
	}
	if _, err := ParseFilter("id=in.(1,2)"); err == nil {
		t.Fatal("expected error for unsupported operator")
	}
}

func TestEventFilterMatches(t *testing.T) {
	f := Eq("conversation_id", "c-1")
	filter := EventFilter{Event: EventInsert, Table: TableMessages, Filter: &f}

	ev := ChangeEvent{Type: EventInsert, Table: TableMessages, Record: Row{"conversation_id": "c-1"}}
	if !filter.Matches(ev) {
		t.Fatal("expected match")
	}

	ev.Record = Row{"conversation_id": "c-2"}
	if filter.Matches(ev) {
		t.Fatal("other conversation must not match")
	}

	ev = ChangeEvent{Type: EventUpdate, Table: TableMessages, Record: Row{"conversation_id": "c-1"}}
	if filter.Matches(ev) {
		t.Fatal("update must not match an insert filter")
	}

	all := EventFilter{Event: EventAll, Table: TableMessages, Filter: &f}
	del := ChangeEvent{Type: EventDelete, Table: TableMessages, OldRecord: Row{"conversation_id": "c-1"}}
	if !all.Matches(del) {
		t.Fatal("delete should match on old record")
	}
}

func TestDecodeAll(t *testing.T) {
	type item struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	items, err := DecodeAll[item]([]Row{{"id": "a", "count": 1.0}, {"id": "b", "count": 2.0}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[1].ID != "b" || items[1].Count != 2 {
		t.Fatalf("unexpected items %+v", items)
	}
}
