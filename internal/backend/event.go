package backend

import (
	"context"
	"fmt"
	"time"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventAll subscribes to every change type.
	EventAll EventType = "*"
)

// ChangeEvent is one committed row change.
type ChangeEvent struct {
	Type            EventType `json:"type"`
	Table           string    `json:"table"`
	Record          Row       `json:"record,omitempty"`
	OldRecord       Row       `json:"old_record,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// EventFilter selects which changes a channel receives.
type EventFilter struct {
	Event  EventType
	Table  string
	Filter *Filter
}

// Matches reports whether ev passes the filter. Row filters apply to the new
// record, or to the old one for deletes.
func (f EventFilter) Matches(ev ChangeEvent) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != ev.Type {
		return false
	}
	if f.Filter == nil {
		return true
	}
	row := ev.Record
	if ev.Type == EventDelete {
		row = ev.OldRecord
	}
	return Match(row, []Filter{*f.Filter})
}

// Topic builds the conventional channel name for a filtered table.
func Topic(table string, f *Filter) string {
	if f == nil {
		return "realtime:" + table
	}
	return fmt.Sprintf("realtime:%s:%s", table, f.String())
}

// Single selects exactly one row or returns ErrNoRows.
func Single(ctx context.Context, s Store, table string, filters ...Filter) (Row, error) {
	rows, err := s.Select(ctx, table, Query{Filters: filters, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// MultiPublisher fans a change out to several publishers, returning the
// first error.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
