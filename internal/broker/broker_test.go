package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

func encode(t *testing.T, ev backend.ChangeEvent) []byte {
	t.Helper()
	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestDecodeFillsTableFromSubject(t *testing.T) {
	ev, err := Decode(Subject("messages"), []byte(`{"type":"INSERT","record":{"id":"m1"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Table != "messages" || ev.Type != backend.EventInsert || ev.Record.String("id") != "m1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestDispatcherDeliversMatchingEventsInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	f := backend.Eq("conversation_id", "c1")
	d := NewDispatcher("test", "realtime:messages", backend.EventFilter{
		Event:  backend.EventInsert,
		Table:  "messages",
		Filter: &f,
	}, func(ev backend.ChangeEvent) {
		mu.Lock()
		got = append(got, ev.Record.String("id"))
		mu.Unlock()
	}, logger.Wrap(zaptest.NewLogger(t)))
	defer d.Close()

	subject := Subject("messages")
	for _, ev := range []backend.ChangeEvent{
		{Type: backend.EventInsert, Table: "messages", Record: backend.Row{"id": "m1", "conversation_id": "c1"}},
		{Type: backend.EventInsert, Table: "messages", Record: backend.Row{"id": "m2", "conversation_id": "c2"}},
		{Type: backend.EventUpdate, Table: "messages", Record: backend.Row{"id": "m3", "conversation_id": "c1"}},
		{Type: backend.EventInsert, Table: "messages", Record: backend.Row{"id": "m4", "conversation_id": "c1"}},
	} {
		d.Receive(subject, encode(t, ev))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "m1" || got[1] != "m4" {
		t.Fatalf("delivered %v, want [m1 m4]", got)
	}
}

func TestDispatcherCountsMalformedEvents(t *testing.T) {
	before := testutil.ToFloat64(metrics.RealtimeEventsTotal.WithLabelValues("favorites", "malformed"))

	d := NewDispatcher("test", "realtime:favorites", backend.EventFilter{}, func(backend.ChangeEvent) {
		t.Error("handler must not run for a malformed event")
	}, logger.NewNop())
	defer d.Close()

	d.Receive(Subject("favorites"), []byte("{not json"))

	after := testutil.ToFloat64(metrics.RealtimeEventsTotal.WithLabelValues("favorites", "malformed"))
	if after != before+1 {
		t.Errorf("malformed counter = %v, want %v", after, before+1)
	}
}

func TestDispatcherCloseWaitsForHandler(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	d := NewDispatcher("test", "t", backend.EventFilter{}, func(backend.ChangeEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
	}, logger.NewNop())

	data := encode(t, backend.ChangeEvent{Type: backend.EventInsert, Table: "messages"})
	d.Receive(Subject("messages"), data)
	<-entered

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while the handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	d.Receive(Subject("messages"), data)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}
