package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/backend/memory"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// fakeRealtime captures the handler so tests can inject events directly.
type fakeRealtime struct {
	mu      sync.Mutex
	handler func(backend.ChangeEvent)
	filter  backend.EventFilter
	closed  bool
	openErr error
}

func (f *fakeRealtime) OpenChannel(_ context.Context, topic string, filter backend.EventFilter, h func(backend.ChangeEvent)) (backend.Channel, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.filter = filter
	return &fakeChannel{f: f, topic: topic}, nil
}

func (f *fakeRealtime) emit(ev backend.ChangeEvent) {
	f.mu.Lock()
	h, closed := f.handler, f.closed
	f.mu.Unlock()
	if h != nil && !closed {
		h(ev)
	}
}

type fakeChannel struct {
	f     *fakeRealtime
	topic string
}

func (c *fakeChannel) Topic() string { return c.topic }

func (c *fakeChannel) Close() error {
	c.f.mu.Lock()
	c.f.closed = true
	c.f.mu.Unlock()
	return nil
}

func insertEvent(id, conversationID string) backend.ChangeEvent {
	return backend.ChangeEvent{
		Type:  backend.EventInsert,
		Table: backend.TableMessages,
		Record: backend.Row{
			"id":              id,
			"conversation_id": conversationID,
			"sender_id":       "u-2",
			"content":         "hello",
			"message_type":    "text",
			"created_at":      backend.FormatTime(time.Now()),
		},
	}
}

func TestSubscribeFiltersByConversation(t *testing.T) {
	rt := &fakeRealtime{}
	m := NewManager(rt, logger.Wrap(zaptest.NewLogger(t)))

	sub, err := m.Subscribe(context.Background(), "c-1", nil, func(model.Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if sub.State() != StateOpen {
		t.Fatalf("state = %s", sub.State())
	}
	if rt.filter.Event != backend.EventInsert || rt.filter.Table != backend.TableMessages {
		t.Fatalf("unexpected filter %+v", rt.filter)
	}
	if rt.filter.Filter == nil || rt.filter.Filter.String() != "conversation_id=eq.c-1" {
		t.Fatalf("unexpected row filter %+v", rt.filter.Filter)
	}
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	rt := &fakeRealtime{}
	m := NewManager(rt, nil)

	var got []string
	known := func(id string) bool { return id == "already-loaded" }
	sub, err := m.Subscribe(context.Background(), "c-1", known, func(msg model.Message) {
		got = append(got, msg.ID)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	sub.MarkSeen("sent-locally")
	for i := 0; i < 3; i++ {
		rt.emit(insertEvent("m-1", "c-1"))
	}
	rt.emit(insertEvent("already-loaded", "c-1"))
	rt.emit(insertEvent("sent-locally", "c-1"))
	rt.emit(insertEvent("other-conv", "c-2"))
	rt.emit(backend.ChangeEvent{Type: backend.EventInsert, Table: backend.TableMessages, Record: backend.Row{"content": 42}})

	if len(got) != 1 || got[0] != "m-1" {
		t.Fatalf("delivered %v, want [m-1]", got)
	}
}

func TestOpenFailure(t *testing.T) {
	rt := &fakeRealtime{openErr: errors.New("connection refused")}
	m := NewManager(rt, nil)
	if _, err := m.Subscribe(context.Background(), "c-1", nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := m.Subscribe(context.Background(), "", nil, nil); err == nil {
		t.Fatal("expected error for empty conversation id")
	}
}

func TestNoCallbacksAfterClose(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	conv, err := b.Insert(ctx, backend.TableConversations, backend.Row{"type": "direct", "created_by": "u-1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	convID := conv.String("id")

	m := NewManager(b, logger.Wrap(zaptest.NewLogger(t)))
	delivered := make(chan model.Message, 8)
	sub, err := m.Subscribe(ctx, convID, nil, func(msg model.Message) { delivered <- msg })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := b.Insert(ctx, backend.TableMessages, backend.Row{"conversation_id": convID, "sender_id": "u-2", "content": "first"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case msg := <-delivered:
		if msg.Content != "first" {
			t.Fatalf("content = %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sub.State() != StateClosed {
		t.Fatalf("state = %s", sub.State())
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := b.Insert(ctx, backend.TableMessages, backend.Row{"conversation_id": convID, "sender_id": "u-2", "content": "late"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case msg := <-delivered:
		t.Fatalf("callback after close: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	if b.Channels() != 0 {
		t.Fatalf("channels left open: %d", b.Channels())
	}
}
