package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/backend/memory"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/realtime"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

func as(user string) context.Context {
	return session.WithUser(context.Background(), user)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type env struct {
	backend *memory.Backend
	log     *logger.Logger
	msg     *service.MessagingService
	fav     *service.FavoritesService
	collab  *service.CollaborationService
	rt      *realtime.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b := memory.New()
	log := logger.Wrap(zaptest.NewLogger(t))
	sessions := session.ContextProvider{}
	return &env{
		backend: b,
		log:     log,
		msg:     service.NewMessagingService(b, sessions, log),
		fav:     service.NewFavoritesService(b, sessions, log),
		collab:  service.NewCollaborationService(b, sessions, log),
		rt:      realtime.NewManager(b, log),
	}
}

func (e *env) messaging(t *testing.T) *Messaging {
	t.Helper()
	m := NewMessaging(e.msg, e.rt, session.ContextProvider{}, e.log)
	t.Cleanup(func() { m.Close() })
	return m
}

// gatedStore blocks every Select until release is closed.
type gatedStore struct {
	backend.Store
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(s backend.Store) *gatedStore {
	return &gatedStore{Store: s, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedStore) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Store.Select(ctx, table, q)
}

// failingUpdates holds every Update on table until release is closed, then
// fails it.
type failingUpdates struct {
	backend.Store
	table   string
	entered chan struct{}
	release chan struct{}
}

func (f *failingUpdates) Update(ctx context.Context, table string, patch backend.Row, filters ...backend.Filter) (int, error) {
	if table != f.table {
		return f.Store.Update(ctx, table, patch, filters...)
	}
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.release
	return 0, errors.New("connection reset")
}

func TestUnreadBadgeFollowsMarkAsRead(t *testing.T) {
	e := newEnv(t)
	conv, err := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.msg.SendMessage(as("alice"), conv.ID, "hi", model.MessageText, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	bob := e.messaging(t)
	ctx := as("bob")
	if err := bob.LoadConversations(ctx, 20, 0); err != nil {
		t.Fatalf("load conversations: %v", err)
	}
	bob.LoadUnreadCounts(ctx)
	if bob.TotalUnread() != 1 || bob.Conversations()[0].UnreadCount != 1 {
		t.Fatalf("unread before read = %d", bob.TotalUnread())
	}

	if err := bob.MarkAsRead(ctx, conv.ID); err != nil {
		t.Fatalf("mark as read: %v", err)
	}
	if bob.TotalUnread() != 0 {
		t.Fatalf("unread after read = %d", bob.TotalUnread())
	}
	bob.LoadUnreadCounts(ctx)
	if bob.TotalUnread() != 0 {
		t.Fatalf("server still reports %d unread", bob.TotalUnread())
	}
}

func TestLoadUnreadCountsFailureIsQuiet(t *testing.T) {
	e := newEnv(t)
	m := e.messaging(t)
	m.LoadUnreadCounts(context.Background())
	if m.Err() != "" {
		t.Fatalf("background read surfaced %q", m.Err())
	}
	if m.Loading(OpLoadUnreadCounts) {
		t.Fatal("loading flag left raised")
	}
}

func TestMessagesPaginateOldestFirst(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		if _, err := e.msg.SendMessage(as("alice"), conv.ID, text, model.MessageText, nil); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	bob := e.messaging(t)
	ctx := as("bob")
	if err := bob.LoadMessages(ctx, conv.ID, 2, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := bob.LoadMessages(ctx, conv.ID, 2, 2); err != nil {
		t.Fatalf("load more: %v", err)
	}
	if err := bob.LoadMessages(ctx, conv.ID, 2, 2); err != nil {
		t.Fatalf("load more again: %v", err)
	}
	var got []string
	for _, m := range bob.Messages() {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "2,3,4,5" {
		t.Fatalf("messages = %v", got)
	}

	if err := bob.LoadMessages(ctx, conv.ID, 1, 0); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := len(bob.Messages()); n != 1 {
		t.Fatalf("offset 0 should replace, have %d messages", n)
	}
}

func TestLiveMessagesAreMergedOnce(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})

	bob := e.messaging(t)
	ctx := as("bob")
	var heard sync.Map
	var calls atomic.Int32
	bob.OnMessage(func(msg model.Message) {
		calls.Add(1)
		if _, dup := heard.LoadOrStore(msg.ID, true); dup {
			t.Errorf("listener saw %s twice", msg.ID)
		}
	})
	if err := bob.LoadConversations(ctx, 20, 0); err != nil {
		t.Fatalf("load conversations: %v", err)
	}
	if err := bob.LoadMessages(ctx, conv.ID, 20, 0); err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if err := bob.Subscribe(ctx, conv.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sent, err := e.msg.SendMessage(as("alice"), conv.ID, "hello bob", model.MessageText, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "alice's message", func() bool { return len(bob.Messages()) == 1 })
	if _, ok := heard.Load(sent.ID); !ok {
		t.Fatal("listener did not receive the live message")
	}
	if bob.Unread(conv.ID) != 0 {
		t.Fatal("a message in the open conversation must not count as unread")
	}
	if got := bob.Conversations()[0].LastMessagePreview; got != "hello bob" {
		t.Fatalf("preview = %q", got)
	}

	if _, err := bob.SendMessage(ctx, conv.ID, "hi alice", model.MessageText, nil); err != nil {
		t.Fatalf("bob send: %v", err)
	}
	eventually(t, "both messages", func() bool { return len(bob.Messages()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := len(bob.Messages()); n != 2 {
		t.Fatalf("own message duplicated, have %d", n)
	}
	if calls.Load() > 2 {
		t.Fatalf("listener called %d times", calls.Load())
	}
}

func TestLiveMessageForOtherConversationBumpsUnread(t *testing.T) {
	e := newEnv(t)
	background, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})
	open, _ := e.msg.CreateConversation(as("carol"), model.ConversationDirect, "", []string{"bob"})

	bob := e.messaging(t)
	ctx := as("bob")
	if err := bob.LoadConversations(ctx, 20, 0); err != nil {
		t.Fatalf("load conversations: %v", err)
	}
	if bob.Conversations()[0].ID != open.ID {
		t.Fatal("expected the newest conversation first")
	}
	if err := bob.LoadMessages(ctx, open.ID, 20, 0); err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if err := bob.Subscribe(ctx, background.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := e.msg.SendMessage(as("alice"), background.ID, "ping", model.MessageText, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "unread bump", func() bool { return bob.Unread(background.ID) == 1 })
	if len(bob.Messages()) != 0 {
		t.Fatal("message from another conversation leaked into the open one")
	}
	if bob.Conversations()[0].ID != background.ID {
		t.Fatal("conversation with new activity should move to the top")
	}
}

func TestCloseStopsLiveUpdates(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})

	bob := e.messaging(t)
	ctx := as("bob")
	if err := bob.LoadMessages(ctx, conv.ID, 20, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := bob.Subscribe(ctx, conv.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if bob.Subscribed() != conv.ID || e.backend.Channels() != 1 {
		t.Fatal("expected one open subscription")
	}

	var calls atomic.Int32
	bob.OnMessage(func(model.Message) { calls.Add(1) })
	if err := bob.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.backend.Channels() != 0 || bob.Subscribed() != "" {
		t.Fatal("close left the subscription open")
	}

	if _, err := e.msg.SendMessage(as("alice"), conv.ID, "anyone?", model.MessageText, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(bob.Messages()) != 0 || calls.Load() != 0 {
		t.Fatal("closed store received a message")
	}
	if err := bob.Subscribe(ctx, conv.ID); err != nil {
		t.Fatalf("subscribe after close: %v", err)
	}
	if e.backend.Channels() != 0 {
		t.Fatal("subscription opened on a closed store was kept")
	}
}

func TestInFlightResultIgnoredAfterClose(t *testing.T) {
	b := memory.New()
	log := logger.Wrap(zaptest.NewLogger(t))
	if _, err := service.NewMessagingService(b, session.ContextProvider{}, log).
		CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	gated := newGatedStore(b)
	m := NewMessaging(service.NewMessagingService(gated, session.ContextProvider{}, log), nil, session.ContextProvider{}, log)

	result := make(chan error, 1)
	go func() { result <- m.LoadConversations(as("bob"), 20, 0) }()
	<-gated.entered
	if !m.Loading(OpLoadConversations) {
		t.Fatal("expected loading flag while the call is in flight")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(gated.release)
	if err := <-result; err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := len(m.Conversations()); n != 0 {
		t.Fatalf("closed store applied %d conversations", n)
	}
	if m.Loading(OpLoadConversations) {
		t.Fatal("loading flag left raised")
	}
}

func TestFavoriteToggleAndCounts(t *testing.T) {
	e := newEnv(t)
	f := NewFavorites(e.fav, e.log)
	defer f.Close()
	ctx := as("alice")

	on, err := f.Toggle(ctx, model.FavoriteProgram, "p-1")
	if err != nil || !on {
		t.Fatalf("toggle on: %v %v", on, err)
	}
	favs := f.Favorites()
	if len(favs) != 1 || strings.HasPrefix(favs[0].ID, pendingFavoriteID) {
		t.Fatalf("favorites = %+v", favs)
	}
	counts := f.Counts()
	if counts[model.FavoriteProgram] != 1 || counts.Total() != 1 {
		t.Fatalf("counts = %v", counts)
	}

	_, err = f.Add(ctx, model.AddFavoriteRequest{FavoriteType: model.FavoriteProgram, FavoriteID: "p-1"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.Err() != "already in your favorites" {
		t.Fatalf("err = %q", f.Err())
	}
	if len(f.Favorites()) != 1 || f.Counts()[model.FavoriteProgram] != 1 {
		t.Fatal("failed add was not reverted")
	}

	on, err = f.Toggle(ctx, model.FavoriteProgram, "p-1")
	if err != nil || on {
		t.Fatalf("toggle off: %v %v", on, err)
	}
	if f.IsFavorite(model.FavoriteProgram, "p-1") || f.Counts()[model.FavoriteProgram] != 0 {
		t.Fatal("favorite still present after toggle off")
	}
	if f.Err() != "" {
		t.Fatalf("successful action left error %q", f.Err())
	}
}

func TestFavoriteRemoveFailureRestoresList(t *testing.T) {
	e := newEnv(t)
	if _, err := e.fav.Add(as("alice"), model.FavoriteCompany, "c-1", "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := NewFavorites(e.fav, e.log)
	defer f.Close()
	ctx := as("alice")
	if err := f.Load(ctx, "", 20, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	f.RefreshCounts(ctx)

	if _, err := e.backend.Delete(context.Background(), backend.TableFavorites, backend.Eq("favorite_id", "c-1")); err != nil {
		t.Fatalf("delete behind the store's back: %v", err)
	}
	err := f.Remove(ctx, model.FavoriteCompany, "c-1")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !f.IsFavorite(model.FavoriteCompany, "c-1") || f.Counts()[model.FavoriteCompany] != 1 {
		t.Fatal("failed remove was not reverted")
	}
}

func newEvent(t *testing.T, e *env, capacity int) *model.CollaborativeEvent {
	t.Helper()
	collab, err := e.collab.CreateCollaboration(as("owner"), model.CreateCollaborationRequest{
		BusinessID: "biz-1", Title: "Market day", Type: model.CollaborationEvent,
	})
	if err != nil {
		t.Fatalf("create collaboration: %v", err)
	}
	event, err := e.collab.CreateEvent(as("owner"), model.CreateEventRequest{
		CollaborationID: collab.ID,
		Title:           "Stalls",
		EventDate:       time.Now().Add(24 * time.Hour),
		MaxParticipants: capacity,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func TestJoinFullEventReverts(t *testing.T) {
	e := newEnv(t)
	event := newEvent(t, e, 1)
	if _, err := e.collab.JoinEvent(as("first"), event.ID); err != nil {
		t.Fatalf("seed join: %v", err)
	}

	c := NewCollaboration(e.collab, e.log)
	defer c.Close()
	ctx := as("late")
	if err := c.LoadEvents(ctx, "", 20, 0); err != nil {
		t.Fatalf("load events: %v", err)
	}

	before := testutil.ToFloat64(metrics.OptimisticRevertsTotal.WithLabelValues(OpJoinEvent))
	err := c.JoinEvent(ctx, event.ID)
	if !errors.Is(err, apperror.ErrCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	if c.Err() != "this event is full" {
		t.Fatalf("err = %q", c.Err())
	}
	got, _ := c.Event(event.ID)
	if got.CurrentParticipants != 1 || c.Joined(event.ID) {
		t.Fatalf("join was not reverted: %+v", got)
	}
	if after := testutil.ToFloat64(metrics.OptimisticRevertsTotal.WithLabelValues(OpJoinEvent)); after != before+1 {
		t.Fatalf("reverts went from %v to %v", before, after)
	}
}

func TestJoinAndLeaveEventCounts(t *testing.T) {
	e := newEnv(t)
	event := newEvent(t, e, 10)

	c := NewCollaboration(e.collab, e.log)
	defer c.Close()
	ctx := as("guest")
	if err := c.LoadEvents(ctx, "", 20, 0); err != nil {
		t.Fatalf("load events: %v", err)
	}
	if err := c.JoinEvent(ctx, event.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	got, _ := c.Event(event.ID)
	if got.CurrentParticipants != 1 || !c.Joined(event.ID) {
		t.Fatalf("after join: %+v", got)
	}
	if err := c.LoadEventParticipants(ctx, event.ID, 20, 0); err != nil {
		t.Fatalf("participants: %v", err)
	}
	if p := c.Participants(); len(p) != 1 || p[0].UserID != "guest" {
		t.Fatalf("participants = %+v", p)
	}

	if err := c.LeaveEvent(ctx, event.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := c.LeaveEvent(ctx, event.ID); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	got, _ = c.Event(event.ID)
	if got.CurrentParticipants != 0 || c.Joined(event.ID) {
		t.Fatalf("after leave: %+v", got)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	e := newEnv(t)
	alice := NewCollaboration(e.collab, e.log)
	bob := NewCollaboration(e.collab, e.log)
	defer alice.Close()
	defer bob.Close()

	if _, err := alice.SendConnectionRequest(as("alice"), "alice", ""); !errors.Is(err, apperror.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(alice.Connections()) != 0 {
		t.Fatal("rejected self request was added")
	}

	conn, err := alice.SendConnectionRequest(as("alice"), "bob", "let's work together")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := bob.LoadConnections(as("bob"), "", 20, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := bob.RespondToConnectionRequest(as("bob"), conn.ID, true); err != nil {
		t.Fatalf("respond: %v", err)
	}
	got := bob.Connections()
	if len(got) != 1 || got[0].Status != model.RequestAccepted || got[0].RespondedAt == nil {
		t.Fatalf("connections = %+v", got)
	}

	if err := bob.RespondToConnectionRequest(as("bob"), conn.ID, false); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if bob.Connections()[0].Status != model.RequestAccepted {
		t.Fatal("failed response was not reverted")
	}

	if err := bob.RemoveConnection(as("bob"), conn.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(bob.Connections()) != 0 {
		t.Fatal("connection still listed")
	}
}

func TestCollaborationStatusRevertsWhenForbidden(t *testing.T) {
	e := newEnv(t)
	owner := NewCollaboration(e.collab, e.log)
	other := NewCollaboration(e.collab, e.log)
	defer owner.Close()
	defer other.Close()

	collab, err := owner.CreateCollaboration(as("owner"), model.CreateCollaborationRequest{
		BusinessID: "biz-1", Title: "Pop-up", Type: model.CollaborationEvent,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := owner.Collaborations(); len(got) != 1 || got[0].ID != collab.ID {
		t.Fatalf("created collaboration not prepended: %+v", got)
	}

	if err := other.LoadCollaborations(as("other"), model.CollaborationFilter{}, 20, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	err = other.UpdateCollaborationStatus(as("other"), collab.ID, model.CollaborationInProgress)
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if other.Collaborations()[0].Status != model.CollaborationOpen {
		t.Fatal("forbidden update was not reverted")
	}

	if err := other.LoadRecommended(as("other"), 5); err != nil {
		t.Fatalf("recommended: %v", err)
	}
	if len(other.Recommended()) != 1 {
		t.Fatalf("recommended = %+v", other.Recommended())
	}
}

func TestFailedDeleteKeepsLiveMessages(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})
	mine, err := e.msg.SendMessage(as("bob"), conv.ID, "mine", model.MessageText, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	failing := &failingUpdates{
		Store:   e.backend,
		table:   backend.TableMessages,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	bob := NewMessaging(service.NewMessagingService(failing, session.ContextProvider{}, e.log), e.rt, session.ContextProvider{}, e.log)
	t.Cleanup(func() { bob.Close() })

	ctx := as("bob")
	if err := bob.LoadMessages(ctx, conv.ID, 20, 0); err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if err := bob.Subscribe(ctx, conv.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deleted := make(chan error, 1)
	go func() { deleted <- bob.DeleteMessage(ctx, mine.ID) }()
	<-failing.entered

	live, err := e.msg.SendMessage(as("alice"), conv.ID, "live", model.MessageText, nil)
	if err != nil {
		t.Fatalf("alice send: %v", err)
	}
	eventually(t, "the live message", func() bool { return len(bob.Messages()) == 2 })

	close(failing.release)
	if err := <-deleted; err == nil {
		t.Fatal("delete should fail")
	}

	msgs := bob.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages after revert = %d, want 2", len(msgs))
	}
	byID := map[string]model.Message{}
	for _, m := range msgs {
		byID[m.ID] = m
	}
	if _, ok := byID[live.ID]; !ok {
		t.Fatal("live message dropped by the revert")
	}
	if got := byID[mine.ID]; got.Deleted() || got.Content != "mine" {
		t.Fatalf("own message not restored: %+v", got)
	}
}

func TestFailedLeaveKeepsUnreadArrivals(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})
	other, _ := e.msg.CreateConversation(as("carol"), model.ConversationDirect, "", []string{"bob"})
	if _, err := e.msg.SendMessage(as("alice"), conv.ID, "one", model.MessageText, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	failing := &failingUpdates{
		Store:   e.backend,
		table:   backend.TableConversationParticipants,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	bob := NewMessaging(service.NewMessagingService(failing, session.ContextProvider{}, e.log), e.rt, session.ContextProvider{}, e.log)
	t.Cleanup(func() { bob.Close() })

	ctx := as("bob")
	if err := bob.LoadConversations(ctx, 20, 0); err != nil {
		t.Fatalf("load conversations: %v", err)
	}
	bob.LoadUnreadCounts(ctx)
	if bob.Unread(conv.ID) != 1 {
		t.Fatalf("unread = %d", bob.Unread(conv.ID))
	}

	left := make(chan error, 1)
	go func() { left <- bob.LeaveConversation(ctx, conv.ID) }()
	<-failing.entered
	if bob.Unread(conv.ID) != 0 {
		t.Fatal("leaving should clear the counter at once")
	}
	// A message for conv arrives while the call is in flight.
	bob.commit(func() { bob.unread.Add(conv.ID, 1) })

	close(failing.release)
	if err := <-left; err == nil {
		t.Fatal("leave should fail")
	}
	if got := bob.Unread(conv.ID); got != 2 {
		t.Fatalf("unread after revert = %d, want 2", got)
	}
	ids := map[string]bool{}
	for _, c := range bob.Conversations() {
		ids[c.ID] = true
	}
	if !ids[conv.ID] || !ids[other.ID] {
		t.Fatalf("conversations after revert = %v", ids)
	}
}

func TestConcurrentSubscribeKeepsOneChannel(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.msg.CreateConversation(as("alice"), model.ConversationDirect, "", []string{"bob"})
	bob := e.messaging(t)
	ctx := as("bob")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bob.Subscribe(ctx, conv.ID); err != nil {
				t.Errorf("subscribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := e.backend.Channels(); got != 1 {
		t.Fatalf("open channels = %d, want 1", got)
	}
	if bob.Subscribed() != conv.ID {
		t.Fatalf("subscribed to %q", bob.Subscribed())
	}
	if err := bob.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := e.backend.Channels(); got != 0 {
		t.Fatalf("open channels after close = %d", got)
	}
}
