package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/commerce-sync/internal/backend/memory"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/realtime"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

const secret = "handler-test-secret"

type api struct {
	t        *testing.T
	handler  http.Handler
	verifier *session.TokenVerifier
	collab   *service.CollaborationService
}

func newAPI(t *testing.T, checks map[string]Pinger) *api {
	t.Helper()
	b := memory.New()
	log := logger.Wrap(zaptest.NewLogger(t))
	sessions := session.ContextProvider{}
	verifier := session.NewTokenVerifier(secret)
	collab := service.NewCollaborationService(b, sessions, log)

	h := NewRouter(Deps{
		Messaging:         service.NewMessagingService(b, sessions, log),
		Favorites:         service.NewFavoritesService(b, sessions, log),
		Collaboration:     collab,
		Realtime:          realtime.NewManager(b, log),
		Verifier:          verifier,
		Health:            NewHealthHandler(checks),
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		AllowedOrigins:    []string{"*"},
		StreamHeartbeat:   time.Hour,
		Logger:            log,
	})
	return &api{t: t, handler: h, verifier: verifier, collab: collab}
}

func (a *api) token(user string) string {
	a.t.Helper()
	token, err := a.verifier.Sign(user, time.Hour)
	if err != nil {
		a.t.Fatalf("sign: %v", err)
	}
	return token
}

// do sends a request as user (anonymous when empty) and decodes a JSON
// response into out when given.
func (a *api) do(user, method, path string, body any, out any) int {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(user))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type unreadBody struct {
	Total int `json:"total"`
}

func TestHealthAndReady(t *testing.T) {
	a := newAPI(t, map[string]Pinger{"backend": memory.New()})
	if code := a.do("", http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if code := a.do("", http.MethodGet, "/ready", nil, nil); code != http.StatusOK {
		t.Fatalf("ready = %d", code)
	}

	down := newAPI(t, map[string]Pinger{"broker": pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	})})
	var body struct {
		Failed map[string]string `json:"failed"`
	}
	if code := down.do("", http.MethodGet, "/ready", nil, &body); code != http.StatusServiceUnavailable {
		t.Fatalf("ready = %d, want 503", code)
	}
	if body.Failed["broker"] != "connection refused" {
		t.Errorf("failed = %v", body.Failed)
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestAPIRequiresToken(t *testing.T) {
	a := newAPI(t, nil)
	var body errorBody
	if code := a.do("", http.MethodGet, "/api/v1/conversations", nil, &body); code != http.StatusUnauthorized {
		t.Fatalf("status = %d", code)
	}
	if body.Kind != string(apperror.KindUnauthenticated) {
		t.Errorf("kind = %q", body.Kind)
	}
}

func TestUnreadFlow(t *testing.T) {
	a := newAPI(t, nil)

	var conv model.Conversation
	if code := a.do("alice", http.MethodPost, "/api/v1/conversations/direct", map[string]string{"user_id": "bob"}, &conv); code != http.StatusOK {
		t.Fatalf("direct = %d", code)
	}

	var msg model.Message
	code := a.do("alice", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		model.SendMessageRequest{Content: "hi"}, &msg)
	if code != http.StatusCreated || msg.Content != "hi" {
		t.Fatalf("send = %d %+v", code, msg)
	}

	var unread unreadBody
	a.do("bob", http.MethodGet, "/api/v1/unread", nil, &unread)
	if unread.Total != 1 {
		t.Fatalf("bob unread = %d, want 1", unread.Total)
	}

	if code := a.do("bob", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", nil, nil); code != http.StatusNoContent {
		t.Fatalf("read = %d", code)
	}
	unread = unreadBody{}
	a.do("bob", http.MethodGet, "/api/v1/unread", nil, &unread)
	if unread.Total != 0 {
		t.Fatalf("bob unread after read = %d, want 0", unread.Total)
	}

	var page model.ListMessagesResponse
	a.do("bob", http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages?limit=10", nil, &page)
	if len(page.Messages) != 1 || page.HasMore {
		t.Fatalf("messages = %+v", page)
	}

	var outsider errorBody
	if code := a.do("carol", http.MethodGet, "/api/v1/conversations/"+conv.ID, nil, &outsider); code != http.StatusNotFound && code != http.StatusForbidden {
		t.Fatalf("outsider get = %d", code)
	}
}

func TestBlankMessageRejected(t *testing.T) {
	a := newAPI(t, nil)
	var conv model.Conversation
	a.do("alice", http.MethodPost, "/api/v1/conversations/direct", map[string]string{"user_id": "bob"}, &conv)

	var body errorBody
	code := a.do("alice", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		model.SendMessageRequest{Content: "   "}, &body)
	if code != http.StatusBadRequest || body.Kind != string(apperror.KindValidationFailed) {
		t.Fatalf("blank message = %d %+v", code, body)
	}
}

func TestInvalidPathID(t *testing.T) {
	a := newAPI(t, nil)
	var body errorBody
	if code := a.do("alice", http.MethodGet, "/api/v1/conversations/not-a-uuid", nil, &body); code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
	if body.Kind != string(apperror.KindValidationFailed) {
		t.Errorf("kind = %q", body.Kind)
	}
}

func TestFavoritesFlow(t *testing.T) {
	a := newAPI(t, nil)
	add := model.AddFavoriteRequest{FavoriteType: model.FavoriteProgram, FavoriteID: "p1"}

	var fav model.Favorite
	if code := a.do("alice", http.MethodPost, "/api/v1/favorites", add, &fav); code != http.StatusCreated {
		t.Fatalf("add = %d", code)
	}

	var conflict errorBody
	if code := a.do("alice", http.MethodPost, "/api/v1/favorites", add, &conflict); code != http.StatusConflict {
		t.Fatalf("second add = %d, want 409", code)
	}
	if conflict.Error != "already in your favorites" {
		t.Errorf("conflict message = %q", conflict.Error)
	}

	var counts struct {
		Counts model.FavoriteCounts `json:"counts"`
		Total  int                  `json:"total"`
	}
	a.do("alice", http.MethodGet, "/api/v1/favorites/counts", nil, &counts)
	if counts.Counts[model.FavoriteProgram] != 1 || counts.Total != 1 || len(counts.Counts) != len(model.FavoriteTypes) {
		t.Fatalf("counts = %+v", counts)
	}

	var check map[string]bool
	a.do("alice", http.MethodGet, "/api/v1/favorites/program/p1", nil, &check)
	if !check["is_favorite"] {
		t.Fatal("p1 should be a favorite")
	}

	var updated model.Favorite
	code := a.do("alice", http.MethodPut, "/api/v1/favorites/"+fav.ID,
		model.UpdateFavoriteRequest{Notes: "look again", Tags: []string{"later"}}, &updated)
	if code != http.StatusOK || updated.Notes != "look again" {
		t.Fatalf("update = %d %+v", code, updated)
	}

	if code := a.do("alice", http.MethodDelete, "/api/v1/favorites/program/p1", nil, nil); code != http.StatusNoContent {
		t.Fatalf("remove = %d", code)
	}
	if code := a.do("alice", http.MethodDelete, "/api/v1/favorites/program/p1", nil, nil); code != http.StatusNotFound {
		t.Fatalf("second remove = %d, want 404", code)
	}
}

func TestJoinFullEvent(t *testing.T) {
	a := newAPI(t, nil)
	owner := session.WithUser(context.Background(), "owner")
	collab, err := a.collab.CreateCollaboration(owner, model.CreateCollaborationRequest{
		BusinessID: "biz-1", Title: "Summer fair", Type: model.CollaborationEvent,
	})
	if err != nil {
		t.Fatalf("create collaboration: %v", err)
	}
	event, err := a.collab.CreateEvent(owner, model.CreateEventRequest{
		CollaborationID: collab.ID,
		Title:           "Opening",
		EventDate:       time.Now().Add(48 * time.Hour),
		MaxParticipants: 1,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	path := "/api/v1/events/" + event.ID + "/participants"
	if code := a.do("alice", http.MethodPost, path, nil, nil); code != http.StatusCreated {
		t.Fatalf("join = %d", code)
	}
	var body errorBody
	if code := a.do("bob", http.MethodPost, path, nil, &body); code != http.StatusUnprocessableEntity {
		t.Fatalf("join full = %d, want 422", code)
	}
	if body.Error != "this event is full" || body.Kind != string(apperror.KindCapacityExceeded) {
		t.Errorf("body = %+v", body)
	}
}

func TestSelfConnectionRejected(t *testing.T) {
	a := newAPI(t, nil)
	var body errorBody
	code := a.do("alice", http.MethodPost, "/api/v1/connections", map[string]string{"user_id": "alice"}, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("self connection = %d, want 400", code)
	}

	var conn model.UserConnection
	if code := a.do("alice", http.MethodPost, "/api/v1/connections", map[string]string{"user_id": "bob"}, &conn); code != http.StatusCreated {
		t.Fatalf("connect = %d", code)
	}
	var accepted model.UserConnection
	if code := a.do("bob", http.MethodPut, "/api/v1/connections/"+conn.ID, model.RespondRequest{Accept: true}, &accepted); code != http.StatusOK {
		t.Fatalf("accept = %d", code)
	}
	if accepted.Status != model.RequestAccepted {
		t.Errorf("status = %q", accepted.Status)
	}
}

func TestStreamReplaysThenPushesLiveMessages(t *testing.T) {
	a := newAPI(t, nil)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	var conv model.Conversation
	a.do("alice", http.MethodPost, "/api/v1/conversations/direct", map[string]string{"user_id": "bob"}, &conv)
	a.do("alice", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", model.SendMessageRequest{Content: "earlier"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/conversations/"+conv.ID+"/stream?access_token="+a.token("bob"), nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan [2]string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var name string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{name, strings.TrimPrefix(line, "data: ")}
			}
		}
	}()

	next := func() (string, string) {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream ended early")
			}
			return ev[0], ev[1]
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return "", ""
	}

	if name, _ := next(); name != "connected" {
		t.Fatalf("first event = %q", name)
	}
	name, data := next()
	if name != "message" || !strings.Contains(data, `"earlier"`) {
		t.Fatalf("replay = %q %s", name, data)
	}
	if name, _ := next(); name != "replay_complete" {
		t.Fatalf("expected replay_complete, got %q", name)
	}

	a.do("alice", http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", model.SendMessageRequest{Content: "live"}, nil)

	name, data = next()
	if name != "message" || !strings.Contains(data, `"live"`) {
		t.Fatalf("live = %q %s", name, data)
	}
}
