package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/realtime"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/internal/store"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

// liveBuffer bounds live messages waiting to be written to a slow client.
const liveBuffer = 64

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service   *service.MessagingService
	realtime  *realtime.Manager
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.MessagingService, rt *realtime.Manager, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		service:   svc,
		realtime:  rt,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// ReplayCompleteEvent marks the end of the replayed history.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}

// Stream handles GET /api/v1/conversations/{id}/stream
// It replays the newest page of history (?limit=N), then pushes every new
// message exactly once until the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, err := pathID(r, "id", "conversation")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if _, err := h.service.GetConversation(ctx, conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	feed := store.NewMessaging(h.service, h.realtime, session.ContextProvider{}, h.logger)
	defer feed.Close()

	live := make(chan model.Message, liveBuffer)
	feed.OnMessage(func(msg model.Message) {
		select {
		case live <- msg:
		default:
			h.logger.Warn("SSE client too slow, dropping message",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", msg.ID),
			)
		}
	})

	// Subscribe before loading history so nothing sent in between is lost;
	// overlaps are skipped below.
	if err := feed.Subscribe(ctx, conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	limit, _ := page(r)
	if err := feed.LoadMessages(ctx, conversationID, limit, 0); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	history := feed.Messages()
	sent := make(map[string]struct{}, len(history))
	for _, msg := range history {
		sent[msg.ID] = struct{}{}
		if err := sendSSEEvent(w, flusher, "message", msg); err != nil {
			return
		}
	}
	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{MessageCount: len(history)})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case msg := <-live:
			if _, dup := sent[msg.ID]; dup {
				continue
			}
			sent[msg.ID] = struct{}{}
			if err := sendSSEEvent(w, flusher, "message", msg); err != nil {
				h.logger.Debug("SSE write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
