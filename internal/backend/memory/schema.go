package memory

import (
	"time"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
)

// TableSchema declares the constraints and defaults of one table.
type TableSchema struct {
	// GeneratedID assigns a uuid v7 "id" when the insert has none.
	GeneratedID bool
	Required    []string
	Unique      [][]string
	// References maps a column to the table whose "id" it must match.
	References  map[string]string
	Defaults    map[string]func(now time.Time) any
	AfterInsert func(tx *Tx, row backend.Row) error
}

func stampDefault(now time.Time) any { return backend.FormatTime(now) }

func constDefault(v any) func(time.Time) any {
	return func(time.Time) any { return v }
}

func emptyList(time.Time) any { return []any{} }

func defaultSchema() map[string]*TableSchema {
	return map[string]*TableSchema{
		backend.TableConversations: {
			GeneratedID: true,
			Required:    []string{"type", "created_by"},
			Defaults: map[string]func(time.Time) any{
				"created_at":           stampDefault,
				"last_activity_at":     stampDefault,
				"participant_count":    constDefault(0.0),
				"title":                constDefault(""),
				"last_message_preview": constDefault(""),
			},
		},
		backend.TableConversationParticipants: {
			Required:   []string{"conversation_id", "user_id"},
			Unique:     [][]string{{"conversation_id", "user_id"}},
			References: map[string]string{"conversation_id": backend.TableConversations},
			Defaults: map[string]func(time.Time) any{
				"joined_at":    stampDefault,
				"left_at":      constDefault(nil),
				"last_read_at": constDefault(nil),
				"is_muted":     constDefault(false),
			},
		},
		backend.TableMessages: {
			GeneratedID: true,
			Required:    []string{"conversation_id", "sender_id"},
			References:  map[string]string{"conversation_id": backend.TableConversations},
			Defaults: map[string]func(time.Time) any{
				"created_at":   stampDefault,
				"message_type": constDefault(string(model.MessageText)),
				"edited_at":    constDefault(nil),
				"deleted_at":   constDefault(nil),
				"read_at":      constDefault(nil),
			},
			AfterInsert: touchConversation,
		},
		backend.TableFavorites: {
			GeneratedID: true,
			Required:    []string{"user_id", "favorite_type", "favorite_id"},
			Unique:      [][]string{{"user_id", "favorite_type", "favorite_id"}},
			Defaults: map[string]func(time.Time) any{
				"created_at": stampDefault,
				"notes":      constDefault(""),
				"tags":       emptyList,
			},
		},
		backend.TableCollaborations: {
			GeneratedID: true,
			Required:    []string{"business_id", "title", "collaboration_type"},
			Defaults: map[string]func(time.Time) any{
				"created_at": stampDefault,
				"status":     constDefault(string(model.CollaborationOpen)),
			},
		},
		backend.TableEvents: {
			GeneratedID: true,
			Required:    []string{"collaboration_id", "title", "event_date"},
			References:  map[string]string{"collaboration_id": backend.TableCollaborations},
			Defaults: map[string]func(time.Time) any{
				"created_at":           stampDefault,
				"current_participants": constDefault(0.0),
				"max_participants":     constDefault(0.0),
				"status":               constDefault(string(model.EventPlanned)),
			},
		},
		backend.TableEventParticipants: {
			Required:   []string{"event_id", "user_id"},
			Unique:     [][]string{{"event_id", "user_id"}},
			References: map[string]string{"event_id": backend.TableEvents},
			Defaults: map[string]func(time.Time) any{
				"registered_at": stampDefault,
				"status":        constDefault(string(model.ParticipantRegistered)),
			},
		},
		backend.TablePartnershipRequests: {
			GeneratedID: true,
			Required:    []string{"requester_business_id", "target_business_id", "requested_by"},
			Defaults: map[string]func(time.Time) any{
				"created_at":   stampDefault,
				"status":       constDefault(string(model.RequestPending)),
				"responded_at": constDefault(nil),
			},
		},
		backend.TableUserConnections: {
			GeneratedID: true,
			Required:    []string{"requester_id", "addressee_id"},
			Defaults: map[string]func(time.Time) any{
				"created_at":   stampDefault,
				"status":       constDefault(string(model.RequestPending)),
				"responded_at": constDefault(nil),
			},
		},
	}
}

// touchConversation mirrors the hosted trigger that keeps the denormalized
// last-activity and preview columns current.
func touchConversation(tx *Tx, row backend.Row) error {
	var msg model.Message
	if err := backend.Decode(row, &msg); err != nil {
		return err
	}
	_, err := tx.Patch(backend.TableConversations, backend.Row{
		"last_activity_at":     row["created_at"],
		"last_message_preview": msg.Preview(),
	}, backend.Eq("id", msg.ConversationID))
	return err
}
