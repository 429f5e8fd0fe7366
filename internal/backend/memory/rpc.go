package memory

import (
	"fmt"
	"sort"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
)

func registerDefaultRPCs(b *Backend) {
	b.rpcs[backend.RPCUnreadMessagesCount] = unreadMessagesCount
	b.rpcs[backend.RPCPopularFavorites] = popularFavorites
	b.rpcs[backend.RPCRecommendedCollaborations] = recommendedCollaborations
}

func requireArg(args backend.Row, name string) (string, error) {
	v := args.String(name)
	if v == "" {
		return "", &backend.Error{Code: "22004", Message: fmt.Sprintf("argument %s is required", name)}
	}
	return v, nil
}

// unreadMessagesCount counts, per active membership, messages from others
// newer than the member's last read mark. Conversations with nothing unread
// are omitted.
func unreadMessagesCount(tx *Tx, args backend.Row) (any, error) {
	userID, err := requireArg(args, "p_user_id")
	if err != nil {
		return nil, err
	}

	memberships := tx.Rows(backend.TableConversationParticipants, backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userID), backend.IsNull("left_at")},
	})

	out := []model.UnreadCount{}
	for _, m := range memberships {
		convID := m.String("conversation_id")
		filters := []backend.Filter{
			backend.Eq("conversation_id", convID),
			backend.Neq("sender_id", userID),
			backend.IsNull("deleted_at"),
		}
		if lastRead, ok := m["last_read_at"].(string); ok && lastRead != "" {
			filters = append(filters, backend.Gt("created_at", lastRead))
		}
		n := len(tx.Rows(backend.TableMessages, backend.Query{Filters: filters}))
		if n > 0 {
			out = append(out, model.UnreadCount{ConversationID: convID, UnreadCount: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func popularFavorites(tx *Tx, args backend.Row) (any, error) {
	filters := []backend.Filter{}
	if t := args.String("p_favorite_type"); t != "" {
		filters = append(filters, backend.Eq("favorite_type", t))
	}
	limit := args.Int("p_limit")
	if limit <= 0 {
		limit = 10
	}

	counts := map[string]*model.PopularFavorite{}
	for _, r := range tx.Rows(backend.TableFavorites, backend.Query{Filters: filters}) {
		key := r.String("favorite_type") + ":" + r.String("favorite_id")
		p, ok := counts[key]
		if !ok {
			p = &model.PopularFavorite{
				FavoriteType: model.FavoriteType(r.String("favorite_type")),
				FavoriteID:   r.String("favorite_id"),
			}
			counts[key] = p
		}
		p.Count++
	}

	out := make([]model.PopularFavorite, 0, len(counts))
	for _, p := range counts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FavoriteID < out[j].FavoriteID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recommendedCollaborations returns open collaborations created by someone
// else, newest first.
func recommendedCollaborations(tx *Tx, args backend.Row) (any, error) {
	userID, err := requireArg(args, "p_user_id")
	if err != nil {
		return nil, err
	}
	limit := args.Int("p_limit")
	if limit <= 0 {
		limit = 10
	}

	rows := tx.Rows(backend.TableCollaborations, backend.Query{
		Filters: []backend.Filter{
			backend.Eq("status", string(model.CollaborationOpen)),
			backend.Neq("created_by", userID),
		},
		Order: []backend.Order{{Column: "created_at", Desc: true}},
		Limit: limit,
	})
	if rows == nil {
		rows = []backend.Row{}
	}
	return rows, nil
}
