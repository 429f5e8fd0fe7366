package service

import (
	"context"
	"strings"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// FavoritesService handles the user's favorites.
type FavoritesService struct {
	base
}

// NewFavoritesService creates a new favorites service.
func NewFavoritesService(store backend.Store, sessions session.Provider, log *logger.Logger, opts ...Option) *FavoritesService {
	return &FavoritesService{base: newBase("favorites", store, sessions, log, opts)}
}

// Add favorites an entity. Favoriting the same entity twice is a Conflict.
func (s *FavoritesService) Add(ctx context.Context, favType model.FavoriteType, favoriteID, notes string, tags []string) (fav *model.Favorite, err error) {
	const op = "favorites.Add"
	ctx, userID, done, err := s.begin(ctx, "Add")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if err := validateTarget(op, favType, favoriteID); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	row, err := s.store.Insert(ctx, backend.TableFavorites, backend.Row{
		"user_id":       userID,
		"favorite_type": string(favType),
		"favorite_id":   favoriteID,
		"notes":         notes,
		"tags":          tags,
	})
	if backend.IsUniqueViolation(err) {
		return nil, &apperror.Error{Kind: apperror.KindConflict, Message: "already in your favorites", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Favorite](row)
}

// Remove unfavorites an entity. Removing something that is not a favorite
// is NotFound.
func (s *FavoritesService) Remove(ctx context.Context, favType model.FavoriteType, favoriteID string) (err error) {
	const op = "favorites.Remove"
	ctx, userID, done, err := s.begin(ctx, "Remove")
	if err != nil {
		return err
	}
	defer done(&err)

	if err := validateTarget(op, favType, favoriteID); err != nil {
		return err
	}
	n, err := s.store.Delete(ctx, backend.TableFavorites, ownFavorite(userID, favType, favoriteID)...)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.E(apperror.KindNotFound, "", "not in your favorites")
	}
	return nil
}

// IsFavorite reports whether the user favorited the entity.
func (s *FavoritesService) IsFavorite(ctx context.Context, favType model.FavoriteType, favoriteID string) (ok bool, err error) {
	const op = "favorites.IsFavorite"
	ctx, userID, done, err := s.begin(ctx, "IsFavorite")
	if err != nil {
		return false, err
	}
	defer done(&err)

	if err := validateTarget(op, favType, favoriteID); err != nil {
		return false, err
	}
	n, err := s.store.Count(ctx, backend.TableFavorites, ownFavorite(userID, favType, favoriteID)...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns the user's favorites, newest first. An empty favType lists
// every type.
func (s *FavoritesService) List(ctx context.Context, favType model.FavoriteType, limit, offset int) (favs []model.Favorite, err error) {
	const op = "favorites.List"
	ctx, userID, done, err := s.begin(ctx, "List")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	limit, offset = page(limit, offset)
	filters := []backend.Filter{backend.Eq("user_id", userID)}
	if favType != "" {
		if !favType.Valid() {
			return nil, apperror.Validation(op, "unknown favorite type %q", favType)
		}
		filters = append(filters, backend.Eq("favorite_type", string(favType)))
	}
	rows, err := s.store.Select(ctx, backend.TableFavorites, backend.Query{
		Filters: filters,
		Order:   []backend.Order{{Column: "created_at", Desc: true}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[model.Favorite](rows)
}

// UpdateNotes replaces the notes and tags of one of the user's favorites.
func (s *FavoritesService) UpdateNotes(ctx context.Context, id, notes string, tags []string) (fav *model.Favorite, err error) {
	ctx, userID, done, err := s.begin(ctx, "UpdateNotes")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if tags == nil {
		tags = []string{}
	}
	mine := []backend.Filter{backend.Eq("id", id), backend.Eq("user_id", userID)}
	n, err := s.store.Update(ctx, backend.TableFavorites, backend.Row{"notes": notes, "tags": tags}, mine...)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperror.E(apperror.KindNotFound, "", "favorite not found")
	}
	row, err := s.single(ctx, backend.TableFavorites, mine...)
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Favorite](row)
}

// Counts returns the number of favorites per type. Every type is present.
func (s *FavoritesService) Counts(ctx context.Context) (counts model.FavoriteCounts, err error) {
	ctx, userID, done, err := s.begin(ctx, "Counts")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	rows, err := s.store.Select(ctx, backend.TableFavorites, backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, err
	}
	counts = model.NewFavoriteCounts()
	for _, r := range rows {
		t := model.FavoriteType(r.String("favorite_type"))
		if t.Valid() {
			counts[t]++
		}
	}
	return counts, nil
}

// Popular returns the most favorited entities of a type across all users.
func (s *FavoritesService) Popular(ctx context.Context, favType model.FavoriteType, limit int) (popular []model.PopularFavorite, err error) {
	const op = "favorites.Popular"
	ctx, _, done, err := s.begin(ctx, "Popular")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if favType != "" && !favType.Valid() {
		return nil, apperror.Validation(op, "unknown favorite type %q", favType)
	}
	limit, _ = page(limit, 0)
	args := backend.Row{"p_limit": limit}
	if favType != "" {
		args["p_favorite_type"] = string(favType)
	}
	return rpc[model.PopularFavorite](ctx, s.store, backend.RPCPopularFavorites, args)
}

func validateTarget(op string, favType model.FavoriteType, favoriteID string) error {
	if !favType.Valid() {
		return apperror.Validation(op, "unknown favorite type %q", favType)
	}
	if strings.TrimSpace(favoriteID) == "" {
		return apperror.Validation(op, "favorite id is required")
	}
	return nil
}

func ownFavorite(userID string, favType model.FavoriteType, favoriteID string) []backend.Filter {
	return []backend.Filter{
		backend.Eq("user_id", userID),
		backend.Eq("favorite_type", string(favType)),
		backend.Eq("favorite_id", favoriteID),
	}
}
