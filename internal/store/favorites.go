package store

import (
	"context"
	"time"

	"github.com/capitalize-ai/commerce-sync/internal/model"
	"github.com/capitalize-ai/commerce-sync/internal/optimistic"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/state"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
)

// Favorites operations, as reported by Loading.
const (
	OpLoadFavorites  = "loadFavorites"
	OpAddFavorite    = "addFavorite"
	OpRemoveFavorite = "removeFavorite"
	OpUpdateFavorite = "updateFavorite"
	OpRefreshCounts  = "refreshCounts"
	OpLoadPopular    = "loadPopular"
)

// pendingFavoriteID prefixes the id of a favorite not yet confirmed.
const pendingFavoriteID = "pending:"

// Favorites is the state of a favorites screen: the loaded favorites and
// the per-type counts shown on badges.
type Favorites struct {
	base
	svc *service.FavoritesService

	favorites *state.List[model.Favorite]
	counts    *state.Counters
	popular   *state.List[model.PopularFavorite]
}

func NewFavorites(svc *service.FavoritesService, log *logger.Logger) *Favorites {
	return &Favorites{
		base:      newBase("favorites_store", log),
		svc:       svc,
		favorites: state.NewList(func(f model.Favorite) string { return f.ID }),
		counts:    state.NewCounters(),
		popular:   state.NewList(func(p model.PopularFavorite) string { return model.FavoriteKey(p.FavoriteType, p.FavoriteID) }),
	}
}

// Favorites returns the loaded favorites, newest first.
func (f *Favorites) Favorites() []model.Favorite {
	return f.favorites.Items()
}

// Counts returns the last known count per type. Every type is present.
func (f *Favorites) Counts() model.FavoriteCounts {
	counts := model.NewFavoriteCounts()
	for k, v := range f.counts.Snapshot() {
		counts[model.FavoriteType(k)] = v
	}
	return counts
}

// Popular returns the last loaded popular entities.
func (f *Favorites) Popular() []model.PopularFavorite {
	return f.popular.Items()
}

// IsFavorite reports whether the entity is among the loaded favorites.
func (f *Favorites) IsFavorite(favType model.FavoriteType, favoriteID string) bool {
	_, ok := f.find(model.FavoriteKey(favType, favoriteID))
	return ok
}

// Load loads one page of favorites. An empty favType loads every type.
func (f *Favorites) Load(ctx context.Context, favType model.FavoriteType, limit, offset int) (err error) {
	done := f.action(OpLoadFavorites)
	defer done(&err)

	return load(&f.base, f.favorites, offset, func() ([]model.Favorite, error) {
		return f.svc.List(ctx, favType, limit, offset)
	}, nil)
}

// Add favorites an entity. A placeholder appears at the top of the list at
// once and is swapped for the stored favorite when the call succeeds.
func (f *Favorites) Add(ctx context.Context, req model.AddFavoriteRequest) (fav *model.Favorite, err error) {
	done := f.action(OpAddFavorite)
	defer done(&err)

	placeholder := model.Favorite{
		ID:           pendingFavoriteID + model.FavoriteKey(req.FavoriteType, req.FavoriteID),
		FavoriteType: req.FavoriteType,
		FavoriteID:   req.FavoriteID,
		Notes:        req.Notes,
		Tags:         req.Tags,
		CreatedAt:    time.Now().UTC(),
	}
	err = f.mutate(ctx, OpAddFavorite,
		func() optimistic.Undo {
			undo := f.favorites.CheckpointItem(placeholder.ID)
			f.favorites.Prepend(placeholder)
			return optimistic.Undos(undo, f.counts.Shift(string(req.FavoriteType), 1))
		},
		func(ctx context.Context) (err error) {
			fav, err = f.svc.Add(ctx, req.FavoriteType, req.FavoriteID, req.Notes, req.Tags)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	stored := *fav
	f.commit(func() {
		f.favorites.Remove(placeholder.ID)
		f.favorites.Prepend(stored)
	})
	f.RefreshCounts(ctx)
	return fav, nil
}

// Remove unfavorites an entity, taking it out of the list ahead of the call.
func (f *Favorites) Remove(ctx context.Context, favType model.FavoriteType, favoriteID string) (err error) {
	done := f.action(OpRemoveFavorite)
	defer done(&err)

	key := model.FavoriteKey(favType, favoriteID)
	err = f.mutate(ctx, OpRemoveFavorite,
		func() optimistic.Undo {
			var undo func()
			if existing, ok := f.find(key); ok {
				undo = f.favorites.CheckpointItem(existing.ID)
				f.favorites.Remove(existing.ID)
			}
			return optimistic.Undos(undo, f.counts.Shift(string(favType), -1))
		},
		func(ctx context.Context) error { return f.svc.Remove(ctx, favType, favoriteID) },
	)
	if err != nil {
		return err
	}
	f.RefreshCounts(ctx)
	return nil
}

// Toggle adds the entity if it is not a loaded favorite and removes it
// otherwise. It reports whether the entity is a favorite afterwards.
func (f *Favorites) Toggle(ctx context.Context, favType model.FavoriteType, favoriteID string) (bool, error) {
	if f.IsFavorite(favType, favoriteID) {
		return false, f.Remove(ctx, favType, favoriteID)
	}
	_, err := f.Add(ctx, model.AddFavoriteRequest{FavoriteType: favType, FavoriteID: favoriteID})
	return err == nil, err
}

// UpdateNotes replaces the notes and tags of a favorite.
func (f *Favorites) UpdateNotes(ctx context.Context, id string, req model.UpdateFavoriteRequest) (fav *model.Favorite, err error) {
	done := f.action(OpUpdateFavorite)
	defer done(&err)

	fav, err = f.svc.UpdateNotes(ctx, id, req.Notes, req.Tags)
	if err != nil {
		return nil, err
	}
	updated := *fav
	f.commit(func() {
		f.favorites.Update(id, func(model.Favorite) model.Favorite { return updated })
	})
	return fav, nil
}

// RefreshCounts re-fetches the per-type counts. Failures are logged only.
func (f *Favorites) RefreshCounts(ctx context.Context) {
	f.background(OpRefreshCounts, func() error {
		counts, err := f.svc.Counts(ctx)
		if err != nil {
			return err
		}
		values := make(map[string]int, len(counts))
		for t, n := range counts {
			values[string(t)] = n
		}
		f.commit(func() { f.counts.Replace(values) })
		return nil
	})
}

// LoadPopular loads the most favorited entities of a type.
func (f *Favorites) LoadPopular(ctx context.Context, favType model.FavoriteType, limit int) (err error) {
	done := f.action(OpLoadPopular)
	defer done(&err)

	return load(&f.base, f.popular, 0, func() ([]model.PopularFavorite, error) {
		return f.svc.Popular(ctx, favType, limit)
	}, nil)
}

// Close releases the store. State stops changing once it returns.
func (f *Favorites) Close() error {
	f.markClosed()
	return nil
}

func (f *Favorites) find(key string) (model.Favorite, bool) {
	for _, fav := range f.favorites.Items() {
		if fav.Key() == key {
			return fav, true
		}
	}
	return model.Favorite{}, false
}
