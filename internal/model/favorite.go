package model

import (
	"time"
)

// FavoriteType is the kind of entity a favorite points at.
type FavoriteType string

const (
	FavoriteProgram  FavoriteType = "program"
	FavoriteCompany  FavoriteType = "company"
	FavoriteActivity FavoriteType = "activity"
	FavoriteCampaign FavoriteType = "campaign"
	FavoriteUser     FavoriteType = "user"
)

// FavoriteTypes lists every favorite type in display order.
var FavoriteTypes = []FavoriteType{
	FavoriteProgram, FavoriteCompany, FavoriteActivity, FavoriteCampaign, FavoriteUser,
}

// Valid reports whether t is a known favorite type.
func (t FavoriteType) Valid() bool {
	for _, v := range FavoriteTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Favorite is unique on (UserID, FavoriteType, FavoriteID).
type Favorite struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	FavoriteType FavoriteType `json:"favorite_type"`
	FavoriteID   string       `json:"favorite_id"`
	Notes        string       `json:"notes,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// FavoriteKey identifies a favorite independently of its row id.
func FavoriteKey(t FavoriteType, id string) string {
	return string(t) + ":" + id
}

// Key returns the favorite's (type, id) key.
func (f Favorite) Key() string {
	return FavoriteKey(f.FavoriteType, f.FavoriteID)
}

// FavoriteCounts maps each favorite type to the number of favorites of that type.
type FavoriteCounts map[FavoriteType]int

// NewFavoriteCounts returns counts with every type present at zero.
func NewFavoriteCounts() FavoriteCounts {
	c := make(FavoriteCounts, len(FavoriteTypes))
	for _, t := range FavoriteTypes {
		c[t] = 0
	}
	return c
}

// Total sums all types.
func (c FavoriteCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// PopularFavorite is one row of the get_popular_favorites RPC.
type PopularFavorite struct {
	FavoriteType FavoriteType `json:"favorite_type"`
	FavoriteID   string       `json:"favorite_id"`
	Count        int          `json:"count"`
}

// AddFavoriteRequest is the request to add a favorite.
type AddFavoriteRequest struct {
	FavoriteType FavoriteType `json:"favorite_type"`
	FavoriteID   string       `json:"favorite_id"`
	Notes        string       `json:"notes,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
}

// UpdateFavoriteRequest replaces a favorite's notes and tags.
type UpdateFavoriteRequest struct {
	Notes string   `json:"notes"`
	Tags  []string `json:"tags"`
}
