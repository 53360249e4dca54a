package domain

import "time"

// LikeResult is the state after a like toggle.
type LikeResult struct {
	Liked bool
	Count int64
}

// FacetCount is the number of published recipes sharing one category or
// cuisine.
type FacetCount struct {
	Name  string
	Count int64
}

// Recipe facets that can be counted.
const (
	FacetCategory = "category"
	FacetCuisine  = "cuisine"
)

// AuthorStats summarises an author's published recipes.
type AuthorStats struct {
	TotalRecipes  int64
	TotalLikes    int64
	TotalViews    int64
	AverageRating float64
	Categories    []FacetCount
}

// TrendingWindow bounds how old a recipe may be to count as trending.
const TrendingWindow = 30 * 24 * time.Hour

// RecipePage is one offset page of recipes, used for saved collections.
type RecipePage struct {
	Items []Recipe
	Total int64
	Page  Page
}

// NormalizeShortLimit clamps limits of the short discovery listings into
// [1,50], defaulting to def.
func NormalizeShortLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > 50:
		return 50
	default:
		return limit
	}
}
