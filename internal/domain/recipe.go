package domain

import "time"

// Recipe categories, cuisines and difficulty levels accepted by the API.
var (
	RecipeCategories   = []string{"Breakfast", "Lunch", "Dinner", "Dessert", "Snack", "Appetizer", "Beverage"}
	RecipeCuisines     = []string{"Italian", "Chinese", "Mexican", "Japanese", "Thai", "Indian", "French", "American", "Greek", "Other"}
	RecipeDifficulties = []string{"Easy", "Medium", "Hard"}
)

const (
	RecipeStatusDraft     = "draft"
	RecipeStatusPublished = "published"
)

// Ingredient is a single line of a recipe's ingredient list.
type Ingredient struct {
	Item   string `json:"item" bson:"item"`
	Amount string `json:"amount" bson:"amount"`
}

// Instruction is one numbered preparation step.
type Instruction struct {
	Step        int    `json:"step" bson:"step"`
	Description string `json:"description" bson:"description"`
}

// Recipe represents the canonical recipe entity in the database/service.
// Rating and RatingsCount are derived from rated comments and are only ever
// written by the rating aggregator.
type Recipe struct {
	ID           string
	AuthorID     string
	Title        string
	Description  string
	Category     string
	Cuisine      string
	Difficulty   string
	PrepTime     int
	CookTime     int
	Servings     int
	Ingredients  []Ingredient
	Instructions []Instruction
	Tags         []string
	Status       string
	Rating       float64
	RatingsCount int64
	LikesCount   int64
	Views        int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TotalTime is preparation plus cooking time in minutes.
func (r Recipe) TotalTime() int {
	return r.PrepTime + r.CookTime
}

// RecipeCreateParams bundles the fields required to create a recipe.
type RecipeCreateParams struct {
	AuthorID     string
	Title        string
	Description  string
	Category     string
	Cuisine      string
	Difficulty   string
	PrepTime     int
	CookTime     int
	Servings     int
	Ingredients  []Ingredient
	Instructions []Instruction
	Tags         []string
	Status       string
}

// RecipeUpdateParams replaces the editable fields of a recipe. The derived
// rating, like and view counters are absent.
type RecipeUpdateParams = RecipeCreateParams

// RecipeListFilters encapsulates search and pagination options.
type RecipeListFilters struct {
	Query       *string
	Category    *string
	Cuisine     *string
	Difficulty  *string
	MaxCookTime *int
	AuthorID    *string
	Status      *string
	Sort        string
	Limit       int
	Cursor      *Cursor
}

// Recipe list orderings. Every ordering breaks ties on id.
const (
	RecipeSortRecent  = "recent"
	RecipeSortPopular = "popular"
	RecipeSortRating  = "rating"
	RecipeSortTime    = "time"
)

// RecipeSorts lists the accepted list orderings.
var RecipeSorts = []string{RecipeSortRecent, RecipeSortPopular, RecipeSortRating, RecipeSortTime}

// NormalizedSort returns Sort, defaulting to RecipeSortRecent.
func (f RecipeListFilters) NormalizedSort() string {
	if f.Sort == "" {
		return RecipeSortRecent
	}
	return f.Sort
}

// SortKey is the value of the list ordering's leading column for r.
func SortKey(sort string, r Recipe) float64 {
	switch sort {
	case RecipeSortPopular:
		return float64(r.LikesCount)
	case RecipeSortRating:
		return r.Rating
	case RecipeSortTime:
		return float64(r.CookTime)
	default:
		return 0
	}
}

// NextCursor builds the cursor that resumes a listing after last.
func NextCursor(sort string, last Recipe) (*string, error) {
	token, err := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Sort: sort, Key: SortKey(sort, last)})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// NormalizedLimit clamps Limit into [1,100], defaulting to 20.
func (f RecipeListFilters) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return 20
	case f.Limit > 100:
		return 100
	default:
		return f.Limit
	}
}

// RecipeListResult returns the paginated payload.
type RecipeListResult struct {
	Items      []Recipe
	NextCursor *string
}
