package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/recipeshare/internal/comments"
	"github.com/Clark-Hu/recipeshare/internal/domain"
)

type recipeRequest struct {
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Category     string               `json:"category"`
	Cuisine      string               `json:"cuisine"`
	Difficulty   string               `json:"difficulty"`
	PrepTime     int                  `json:"prepTime"`
	CookTime     int                  `json:"cookTime"`
	Servings     int                  `json:"servings"`
	Ingredients  []domain.Ingredient  `json:"ingredients"`
	Instructions []domain.Instruction `json:"instructions"`
	Tags         []string             `json:"tags"`
	Status       string               `json:"status"`
}

type recipeResponse struct {
	ID           string               `json:"id"`
	AuthorID     string               `json:"authorId"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Category     string               `json:"category"`
	Cuisine      string               `json:"cuisine"`
	Difficulty   string               `json:"difficulty"`
	PrepTime     int                  `json:"prepTime"`
	CookTime     int                  `json:"cookTime"`
	TotalTime    int                  `json:"totalTime"`
	Servings     int                  `json:"servings"`
	Ingredients  []domain.Ingredient  `json:"ingredients"`
	Instructions []domain.Instruction `json:"instructions"`
	Tags         []string             `json:"tags"`
	Status       string               `json:"status"`
	Rating       float64              `json:"rating"`
	RatingsCount int64                `json:"ratingsCount"`
	LikesCount   int64                `json:"likesCount"`
	Views        int64                `json:"views"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type recipeListResponse struct {
	Items      []recipeResponse `json:"items"`
	NextCursor *string          `json:"nextCursor,omitempty"`
}

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	filters, err := buildRecipeFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result, err := s.recipes.List(r.Context(), filters)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list recipes")
		return
	}

	s.respondJSON(w, http.StatusOK, recipeListResponse{
		Items:      toRecipeResponses(result.Items),
		NextCursor: result.NextCursor,
	})
}

// buildRecipeFilters parses list query parameters. Only published recipes are
// listed unless status is given explicitly.
func buildRecipeFilters(query url.Values) (domain.RecipeListFilters, error) {
	var filters domain.RecipeListFilters

	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("category")); val != "" {
		filters.Category = &val
	}
	if val := strings.TrimSpace(query.Get("cuisine")); val != "" {
		filters.Cuisine = &val
	}
	if val := strings.TrimSpace(query.Get("difficulty")); val != "" {
		filters.Difficulty = &val
	}
	if val := strings.TrimSpace(query.Get("maxCookTime")); val != "" {
		minutes, err := strconv.Atoi(val)
		if err != nil || minutes < 0 {
			return filters, fmt.Errorf("invalid maxCookTime value")
		}
		filters.MaxCookTime = &minutes
	}
	if val := strings.TrimSpace(query.Get("author")); val != "" {
		filters.AuthorID = &val
	}
	status := domain.RecipeStatusPublished
	if val := strings.TrimSpace(query.Get("status")); val != "" {
		if val != domain.RecipeStatusDraft && val != domain.RecipeStatusPublished {
			return filters, fmt.Errorf("invalid status value")
		}
		status = val
	}
	filters.Status = &status
	sort := strings.TrimSpace(query.Get("sort"))
	if sort == "" {
		sort = strings.TrimSpace(query.Get("sortBy"))
	}
	if sort != "" && !slices.Contains(domain.RecipeSorts, sort) {
		return filters, fmt.Errorf("sort must be one of %s", strings.Join(domain.RecipeSorts, ", "))
	}
	filters.Sort = sort
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	if val := strings.TrimSpace(query.Get("cursor")); val != "" {
		cursor, err := domain.DecodeCursor(val)
		if err != nil {
			return filters, fmt.Errorf("invalid cursor")
		}
		if cursor.SortOrDefault() != filters.NormalizedSort() {
			return filters, fmt.Errorf("cursor was issued for a different sort")
		}
		filters.Cursor = cursor
	}
	return filters, nil
}

func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req recipeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	params, err := req.params(actor.UserID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to create recipe")
		return
	}

	recipe, err := s.recipes.Create(r.Context(), params)
	if err != nil {
		s.respondServiceError(w, err, "Failed to create recipe")
		return
	}

	w.Header().Set("Location", "/api/recipes/"+url.PathEscape(recipe.ID))
	s.respondJSON(w, http.StatusCreated, toRecipeResponse(recipe))
}

// handleGetRecipe serves one recipe and counts the view. A failed view count
// is logged and does not fail the read.
func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.recipes.GetByID(r.Context(), chi.URLParam(r, "recipeID"))
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch recipe")
		return
	}
	if s.engagement != nil {
		if err := s.engagement.IncrementViews(r.Context(), recipe.ID); err != nil {
			s.logger.WithError(err).WithField("recipe_id", recipe.ID).Warn("view count failed")
		} else {
			recipe.Views++
		}
	}
	s.respondJSON(w, http.StatusOK, toRecipeResponse(recipe))
}

func (s *Server) handleUpdateRecipe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	existing, ok := s.loadOwnedRecipe(w, r, actor)
	if !ok {
		return
	}

	var req recipeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	params, err := req.params(existing.AuthorID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to update recipe")
		return
	}

	recipe, err := s.recipes.Update(r.Context(), existing.ID, params)
	if err != nil {
		s.respondServiceError(w, err, "Failed to update recipe")
		return
	}
	s.respondJSON(w, http.StatusOK, toRecipeResponse(recipe))
}

func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	existing, ok := s.loadOwnedRecipe(w, r, actor)
	if !ok {
		return
	}

	if err := s.recipes.Delete(r.Context(), existing.ID); err != nil {
		s.respondServiceError(w, err, "Failed to delete recipe")
		return
	}
	s.cache.Invalidate(r.Context(), existing.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadOwnedRecipe(w http.ResponseWriter, r *http.Request, actor comments.Actor) (domain.Recipe, bool) {
	recipe, err := s.recipes.GetByID(r.Context(), chi.URLParam(r, "recipeID"))
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch recipe")
		return domain.Recipe{}, false
	}
	if !actor.Admin && actor.UserID != recipe.AuthorID {
		s.respondServiceError(w, comments.ErrForbidden, "")
		return domain.Recipe{}, false
	}
	return recipe, true
}

func (req recipeRequest) params(authorID string) (domain.RecipeCreateParams, error) {
	params := domain.RecipeCreateParams{
		AuthorID:     authorID,
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		Category:     strings.TrimSpace(req.Category),
		Cuisine:      strings.TrimSpace(req.Cuisine),
		Difficulty:   strings.TrimSpace(req.Difficulty),
		PrepTime:     req.PrepTime,
		CookTime:     req.CookTime,
		Servings:     req.Servings,
		Ingredients:  req.Ingredients,
		Instructions: req.Instructions,
		Tags:         normalizeTags(req.Tags),
		Status:       strings.TrimSpace(req.Status),
	}
	if params.Difficulty == "" {
		params.Difficulty = "Medium"
	}
	if params.Status == "" {
		params.Status = domain.RecipeStatusPublished
	}
	return params, validateRecipe(params)
}

func validateRecipe(p domain.RecipeCreateParams) error {
	invalid := func(field, msg string) error {
		return &comments.ValidationError{Field: field, Message: msg}
	}
	if n := utf8.RuneCountInString(p.Title); n < 3 || n > 100 {
		return invalid("title", "title must be between 3 and 100 characters")
	}
	if n := utf8.RuneCountInString(p.Description); n < 10 || n > 500 {
		return invalid("description", "description must be between 10 and 500 characters")
	}
	if !slices.Contains(domain.RecipeCategories, p.Category) {
		return invalid("category", "category must be one of "+strings.Join(domain.RecipeCategories, ", "))
	}
	if !slices.Contains(domain.RecipeCuisines, p.Cuisine) {
		return invalid("cuisine", "cuisine must be one of "+strings.Join(domain.RecipeCuisines, ", "))
	}
	if !slices.Contains(domain.RecipeDifficulties, p.Difficulty) {
		return invalid("difficulty", "difficulty must be one of "+strings.Join(domain.RecipeDifficulties, ", "))
	}
	if p.PrepTime < 0 {
		return invalid("prepTime", "prepTime must be non-negative")
	}
	if p.CookTime < 1 {
		return invalid("cookTime", "cookTime must be at least 1 minute")
	}
	if p.Servings < 1 || p.Servings > 100 {
		return invalid("servings", "servings must be between 1 and 100")
	}
	if len(p.Ingredients) == 0 {
		return invalid("ingredients", "at least one ingredient is required")
	}
	for _, ing := range p.Ingredients {
		if strings.TrimSpace(ing.Item) == "" || strings.TrimSpace(ing.Amount) == "" {
			return invalid("ingredients", "ingredients need an item and an amount")
		}
	}
	if len(p.Instructions) == 0 {
		return invalid("instructions", "at least one instruction is required")
	}
	for _, step := range p.Instructions {
		if step.Step < 1 || strings.TrimSpace(step.Description) == "" {
			return invalid("instructions", "instructions need a positive step and a description")
		}
	}
	if p.Status != domain.RecipeStatusDraft && p.Status != domain.RecipeStatusPublished {
		return invalid("status", "status must be draft or published")
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

func toRecipeResponse(recipe domain.Recipe) recipeResponse {
	tags := recipe.Tags
	if tags == nil {
		tags = []string{}
	}
	return recipeResponse{
		ID:           recipe.ID,
		AuthorID:     recipe.AuthorID,
		Title:        recipe.Title,
		Description:  recipe.Description,
		Category:     recipe.Category,
		Cuisine:      recipe.Cuisine,
		Difficulty:   recipe.Difficulty,
		PrepTime:     recipe.PrepTime,
		CookTime:     recipe.CookTime,
		TotalTime:    recipe.TotalTime(),
		Servings:     recipe.Servings,
		Ingredients:  recipe.Ingredients,
		Instructions: recipe.Instructions,
		Tags:         tags,
		Status:       recipe.Status,
		Rating:       recipe.Rating,
		RatingsCount: recipe.RatingsCount,
		LikesCount:   recipe.LikesCount,
		Views:        recipe.Views,
		CreatedAt:    recipe.CreatedAt,
		UpdatedAt:    recipe.UpdatedAt,
	}
}
