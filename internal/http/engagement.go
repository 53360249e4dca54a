package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

type likeResponse struct {
	IsLiked bool  `json:"isLiked"`
	Likes   int64 `json:"likes"`
}

type recipePageResponse struct {
	Items []recipeResponse `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

func toLikeResponse(res domain.LikeResult) likeResponse {
	return likeResponse{IsLiked: res.Liked, Likes: res.Count}
}

func (s *Server) handleToggleRecipeLike(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	recipeID := chi.URLParam(r, "recipeID")
	res, err := s.engagement.ToggleLike(r.Context(), recipeID, actor.UserID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to like recipe")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"recipe_id": recipeID,
		"user_id":   actor.UserID,
		"liked":     res.Liked,
	}).Debug("recipe like toggled")
	s.respondJSON(w, http.StatusOK, toLikeResponse(res))
}

func (s *Server) handleSaveRecipe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	if err := s.engagement.Save(r.Context(), actor.UserID, chi.URLParam(r, "recipeID")); err != nil {
		s.respondServiceError(w, err, "Failed to save recipe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsaveRecipe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	if err := s.engagement.Unsave(r.Context(), actor.UserID, chi.URLParam(r, "recipeID")); err != nil {
		s.respondServiceError(w, err, "Failed to unsave recipe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSavedRecipes lists the caller's own saved collection.
func (s *Server) handleSavedRecipes(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := s.engagement.Saved(r.Context(), actor.UserID, page)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list saved recipes")
		return
	}
	s.respondJSON(w, http.StatusOK, recipePageResponse{
		Items: toRecipeResponses(result.Items),
		Total: result.Total,
		Page:  result.Page.Number,
		Limit: result.Page.Limit,
	})
}

func toRecipeResponses(recipes []domain.Recipe) []recipeResponse {
	items := make([]recipeResponse, 0, len(recipes))
	for _, recipe := range recipes {
		items = append(items, toRecipeResponse(recipe))
	}
	return items
}
