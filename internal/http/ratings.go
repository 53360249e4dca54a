package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type ratingAggregateResponse struct {
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	recipeID := chi.URLParam(r, "recipeID")
	if agg, ok := s.cache.Get(r.Context(), recipeID); ok {
		s.respondJSON(w, http.StatusOK, ratingAggregateResponse{Average: agg.Average, Count: agg.Count})
		return
	}

	agg, err := s.recipes.RatingAggregate(r.Context(), recipeID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch rating")
		return
	}
	s.cache.Fill(r.Context(), recipeID, agg)
	s.respondJSON(w, http.StatusOK, ratingAggregateResponse{Average: agg.Average, Count: agg.Count})
}

func (s *Server) handleRecomputeRating(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	if !actor.Admin {
		s.respondError(w, http.StatusForbidden, "FORBIDDEN", "Only administrators can recompute ratings")
		return
	}

	recipeID := chi.URLParam(r, "recipeID")
	agg, err := s.ratings.Recompute(r.Context(), recipeID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to recompute rating")
		return
	}
	s.logger.WithField("recipe_id", recipeID).WithField("user_id", actor.UserID).Info("rating recomputed on request")
	s.respondJSON(w, http.StatusOK, ratingAggregateResponse{Average: agg.Average, Count: agg.Count})
}
