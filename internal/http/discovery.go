package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/montanaflynn/stats"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

const (
	defaultPopularLimit  = 10
	defaultTrendingLimit = 10
	defaultSimilarLimit  = 5
)

type recipeItemsResponse struct {
	Items []recipeResponse `json:"items"`
}

type facetCountResponse struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type facetListResponse struct {
	Items []facetCountResponse `json:"items"`
}

type authorStatsResponse struct {
	UserID        string               `json:"userId"`
	TotalRecipes  int64                `json:"totalRecipes"`
	TotalLikes    int64                `json:"totalLikes"`
	TotalViews    int64                `json:"totalViews"`
	AverageRating float64              `json:"averageRating"`
	Categories    []facetCountResponse `json:"categories"`
}

func parseShortLimit(query url.Values, def int) (int, error) {
	val := strings.TrimSpace(query.Get("limit"))
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit value")
	}
	return domain.NormalizeShortLimit(n, def), nil
}

func (s *Server) handlePopularRecipes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseShortLimit(r.URL.Query(), defaultPopularLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	items, err := s.discovery.Popular(r.Context(), limit)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list popular recipes")
		return
	}
	s.respondJSON(w, http.StatusOK, recipeItemsResponse{Items: toRecipeResponses(items)})
}

// handleTrendingRecipes ranks recipes created within domain.TrendingWindow by
// views.
func (s *Server) handleTrendingRecipes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseShortLimit(r.URL.Query(), defaultTrendingLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	since := s.now().Add(-domain.TrendingWindow)
	items, err := s.discovery.Trending(r.Context(), since, limit)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list trending recipes")
		return
	}
	s.respondJSON(w, http.StatusOK, recipeItemsResponse{Items: toRecipeResponses(items)})
}

func (s *Server) handleSimilarRecipes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseShortLimit(r.URL.Query(), defaultSimilarLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	recipe, err := s.recipes.GetByID(r.Context(), chi.URLParam(r, "recipeID"))
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch recipe")
		return
	}
	items, err := s.discovery.Similar(r.Context(), recipe, limit)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list similar recipes")
		return
	}
	s.respondJSON(w, http.StatusOK, recipeItemsResponse{Items: toRecipeResponses(items)})
}

func (s *Server) handleFacet(facet string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.discovery.Facets(r.Context(), facet)
		if err != nil {
			s.respondServiceError(w, err, "Failed to count recipes by "+facet)
			return
		}
		s.respondJSON(w, http.StatusOK, facetListResponse{Items: toFacetCountResponses(counts)})
	}
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	st, err := s.discovery.AuthorStats(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, err, "Failed to compute user stats")
		return
	}
	avg, err := stats.Round(st.AverageRating, 1)
	if err != nil {
		s.respondServiceError(w, err, "Failed to compute user stats")
		return
	}
	s.respondJSON(w, http.StatusOK, authorStatsResponse{
		UserID:        userID,
		TotalRecipes:  st.TotalRecipes,
		TotalLikes:    st.TotalLikes,
		TotalViews:    st.TotalViews,
		AverageRating: avg,
		Categories:    toFacetCountResponses(st.Categories),
	})
}

func toFacetCountResponses(counts []domain.FacetCount) []facetCountResponse {
	items := make([]facetCountResponse, 0, len(counts))
	for _, c := range counts {
		items = append(items, facetCountResponse{Name: c.Name, Count: c.Count})
	}
	return items
}
