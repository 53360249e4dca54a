package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/recipeshare/internal/comments"
	"github.com/Clark-Hu/recipeshare/internal/domain"
)

type commentCreateRequest struct {
	Text     string   `json:"text"`
	Rating   *float64 `json:"rating"`
	ParentID *string  `json:"parentId"`
}

type commentUpdateRequest struct {
	Text         string   `json:"text"`
	Rating       *float64 `json:"rating"`
	RemoveRating bool     `json:"removeRating"`
}

type commentResponse struct {
	ID         string     `json:"id"`
	RecipeID   string     `json:"recipeId"`
	UserID     string     `json:"userId"`
	ParentID   *string    `json:"parentId"`
	Text       string     `json:"text"`
	Rating     *float64   `json:"rating"`
	IsEdited   bool       `json:"isEdited"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
	LikesCount int64      `json:"likesCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type commentPageResponse struct {
	Items []commentResponse `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func (s *Server) handleListRecipeComments(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := s.comments.ListByRecipe(r.Context(), chi.URLParam(r, "recipeID"), page)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list comments")
		return
	}
	s.respondJSON(w, http.StatusOK, toCommentPageResponse(result))
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req commentCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	created, err := s.comments.Create(r.Context(), actor, comments.CreateInput{
		RecipeID: chi.URLParam(r, "recipeID"),
		ParentID: normalizeStringPtr(req.ParentID),
		Text:     req.Text,
		Rating:   req.Rating,
	})
	if err != nil {
		s.respondServiceError(w, err, "Failed to create comment")
		return
	}

	w.Header().Set("Location", "/api/comments/"+url.PathEscape(created.ID))
	s.respondJSON(w, http.StatusCreated, toCommentResponse(created))
}

func (s *Server) handleGetComment(w http.ResponseWriter, r *http.Request) {
	comment, err := s.comments.Get(r.Context(), chi.URLParam(r, "commentID"))
	if err != nil {
		s.respondServiceError(w, err, "Failed to fetch comment")
		return
	}
	s.respondJSON(w, http.StatusOK, toCommentResponse(comment))
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var req commentUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	updated, err := s.comments.Update(r.Context(), actor, chi.URLParam(r, "commentID"), comments.UpdateInput{
		Text:         req.Text,
		Rating:       req.Rating,
		RemoveRating: req.RemoveRating,
	})
	if err != nil {
		s.respondServiceError(w, err, "Failed to update comment")
		return
	}
	s.respondJSON(w, http.StatusOK, toCommentResponse(updated))
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	if _, err := s.comments.Delete(r.Context(), actor, chi.URLParam(r, "commentID")); err != nil {
		s.respondServiceError(w, err, "Failed to delete comment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReplies(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := s.comments.ListReplies(r.Context(), chi.URLParam(r, "commentID"), page)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list replies")
		return
	}
	s.respondJSON(w, http.StatusOK, toCommentPageResponse(result))
}

func (s *Server) handleListUserComments(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := s.comments.ListByUser(r.Context(), chi.URLParam(r, "userID"), page)
	if err != nil {
		s.respondServiceError(w, err, "Failed to list comments")
		return
	}
	s.respondJSON(w, http.StatusOK, toCommentPageResponse(result))
}

func (s *Server) handleToggleCommentLike(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	res, err := s.comments.ToggleLike(r.Context(), actor, chi.URLParam(r, "commentID"))
	if err != nil {
		s.respondServiceError(w, err, "Failed to like comment")
		return
	}
	s.respondJSON(w, http.StatusOK, toLikeResponse(res))
}

func parsePage(query url.Values) (domain.Page, error) {
	var page domain.Page
	if val := strings.TrimSpace(query.Get("page")); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return page, fmt.Errorf("invalid page value")
		}
		page.Number = n
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return page, fmt.Errorf("invalid limit value")
		}
		page.Limit = n
	}
	switch val := strings.TrimSpace(query.Get("sortBy")); val {
	case "", domain.CommentSortRecent, domain.CommentSortOldest:
		page.SortBy = val
	default:
		return page, fmt.Errorf("sortBy must be recent or oldest")
	}
	return page.Normalize(), nil
}

func toCommentResponse(c domain.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		RecipeID:   c.RecipeID,
		UserID:     c.UserID,
		ParentID:   c.ParentID,
		Text:       c.Text,
		Rating:     c.Rating,
		IsEdited:   c.IsEdited,
		EditedAt:   c.EditedAt,
		LikesCount: c.LikesCount,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func toCommentPageResponse(p domain.CommentPage) commentPageResponse {
	items := make([]commentResponse, 0, len(p.Items))
	for _, c := range p.Items {
		items = append(items, toCommentResponse(c))
	}
	return commentPageResponse{
		Items: items,
		Total: p.Total,
		Page:  p.Page.Number,
		Limit: p.Page.Limit,
	}
}

func normalizeStringPtr(ptr *string) *string {
	if ptr == nil {
		return nil
	}
	val := strings.TrimSpace(*ptr)
	if val == "" {
		return nil
	}
	return &val
}
