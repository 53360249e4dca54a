// Package comments owns the comment lifecycle: validation, ownership checks,
// persistence and the rating refresh that follows every committed change.
package comments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/recipeshare/internal/domain"
	"github.com/Clark-Hu/recipeshare/internal/metrics"
)

// ErrForbidden is returned when the actor may not modify a comment.
var ErrForbidden = errors.New("comments: forbidden")

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Store persists comments.
type Store interface {
	Create(ctx context.Context, params domain.CommentCreateParams) (domain.Comment, error)
	GetByID(ctx context.Context, id string) (domain.Comment, error)
	ListByRecipe(ctx context.Context, recipeID string, page domain.Page) (domain.CommentPage, error)
	ListReplies(ctx context.Context, parentID string, page domain.Page) (domain.CommentPage, error)
	ListByUser(ctx context.Context, userID string, page domain.Page) (domain.CommentPage, error)
	Update(ctx context.Context, id string, params domain.CommentUpdateParams) (domain.Comment, error)
	DeleteTree(ctx context.Context, id string) ([]domain.Comment, error)
	ToggleLike(ctx context.Context, id, userID string) (domain.LikeResult, error)
}

// RecipeLookup checks that a recipe exists.
type RecipeLookup interface {
	GetByID(ctx context.Context, id string) (domain.Recipe, error)
}

// Hooks receives committed comment changes. *ratings.Aggregator satisfies it.
type Hooks interface {
	OnCommentCreated(ctx context.Context, c domain.Comment)
	OnCommentsRemoved(ctx context.Context, removed []domain.Comment)
	OnCommentUpdated(ctx context.Context, before, after domain.Comment)
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Admin  bool
}

// CanModify reports whether the actor owns the comment or is an admin.
func (a Actor) CanModify(c domain.Comment) bool {
	return a.Admin || (a.UserID != "" && a.UserID == c.UserID)
}

// CreateInput is a new comment as submitted by a user.
type CreateInput struct {
	RecipeID string
	ParentID *string
	Text     string
	Rating   *float64
}

// UpdateInput is an edit as submitted by a user.
type UpdateInput struct {
	Text         string
	Rating       *float64
	RemoveRating bool
}

// Service implements the comment operations.
type Service struct {
	store   Store
	recipes RecipeLookup
	hooks   Hooks
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewService wires the service. hooks may be nil.
func NewService(store Store, recipes RecipeLookup, hooks Hooks, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:   store,
		recipes: recipes,
		hooks:   hooks,
		logger:  logger.WithField("component", "comments"),
		now:     time.Now,
	}
}

// Create validates and stores a comment, then refreshes the recipe rating.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (domain.Comment, error) {
	if actor.UserID == "" {
		return domain.Comment{}, ErrForbidden
	}
	text, err := validateText(in.Text)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := validateRating(in.Rating); err != nil {
		return domain.Comment{}, err
	}

	if _, err := s.recipes.GetByID(ctx, in.RecipeID); err != nil {
		return domain.Comment{}, fmt.Errorf("load recipe: %w", err)
	}
	if in.ParentID != nil {
		parent, err := s.store.GetByID(ctx, *in.ParentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Comment{}, &ValidationError{Field: "parentId", Message: "parent comment not found"}
			}
			return domain.Comment{}, fmt.Errorf("load parent comment: %w", err)
		}
		if parent.RecipeID != in.RecipeID {
			return domain.Comment{}, &ValidationError{Field: "parentId", Message: "parent comment belongs to another recipe"}
		}
	}

	created, err := s.store.Create(ctx, domain.CommentCreateParams{
		RecipeID: in.RecipeID,
		UserID:   actor.UserID,
		ParentID: in.ParentID,
		Text:     text,
		Rating:   in.Rating,
	})
	if err != nil {
		return domain.Comment{}, err
	}
	metrics.CommentMutation("create")
	s.logger.WithFields(logrus.Fields{"comment_id": created.ID, "recipe_id": created.RecipeID, "rated": created.IsRated()}).Debug("comment created")

	if s.hooks != nil {
		s.hooks.OnCommentCreated(ctx, created)
	}
	return created, nil
}

// Get returns a single comment.
func (s *Service) Get(ctx context.Context, id string) (domain.Comment, error) {
	return s.store.GetByID(ctx, id)
}

// ListByRecipe returns a recipe's top-level comments.
func (s *Service) ListByRecipe(ctx context.Context, recipeID string, page domain.Page) (domain.CommentPage, error) {
	if _, err := s.recipes.GetByID(ctx, recipeID); err != nil {
		return domain.CommentPage{}, fmt.Errorf("load recipe: %w", err)
	}
	return s.store.ListByRecipe(ctx, recipeID, page)
}

// ListReplies returns the replies to a comment, oldest first.
func (s *Service) ListReplies(ctx context.Context, commentID string, page domain.Page) (domain.CommentPage, error) {
	if _, err := s.store.GetByID(ctx, commentID); err != nil {
		return domain.CommentPage{}, err
	}
	page.SortBy = domain.CommentSortOldest
	return s.store.ListReplies(ctx, commentID, page)
}

// ListByUser returns a user's comments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, page domain.Page) (domain.CommentPage, error) {
	return s.store.ListByUser(ctx, userID, page)
}

// Update edits a comment owned by the actor. A change to the rating triggers
// a recompute of the recipe aggregate.
func (s *Service) Update(ctx context.Context, actor Actor, id string, in UpdateInput) (domain.Comment, error) {
	text, err := validateText(in.Text)
	if err != nil {
		return domain.Comment{}, err
	}
	if in.RemoveRating && in.Rating != nil {
		return domain.Comment{}, &ValidationError{Field: "rating", Message: "cannot set and remove the rating at once"}
	}
	if err := validateRating(in.Rating); err != nil {
		return domain.Comment{}, err
	}

	before, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if !actor.CanModify(before) {
		return domain.Comment{}, ErrForbidden
	}

	after, err := s.store.Update(ctx, id, domain.CommentUpdateParams{
		Text:         text,
		Rating:       in.Rating,
		RemoveRating: in.RemoveRating,
		EditedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.Comment{}, err
	}
	metrics.CommentMutation("update")

	if s.hooks != nil {
		s.hooks.OnCommentUpdated(ctx, before, after)
	}
	return after, nil
}

// Delete removes a comment and its replies, then refreshes the aggregate of
// the recipe if any removed comment carried a rating.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) ([]domain.Comment, error) {
	target, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(target) {
		return nil, ErrForbidden
	}

	removed, err := s.store.DeleteTree(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.CommentMutation("delete")
	s.logger.WithFields(logrus.Fields{"comment_id": id, "recipe_id": target.RecipeID, "removed": len(removed)}).Debug("comment tree deleted")

	if s.hooks != nil {
		s.hooks.OnCommentsRemoved(ctx, removed)
	}
	return removed, nil
}

// ToggleLike likes the comment for the actor, or takes the like back. Likes
// never touch the comment's edit state or its recipe's rating.
func (s *Service) ToggleLike(ctx context.Context, actor Actor, id string) (domain.LikeResult, error) {
	if actor.UserID == "" {
		return domain.LikeResult{}, ErrForbidden
	}
	res, err := s.store.ToggleLike(ctx, id, actor.UserID)
	if err != nil {
		return domain.LikeResult{}, err
	}
	metrics.CommentMutation("like")
	s.logger.WithFields(logrus.Fields{"comment_id": id, "liked": res.Liked, "likes": res.Count}).Debug("comment like toggled")
	return res, nil
}

func validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", &ValidationError{Field: "text", Message: "comment text is required"}
	}
	if utf8.RuneCountInString(text) > domain.MaxCommentLength {
		return "", &ValidationError{Field: "text", Message: fmt.Sprintf("comment cannot exceed %d characters", domain.MaxCommentLength)}
	}
	return text, nil
}

func validateRating(r *float64) error {
	if r == nil {
		return nil
	}
	if math.IsNaN(*r) || *r < domain.MinCommentRating || *r > domain.MaxCommentRating {
		return &ValidationError{Field: "rating", Message: "rating must be between 1 and 5"}
	}
	return nil
}
