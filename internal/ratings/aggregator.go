// Package ratings keeps a recipe's derived rating in step with its rated
// comments. Every recompute is a full scan of the recipe's rated comments, so
// running it twice, or concurrently, converges on the same stored value.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/recipeshare/internal/domain"
	"github.com/Clark-Hu/recipeshare/internal/metrics"
)

// CommentSource reads the ratings of every rated comment on a recipe.
type CommentSource interface {
	RatedCommentRatings(ctx context.Context, recipeID string) ([]float64, error)
}

// RecipeSink stores the derived aggregate on a recipe. Implementations must
// only touch the rating fields and return domain.ErrNotFound when the recipe
// does not exist.
type RecipeSink interface {
	UpdateRatingAggregate(ctx context.Context, recipeID string, agg domain.RatingAggregate) error
}

// Listener is notified after a fresh aggregate has been stored.
type Listener interface {
	AggregateUpdated(ctx context.Context, recipeID string, agg domain.RatingAggregate)
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger used for recompute failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithListener registers a listener for stored aggregates.
func WithListener(l Listener) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.listeners = append(a.listeners, l)
		}
	}
}

// WithTimeout bounds each hook-triggered recompute. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.timeout = d
	}
}

// Aggregator recomputes recipe ratings in response to comment lifecycle events.
type Aggregator struct {
	comments  CommentSource
	recipes   RecipeSink
	listeners []Listener
	logger    logrus.FieldLogger
	timeout   time.Duration
}

// New constructs an Aggregator over the given stores.
func New(comments CommentSource, recipes RecipeSink, opts ...Option) *Aggregator {
	a := &Aggregator{
		comments: comments,
		recipes:  recipes,
		logger:   logrus.StandardLogger(),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnCommentCreated refreshes the recipe's aggregate if the new comment is rated.
func (a *Aggregator) OnCommentCreated(ctx context.Context, c domain.Comment) {
	if !c.IsRated() {
		return
	}
	a.refresh(ctx, c.RecipeID, metrics.TriggerCreated)
}

// OnCommentRemoved refreshes the recipe's aggregate if the removed comment was rated.
func (a *Aggregator) OnCommentRemoved(ctx context.Context, c domain.Comment) {
	if !c.IsRated() {
		return
	}
	a.refresh(ctx, c.RecipeID, metrics.TriggerRemoved)
}

// OnCommentsRemoved handles a batch removal, such as a comment deleted together
// with its replies. Each affected recipe is recomputed once.
func (a *Aggregator) OnCommentsRemoved(ctx context.Context, removed []domain.Comment) {
	seen := make(map[string]struct{}, 1)
	for _, c := range removed {
		if !c.IsRated() {
			continue
		}
		if _, ok := seen[c.RecipeID]; ok {
			continue
		}
		seen[c.RecipeID] = struct{}{}
		a.refresh(ctx, c.RecipeID, metrics.TriggerRemoved)
	}
}

// OnCommentUpdated refreshes the aggregate when an edit added, removed or
// changed the comment's rating.
func (a *Aggregator) OnCommentUpdated(ctx context.Context, before, after domain.Comment) {
	if !ratingChanged(before.Rating, after.Rating) {
		return
	}
	a.refresh(ctx, after.RecipeID, metrics.TriggerUpdated)
}

// Recompute rescans the recipe's rated comments and stores the result. Unlike
// the hooks it reports failures to the caller; a missing recipe yields an
// error wrapping domain.ErrNotFound.
func (a *Aggregator) Recompute(ctx context.Context, recipeID string) (domain.RatingAggregate, error) {
	return a.recompute(ctx, recipeID, metrics.TriggerManual)
}

func (a *Aggregator) refresh(ctx context.Context, recipeID, trigger string) {
	ctx = context.WithoutCancel(ctx)
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	agg, err := a.recompute(ctx, recipeID, trigger)
	entry := a.logger.WithFields(logrus.Fields{"recipe_id": recipeID, "trigger": trigger})
	switch {
	case err == nil:
		entry.WithFields(logrus.Fields{"average": agg.Average, "count": agg.Count}).Debug("recipe rating refreshed")
	case errors.Is(err, domain.ErrNotFound):
		entry.Debug("recipe gone, rating refresh skipped")
	default:
		entry.WithError(err).Warn("recipe rating refresh failed")
	}
}

func (a *Aggregator) recompute(ctx context.Context, recipeID, trigger string) (agg domain.RatingAggregate, err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		if errors.Is(err, domain.ErrNotFound) {
			outcome = metrics.OutcomeSkipped
		} else if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.ObserveRecompute(trigger, outcome, time.Since(start))
	}()

	ratings, err := a.comments.RatedCommentRatings(ctx, recipeID)
	if err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("query rated comments: %w", err)
	}
	agg, err = Compute(ratings)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	if err := a.recipes.UpdateRatingAggregate(ctx, recipeID, agg); err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("update recipe aggregate: %w", err)
	}
	for _, l := range a.listeners {
		l.AggregateUpdated(ctx, recipeID, agg)
	}
	return agg, nil
}

// Compute returns the mean of ratings rounded half-up to one decimal along
// with the count. No ratings yields a zero aggregate.
func Compute(ratings []float64) (domain.RatingAggregate, error) {
	if len(ratings) == 0 {
		return domain.RatingAggregate{}, nil
	}
	mean, err := stats.Mean(ratings)
	if err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("mean of ratings: %w", err)
	}
	avg, err := stats.Round(mean, 1)
	if err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("round mean rating: %w", err)
	}
	return domain.RatingAggregate{Average: avg, Count: int64(len(ratings))}, nil
}

func ratingChanged(before, after *float64) bool {
	switch {
	case before == nil && after == nil:
		return false
	case before == nil || after == nil:
		return true
	default:
		return *before != *after
	}
}
