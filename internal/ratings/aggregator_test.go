package ratings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/recipeshare/internal/domain"
	"github.com/Clark-Hu/recipeshare/internal/metrics"
)

// memStore is an in-memory comment and recipe store.
type memStore struct {
	mu        sync.Mutex
	recipes   map[string]domain.RatingAggregate
	comments  []domain.Comment
	queries   int
	updates   int
	queryErr  error
	updateErr error
}

func newMemStore(recipeIDs ...string) *memStore {
	s := &memStore{recipes: make(map[string]domain.RatingAggregate)}
	for _, id := range recipeIDs {
		s.recipes[id] = domain.RatingAggregate{}
	}
	return s
}

func (s *memStore) RatedCommentRatings(ctx context.Context, recipeID string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []float64
	for _, c := range s.comments {
		if c.RecipeID == recipeID && c.Rating != nil {
			out = append(out, *c.Rating)
		}
	}
	return out, nil
}

func (s *memStore) UpdateRatingAggregate(ctx context.Context, recipeID string, agg domain.RatingAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.recipes[recipeID]; !ok {
		return domain.ErrNotFound
	}
	s.recipes[recipeID] = agg
	return nil
}

func (s *memStore) add(c domain.Comment) domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, c)
	return c
}

func (s *memStore) remove(id string) domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.comments {
		if c.ID == id {
			s.comments = append(s.comments[:i], s.comments[i+1:]...)
			return c
		}
	}
	return domain.Comment{}
}

func (s *memStore) aggregate(recipeID string) domain.RatingAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipes[recipeID]
}

func rated(id, recipeID string, rating float64) domain.Comment {
	return domain.Comment{ID: id, RecipeID: recipeID, UserID: "u-" + id, Text: "tasty", Rating: &rating}
}

func unrated(id, recipeID string) domain.Comment {
	return domain.Comment{ID: id, RecipeID: recipeID, UserID: "u-" + id, Text: "tasty"}
}

func newTestAggregator(st *memStore, opts ...Option) (*Aggregator, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(st, st, opts...), hook
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		ratings []float64
		want    domain.RatingAggregate
	}{
		{"empty", nil, domain.RatingAggregate{Average: 0, Count: 0}},
		{"single", []float64{4}, domain.RatingAggregate{Average: 4.0, Count: 1}},
		{"exact mean", []float64{5, 4, 3}, domain.RatingAggregate{Average: 4.0, Count: 3}},
		{"rounds down", []float64{5, 4, 4}, domain.RatingAggregate{Average: 4.3, Count: 3}},
		{"half rounds up", []float64{4.5, 4}, domain.RatingAggregate{Average: 4.3, Count: 2}},
		{"two thirds", []float64{1, 2, 2}, domain.RatingAggregate{Average: 1.7, Count: 3}},
		{"all fives", []float64{5, 5, 5, 5}, domain.RatingAggregate{Average: 5.0, Count: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.ratings)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Count, got.Count)
			assert.InDelta(t, tt.want.Average, got.Average, 1e-9)
		})
	}
}

func TestAggregator_CommentLifecycle(t *testing.T) {
	st := newMemStore("r1")
	agg, _ := newTestAggregator(st)
	ctx := context.Background()

	assert.Equal(t, domain.RatingAggregate{}, st.aggregate("r1"), "fresh recipe")

	agg.OnCommentCreated(ctx, st.add(rated("c1", "r1", 4)))
	assert.Equal(t, domain.RatingAggregate{Average: 4.0, Count: 1}, st.aggregate("r1"))

	agg.OnCommentCreated(ctx, st.add(rated("c2", "r1", 5)))
	agg.OnCommentCreated(ctx, st.add(rated("c3", "r1", 3)))
	// c1=4, c2=5, c3=3
	got := st.aggregate("r1")
	assert.InDelta(t, 4.0, got.Average, 1e-9)
	assert.EqualValues(t, 3, got.Count)

	agg.OnCommentRemoved(ctx, st.remove("c3"))
	got = st.aggregate("r1")
	assert.InDelta(t, 4.5, got.Average, 1e-9)
	assert.EqualValues(t, 2, got.Count)

	agg.OnCommentRemoved(ctx, st.remove("c1"))
	agg.OnCommentRemoved(ctx, st.remove("c2"))
	assert.Equal(t, domain.RatingAggregate{}, st.aggregate("r1"), "last rating removed")
}

func TestAggregator_RoundsHalfUp(t *testing.T) {
	st := newMemStore("r1")
	agg, _ := newTestAggregator(st)
	ctx := context.Background()

	for i, r := range []float64{5, 4, 4} {
		agg.OnCommentCreated(ctx, st.add(rated(string(rune('a'+i)), "r1", r)))
	}
	got := st.aggregate("r1")
	assert.InDelta(t, 4.3, got.Average, 1e-9)
	assert.EqualValues(t, 3, got.Count)
}

func TestAggregator_UnratedCommentsDoNotRecompute(t *testing.T) {
	st := newMemStore("r1")
	agg, _ := newTestAggregator(st)
	ctx := context.Background()

	c := st.add(unrated("c1", "r1"))
	agg.OnCommentCreated(ctx, c)
	agg.OnCommentRemoved(ctx, st.remove("c1"))
	agg.OnCommentsRemoved(ctx, []domain.Comment{unrated("c2", "r1"), unrated("c3", "r1")})

	assert.Zero(t, st.queries)
	assert.Zero(t, st.updates)
}

func TestAggregator_RecomputeIsIdempotent(t *testing.T) {
	st := newMemStore("r1")
	agg, _ := newTestAggregator(st)
	ctx := context.Background()
	st.add(rated("c1", "r1", 2))
	st.add(rated("c2", "r1", 5))

	first, err := agg.Recompute(ctx, "r1")
	require.NoError(t, err)
	second, err := agg.Recompute(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, st.aggregate("r1"))
	assert.InDelta(t, 3.5, first.Average, 1e-9)
}

func TestAggregator_RecipesAreIsolated(t *testing.T) {
	st := newMemStore("r1", "r2")
	agg, _ := newTestAggregator(st)
	ctx := context.Background()

	agg.OnCommentCreated(ctx, st.add(rated("c1", "r1", 5)))
	agg.OnCommentCreated(ctx, st.add(rated("c2", "r2", 1)))
	agg.OnCommentCreated(ctx, st.add(rated("c3", "r2", 2)))

	assert.Equal(t, domain.RatingAggregate{Average: 5, Count: 1}, st.aggregate("r1"))
	assert.Equal(t, domain.RatingAggregate{Average: 1.5, Count: 2}, st.aggregate("r2"))
}

func TestAggregator_MissingRecipeIsSkipped(t *testing.T) {
	st := newMemStore()
	agg, hook := newTestAggregator(st)
	before := recomputeCount(t, metrics.TriggerCreated, metrics.OutcomeSkipped)

	agg.OnCommentCreated(context.Background(), rated("c1", "gone", 4))

	assert.Equal(t, before+1, recomputeCount(t, metrics.TriggerCreated, metrics.OutcomeSkipped))
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level, "missing recipe must not warn: %s", e.Message)
	}

	_, err := agg.Recompute(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAggregator_StoreFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"query fails", func(s *memStore) { s.queryErr = errors.New("connection reset") }},
		{"update fails", func(s *memStore) { s.updateErr = errors.New("deadlock detected") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore("r1")
			tt.setup(st)
			agg, hook := newTestAggregator(st)

			agg.OnCommentCreated(context.Background(), st.add(rated("c1", "r1", 4)))

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.Equal(t, "r1", entry.Data["recipe_id"])
			assert.Equal(t, metrics.TriggerCreated, entry.Data["trigger"])
			assert.Equal(t, domain.RatingAggregate{}, st.aggregate("r1"))
		})
	}
}

func TestAggregator_IgnoresRequestCancellation(t *testing.T) {
	st := newMemStore("r1")
	agg, _ := newTestAggregator(st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg.OnCommentCreated(ctx, st.add(rated("c1", "r1", 3)))

	assert.Equal(t, domain.RatingAggregate{Average: 3, Count: 1}, st.aggregate("r1"))
}

func TestAggregator_BatchRemovalRecomputesOncePerRecipe(t *testing.T) {
	st := newMemStore("r1", "r2")
	agg, _ := newTestAggregator(st)
	ctx := context.Background()

	st.add(rated("keep", "r1", 2))
	removed := []domain.Comment{
		rated("parent", "r1", 5),
		rated("reply1", "r1", 4),
		unrated("reply2", "r1"),
		rated("other", "r2", 1),
	}

	agg.OnCommentsRemoved(ctx, removed)

	assert.Equal(t, 2, st.queries)
	assert.Equal(t, domain.RatingAggregate{Average: 2, Count: 1}, st.aggregate("r1"))
	assert.Equal(t, domain.RatingAggregate{}, st.aggregate("r2"))
}

func TestAggregator_OnCommentUpdated(t *testing.T) {
	four, five := 4.0, 5.0
	tests := []struct {
		name          string
		before, after *float64
		wantRecompute bool
	}{
		{"still unrated", nil, nil, false},
		{"same rating", &four, &four, false},
		{"rating added", nil, &five, true},
		{"rating removed", &four, nil, true},
		{"rating changed", &four, &five, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore("r1")
			agg, _ := newTestAggregator(st)
			before := domain.Comment{ID: "c1", RecipeID: "r1", Rating: tt.before}
			after := domain.Comment{ID: "c1", RecipeID: "r1", Rating: tt.after}
			st.add(after)

			agg.OnCommentUpdated(context.Background(), before, after)

			assert.Equal(t, tt.wantRecompute, st.queries > 0)
		})
	}
}

type recordingListener struct {
	calls map[string]domain.RatingAggregate
}

func (l *recordingListener) AggregateUpdated(_ context.Context, recipeID string, agg domain.RatingAggregate) {
	l.calls[recipeID] = agg
}

func TestAggregator_NotifiesListeners(t *testing.T) {
	st := newMemStore("r1")
	l := &recordingListener{calls: map[string]domain.RatingAggregate{}}
	agg, _ := newTestAggregator(st, WithListener(l))

	agg.OnCommentCreated(context.Background(), st.add(rated("c1", "r1", 4)))

	assert.Equal(t, domain.RatingAggregate{Average: 4, Count: 1}, l.calls["r1"])

	st.updateErr = errors.New("boom")
	agg.OnCommentCreated(context.Background(), st.add(rated("c2", "r1", 1)))
	assert.Equal(t, domain.RatingAggregate{Average: 4, Count: 1}, l.calls["r1"], "listener not called on failure")
}

// recomputeCount reads the recompute counter through the default registry.
func recomputeCount(t *testing.T, trigger, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "recipeshare_rating_recomputes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["trigger"] == trigger && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
