package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/recipeshare/internal/domain"
	"github.com/Clark-Hu/recipeshare/internal/ratings"
)

// memStore keeps recipes and comments in memory and satisfies every store
// interface the service and the aggregator need.
type memStore struct {
	mu        sync.Mutex
	seq       int
	recipes   map[string]domain.Recipe
	comments  map[string]domain.Comment
	likes     map[string]map[string]bool
	queryErr  error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		recipes:  map[string]domain.Recipe{},
		comments: map[string]domain.Comment{},
		likes:    map[string]map[string]bool{},
	}
}

func (m *memStore) addRecipe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipes[id] = domain.Recipe{ID: id}
}

func (m *memStore) recipe(id string) domain.Recipe {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recipes[id]
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return domain.Comment{}, domain.ErrNotFound
	}
	return c, nil
}

type recipeLookup struct{ *memStore }

func (r recipeLookup) GetByID(_ context.Context, id string) (domain.Recipe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipes[id]
	if !ok {
		return domain.Recipe{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Create(_ context.Context, p domain.CommentCreateParams) (domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipes[p.RecipeID]; !ok {
		return domain.Comment{}, domain.ErrNotFound
	}
	m.seq++
	now := time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	c := domain.Comment{
		ID:        fmt.Sprintf("c%d", m.seq),
		RecipeID:  p.RecipeID,
		UserID:    p.UserID,
		ParentID:  p.ParentID,
		Text:      p.Text,
		Rating:    p.Rating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.comments[c.ID] = c
	return c, nil
}

func (m *memStore) filter(keep func(domain.Comment) bool, page domain.Page) domain.CommentPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	page = page.Normalize()
	var all []domain.Comment
	for _, c := range m.comments {
		if keep(c) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if page.SortBy == domain.CommentSortOldest {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return domain.CommentPage{Items: all[start:end], Total: total, Page: page}
}

func (m *memStore) ListByRecipe(_ context.Context, recipeID string, page domain.Page) (domain.CommentPage, error) {
	return m.filter(func(c domain.Comment) bool { return c.RecipeID == recipeID && c.ParentID == nil }, page), nil
}

func (m *memStore) ListReplies(_ context.Context, parentID string, page domain.Page) (domain.CommentPage, error) {
	return m.filter(func(c domain.Comment) bool { return c.ParentID != nil && *c.ParentID == parentID }, page), nil
}

func (m *memStore) ListByUser(_ context.Context, userID string, page domain.Page) (domain.CommentPage, error) {
	return m.filter(func(c domain.Comment) bool { return c.UserID == userID }, page), nil
}

func (m *memStore) Update(_ context.Context, id string, p domain.CommentUpdateParams) (domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return domain.Comment{}, domain.ErrNotFound
	}
	c.Text = p.Text
	switch {
	case p.RemoveRating:
		c.Rating = nil
	case p.Rating != nil:
		r := *p.Rating
		c.Rating = &r
	}
	c.IsEdited = true
	edited := p.EditedAt
	c.EditedAt = &edited
	c.UpdatedAt = edited
	m.comments[id] = c
	return c, nil
}

func (m *memStore) DeleteTree(_ context.Context, id string) ([]domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.comments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	removed := []domain.Comment{root}
	delete(m.comments, id)
	for i := 0; i < len(removed); i++ {
		for cid, c := range m.comments {
			if c.ParentID != nil && *c.ParentID == removed[i].ID {
				removed = append(removed, c)
				delete(m.comments, cid)
			}
		}
	}
	return removed, nil
}

func (m *memStore) RatedCommentRatings(_ context.Context, recipeID string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []float64
	for _, c := range m.comments {
		if c.RecipeID == recipeID && c.Rating != nil {
			out = append(out, *c.Rating)
		}
	}
	return out, nil
}

func (m *memStore) ToggleLike(_ context.Context, id, userID string) (domain.LikeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return domain.LikeResult{}, domain.ErrNotFound
	}
	if m.likes[id] == nil {
		m.likes[id] = map[string]bool{}
	}
	liked := !m.likes[id][userID]
	if liked {
		m.likes[id][userID] = true
	} else {
		delete(m.likes[id], userID)
	}
	c.LikesCount = int64(len(m.likes[id]))
	m.comments[id] = c
	return domain.LikeResult{Liked: liked, Count: c.LikesCount}, nil
}

type recipeSink struct{ *memStore }

func (r recipeSink) UpdateRatingAggregate(_ context.Context, id string, agg domain.RatingAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	rec, ok := r.recipes[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Rating = agg.Average
	rec.RatingsCount = agg.Count
	r.recipes[id] = rec
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	st := newMemStore()
	logger, _ := logtest.NewNullLogger()
	agg := ratings.New(st, recipeSink{st}, ratings.WithLogger(logger))
	return NewService(st, recipeLookup{st}, agg, logger), st
}

func ptr[T any](v T) *T { return &v }

var alice = Actor{UserID: "alice"}

func assertAggregate(t *testing.T, st *memStore, recipeID string, avg float64, count int64) {
	t.Helper()
	rec := st.recipe(recipeID)
	assert.InDelta(t, avg, rec.Rating, 1e-9, "rating")
	assert.Equal(t, count, rec.RatingsCount, "ratingsCount")
}

func TestService_CreateAndDeleteKeepAggregateInStep(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	var ids []string
	for _, r := range []float64{5, 4, 3} {
		c, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "good", Rating: ptr(r)})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	assertAggregate(t, st, "r1", 4.0, 3)

	_, err := svc.Delete(ctx, alice, ids[2])
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 4.5, 2)

	_, err = svc.Delete(ctx, alice, ids[0])
	require.NoError(t, err)
	_, err = svc.Delete(ctx, alice, ids[1])
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 0, 0)
}

func TestService_UnratedCommentLeavesAggregate(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	_, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "rated", Rating: ptr(4.0)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "just chatting"})
	require.NoError(t, err)

	assertAggregate(t, st, "r1", 4.0, 1)
}

func TestService_DeletingParentRemovesReplyRatings(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	parent, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "root", Rating: ptr(5.0)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Actor{UserID: "bob"}, CreateInput{RecipeID: "r1", ParentID: &parent.ID, Text: "reply", Rating: ptr(1.0)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Actor{UserID: "carol"}, CreateInput{RecipeID: "r1", Text: "separate", Rating: ptr(2.0)})
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 2.7, 3)

	removed, err := svc.Delete(ctx, alice, parent.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assertAggregate(t, st, "r1", 2.0, 1)
}

func TestService_RatingEditsRecompute(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	c, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "meh", Rating: ptr(2.0)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Actor{UserID: "bob"}, CreateInput{RecipeID: "r1", Text: "great", Rating: ptr(5.0)})
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 3.5, 2)

	edited, err := svc.Update(ctx, alice, c.ID, UpdateInput{Text: "grew on me", Rating: ptr(4.0)})
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assertAggregate(t, st, "r1", 4.5, 2)

	_, err = svc.Update(ctx, alice, c.ID, UpdateInput{Text: "no score", RemoveRating: true})
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 5.0, 1)

	_, err = svc.Update(ctx, alice, c.ID, UpdateInput{Text: "text only"})
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 5.0, 1)
}

func TestService_StoreFailureDoesNotFailComment(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	st.queryErr = errors.New("connection refused")

	c, err := svc.Create(context.Background(), alice, CreateInput{RecipeID: "r1", Text: "still saved", Rating: ptr(4.0)})
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 0, 0)

	st.queryErr = nil
	st.updateErr = errors.New("write conflict")
	_, err = svc.Delete(context.Background(), alice, c.ID)
	require.NoError(t, err)
}

func TestService_Validation(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	st.addRecipe("r2")
	ctx := context.Background()

	other, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r2", Text: "elsewhere"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		actor Actor
		in    CreateInput
		field string
		err   error
	}{
		{"empty text", alice, CreateInput{RecipeID: "r1", Text: "   "}, "text", nil},
		{"too long", alice, CreateInput{RecipeID: "r1", Text: string(make([]rune, 1001))}, "text", nil},
		{"rating too low", alice, CreateInput{RecipeID: "r1", Text: "x", Rating: ptr(0.5)}, "rating", nil},
		{"rating too high", alice, CreateInput{RecipeID: "r1", Text: "x", Rating: ptr(5.5)}, "rating", nil},
		{"missing parent", alice, CreateInput{RecipeID: "r1", Text: "x", ParentID: ptr("nope")}, "parentId", nil},
		{"foreign parent", alice, CreateInput{RecipeID: "r1", Text: "x", ParentID: &other.ID}, "parentId", nil},
		{"unknown recipe", alice, CreateInput{RecipeID: "missing", Text: "x"}, "", domain.ErrNotFound},
		{"anonymous", Actor{}, CreateInput{RecipeID: "r1", Text: "x"}, "", ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.actor, tt.in)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestService_Ownership(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	c, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "mine", Rating: ptr(3.0)})
	require.NoError(t, err)

	_, err = svc.Update(ctx, Actor{UserID: "mallory"}, c.ID, UpdateInput{Text: "hijack"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Delete(ctx, Actor{UserID: "mallory"}, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Update(ctx, alice, c.ID, UpdateInput{Text: "x", Rating: ptr(4.0), RemoveRating: true})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Delete(ctx, Actor{UserID: "moderator", Admin: true}, c.ID)
	require.NoError(t, err)
	assertAggregate(t, st, "r1", 0, 0)

	_, err = svc.Delete(ctx, alice, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Listing(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	root, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "first"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, Actor{UserID: "bob"}, CreateInput{RecipeID: "r1", Text: "second"})
	require.NoError(t, err)
	r1, err := svc.Create(ctx, Actor{UserID: "bob"}, CreateInput{RecipeID: "r1", ParentID: &root.ID, Text: "reply one"})
	require.NoError(t, err)
	r2, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", ParentID: &root.ID, Text: "reply two"})
	require.NoError(t, err)

	page, err := svc.ListByRecipe(ctx, "r1", domain.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, second.ID, page.Items[0].ID)

	replies, err := svc.ListReplies(ctx, root.ID, domain.Page{SortBy: domain.CommentSortRecent})
	require.NoError(t, err)
	require.Len(t, replies.Items, 2)
	assert.Equal(t, []string{r1.ID, r2.ID}, []string{replies.Items[0].ID, replies.Items[1].ID})

	mine, err := svc.ListByUser(ctx, "bob", domain.Page{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, mine.Total)
	assert.Len(t, mine.Items, 1)

	_, err = svc.ListByRecipe(ctx, "missing", domain.Page{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.ListReplies(ctx, "missing", domain.Page{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_ToggleLike(t *testing.T) {
	svc, st := newTestService(t)
	st.addRecipe("r1")
	ctx := context.Background()

	c, err := svc.Create(ctx, alice, CreateInput{RecipeID: "r1", Text: "rated", Rating: ptr(4.0)})
	require.NoError(t, err)

	res, err := svc.ToggleLike(ctx, Actor{UserID: "bob"}, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{Liked: true, Count: 1}, res)
	res, err = svc.ToggleLike(ctx, alice, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{Liked: true, Count: 2}, res)
	res, err = svc.ToggleLike(ctx, Actor{UserID: "bob"}, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LikeResult{Liked: false, Count: 1}, res)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsEdited)
	assertAggregate(t, st, "r1", 4.0, 1)

	_, err = svc.ToggleLike(ctx, Actor{}, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ToggleLike(ctx, alice, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
