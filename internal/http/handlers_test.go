package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/Clark-Hu/recipeshare/internal/comments"
	"github.com/Clark-Hu/recipeshare/internal/config"
	"github.com/Clark-Hu/recipeshare/internal/domain"
	"github.com/Clark-Hu/recipeshare/internal/pgtest"
	"github.com/Clark-Hu/recipeshare/internal/ratings"
	"github.com/Clark-Hu/recipeshare/internal/repository"
)

type testEnv struct {
	srv  *Server
	repo *repository.Repository
}

func buildTestServer(tb testing.TB) *testEnv {
	tb.Helper()
	cfg := config.Config{
		Port:             "0",
		AuthToken:        "secret",
		ReadTimeoutSecs:  15,
		WriteTimeoutSecs: 15,
		IdleTimeoutSecs:  60,
	}

	db := pgtest.Start(tb, "recipes_test_handlers", true)
	repo := repository.NewWithPool(db.Pool)
	logger, _ := logtest.NewNullLogger()

	agg := ratings.New(repo.Comments, repo.Recipes, ratings.WithLogger(logger))
	svc := comments.NewService(repo.Comments, repo.Recipes, agg, logger)
	srv := New(cfg, Deps{
		Recipes:    repo.Recipes,
		Engagement: repo.Recipes,
		Discovery:  repo.Recipes,
		Comments:   svc,
		Ratings:    agg,
	}, logger)
	return &testEnv{srv: srv, repo: repo}
}

func (e *testEnv) do(t testing.TB, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer secret")
		req.Header.Set("X-User-Id", user)
	}
	if user == "admin" {
		req.Header.Set("X-User-Role", "admin")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func validRecipeBody(title string) map[string]interface{} {
	return map[string]interface{}{
		"title":        title,
		"description":  "A reliable weeknight dish.",
		"category":     "Dinner",
		"cuisine":      "Italian",
		"prepTime":     10,
		"cookTime":     20,
		"servings":     4,
		"ingredients":  []map[string]string{{"item": "pasta", "amount": "400g"}},
		"instructions": []map[string]interface{}{{"step": 1, "description": "Boil the pasta."}},
		"tags":         []string{"Quick", "quick", " pasta "},
	}
}

func createRecipe(t testing.TB, env *testEnv, author, title string) recipeResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/recipes", author, validRecipeBody(title))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create recipe status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp recipeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode recipe: %v", err)
	}
	return resp
}

func decodeInto[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return v
}

func TestHandleCreateRecipe_AuthValidation(t *testing.T) {
	env := buildTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/recipes", "", validRecipeBody("Carbonara"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	body := validRecipeBody("Carbonara")
	body["servings"] = 0
	rec = env.do(t, http.MethodPost, "/api/recipes", "alice", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	errResp := decodeInto[errorResponse](t, rec)
	if errResp.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %s", errResp.Code)
	}
}

func TestHandleCreateAndGetRecipe(t *testing.T) {
	env := buildTestServer(t)

	created := createRecipe(t, env, "alice", "Carbonara")
	if created.AuthorID != "alice" || created.Difficulty != "Medium" || created.Status != domain.RecipeStatusPublished {
		t.Fatalf("defaults not applied: %+v", created)
	}
	if created.TotalTime != 30 {
		t.Fatalf("totalTime = %d, want 30", created.TotalTime)
	}
	if len(created.Tags) != 2 || created.Tags[0] != "quick" || created.Tags[1] != "pasta" {
		t.Fatalf("tags not normalised: %v", created.Tags)
	}
	if created.Rating != 0 || created.RatingsCount != 0 {
		t.Fatalf("new recipe should have zero aggregate: %+v", created)
	}

	rec := env.do(t, http.MethodGet, "/api/recipes/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeInto[recipeResponse](t, rec); got.Title != "Carbonara" {
		t.Fatalf("title = %s", got.Title)
	}

	rec = env.do(t, http.MethodGet, "/api/recipes/does-not-exist", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing recipe status = %d, want 404", rec.Code)
	}
}

func TestHandleListRecipes(t *testing.T) {
	env := buildTestServer(t)
	for i := 0; i < 3; i++ {
		createRecipe(t, env, "alice", fmt.Sprintf("Soup %d", i))
	}
	draft := validRecipeBody("Secret Stew")
	draft["status"] = domain.RecipeStatusDraft
	if rec := env.do(t, http.MethodPost, "/api/recipes", "alice", draft); rec.Code != http.StatusCreated {
		t.Fatalf("create draft status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/recipes?limit=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	first := decodeInto[recipeListResponse](t, rec)
	if len(first.Items) != 2 || first.NextCursor == nil {
		t.Fatalf("first page = %d items, cursor %v", len(first.Items), first.NextCursor)
	}

	rec = env.do(t, http.MethodGet, "/api/recipes?limit=2&cursor="+url.QueryEscape(*first.NextCursor), "", nil)
	second := decodeInto[recipeListResponse](t, rec)
	if len(second.Items) != 1 {
		t.Fatalf("second page = %d items, want 1 (drafts hidden)", len(second.Items))
	}

	rec = env.do(t, http.MethodGet, "/api/recipes?maxCookTime=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d, want 400", rec.Code)
	}
}

func TestHandleUpdateAndDeleteRecipe_Ownership(t *testing.T) {
	env := buildTestServer(t)
	created := createRecipe(t, env, "alice", "Carbonara")
	path := "/api/recipes/" + created.ID

	body := validRecipeBody("Better Carbonara")
	if rec := env.do(t, http.MethodPut, path, "bob", body); rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner update status = %d, want 403", rec.Code)
	}
	rec := env.do(t, http.MethodPut, path, "alice", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeInto[recipeResponse](t, rec); got.Title != "Better Carbonara" || got.AuthorID != "alice" {
		t.Fatalf("update not applied: %+v", got)
	}

	if rec := env.do(t, http.MethodDelete, path, "bob", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, path, "admin", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("admin delete status = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted recipe status = %d, want 404", rec.Code)
	}
}

func TestCommentLifecycleMaintainsRating(t *testing.T) {
	env := buildTestServer(t)
	recipe := createRecipe(t, env, "alice", "Carbonara")
	commentsPath := "/api/recipes/" + recipe.ID + "/comments"
	ratingPath := "/api/recipes/" + recipe.ID + "/rating"

	rec := env.do(t, http.MethodPost, commentsPath, "bob", map[string]interface{}{"text": "Lovely", "rating": 4})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create comment status = %d body=%s", rec.Code, rec.Body.String())
	}
	bobComment := decodeInto[commentResponse](t, rec)

	rec = env.do(t, http.MethodPost, commentsPath, "carol", map[string]interface{}{"text": "Too salty", "rating": 5})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create comment status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, commentsPath, "dave", map[string]interface{}{"text": "Agreed", "parentId": bobComment.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create reply status = %d", rec.Code)
	}

	agg := decodeInto[ratingAggregateResponse](t, env.do(t, http.MethodGet, ratingPath, "", nil))
	if agg.Average != 4.5 || agg.Count != 2 {
		t.Fatalf("aggregate = %+v, want 4.5/2", agg)
	}

	rec = env.do(t, http.MethodPut, "/api/comments/"+bobComment.ID, "bob", map[string]interface{}{"text": "Lovely, edited", "rating": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("update comment status = %d body=%s", rec.Code, rec.Body.String())
	}
	if edited := decodeInto[commentResponse](t, rec); !edited.IsEdited {
		t.Fatalf("comment not marked edited")
	}
	agg = decodeInto[ratingAggregateResponse](t, env.do(t, http.MethodGet, ratingPath, "", nil))
	if agg.Average != 3.5 || agg.Count != 2 {
		t.Fatalf("aggregate after edit = %+v, want 3.5/2", agg)
	}

	if rec := env.do(t, http.MethodDelete, "/api/comments/"+bobComment.ID, "carol", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/comments/"+bobComment.ID, "bob", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	agg = decodeInto[ratingAggregateResponse](t, env.do(t, http.MethodGet, ratingPath, "", nil))
	if agg.Average != 5 || agg.Count != 1 {
		t.Fatalf("aggregate after delete = %+v, want 5/1", agg)
	}

	page := decodeInto[commentPageResponse](t, env.do(t, http.MethodGet, commentsPath, "", nil))
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("reply should be removed with its parent: %+v", page)
	}

	got := decodeInto[recipeResponse](t, env.do(t, http.MethodGet, "/api/recipes/"+recipe.ID, "", nil))
	if got.Rating != 5 || got.RatingsCount != 1 {
		t.Fatalf("recipe aggregate = %v/%d", got.Rating, got.RatingsCount)
	}
	if !got.UpdatedAt.Equal(recipe.UpdatedAt) {
		t.Fatalf("aggregate refresh must not touch updatedAt: %v vs %v", got.UpdatedAt, recipe.UpdatedAt)
	}
}

func TestHandleCreateComment_Validation(t *testing.T) {
	env := buildTestServer(t)
	recipe := createRecipe(t, env, "alice", "Carbonara")
	path := "/api/recipes/" + recipe.ID + "/comments"

	cases := []struct {
		name string
		user string
		body interface{}
		want int
	}{
		{"anonymous", "", map[string]interface{}{"text": "hi"}, http.StatusUnauthorized},
		{"empty text", "bob", map[string]interface{}{"text": "  "}, http.StatusUnprocessableEntity},
		{"rating too high", "bob", map[string]interface{}{"text": "hi", "rating": 6}, http.StatusUnprocessableEntity},
		{"rating too low", "bob", map[string]interface{}{"text": "hi", "rating": 0}, http.StatusUnprocessableEntity},
		{"unknown field", "bob", map[string]interface{}{"text": "hi", "stars": 3}, http.StatusUnprocessableEntity},
		{"unknown parent", "bob", map[string]interface{}{"text": "hi", "parentId": "nope"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, path, tc.user, tc.body); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/recipes/missing/comments", "bob", map[string]interface{}{"text": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown recipe status = %d, want 404", rec.Code)
	}
}

func TestHandleRecomputeRating(t *testing.T) {
	env := buildTestServer(t)
	recipe := createRecipe(t, env, "alice", "Carbonara")
	path := "/api/recipes/" + recipe.ID + "/rating/recompute"

	for _, r := range []float64{3, 4} {
		_, err := env.repo.Comments.Create(context.Background(), domain.CommentCreateParams{
			RecipeID: recipe.ID,
			UserID:   "seed",
			Text:     "seeded directly",
			Rating:   &r,
		})
		if err != nil {
			t.Fatalf("seed comment: %v", err)
		}
	}

	if rec := env.do(t, http.MethodPost, path, "bob", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want 403", rec.Code)
	}
	rec := env.do(t, http.MethodPost, path, "admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute status = %d body=%s", rec.Code, rec.Body.String())
	}
	if agg := decodeInto[ratingAggregateResponse](t, rec); agg.Average != 3.5 || agg.Count != 2 {
		t.Fatalf("aggregate = %+v, want 3.5/2", agg)
	}

	if rec := env.do(t, http.MethodPost, "/api/recipes/missing/rating/recompute", "admin", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing recipe status = %d, want 404", rec.Code)
	}
}

func TestHandleListRepliesAndUserComments(t *testing.T) {
	env := buildTestServer(t)
	recipe := createRecipe(t, env, "alice", "Carbonara")
	commentsPath := "/api/recipes/" + recipe.ID + "/comments"

	parent := decodeInto[commentResponse](t, env.do(t, http.MethodPost, commentsPath, "bob", map[string]interface{}{"text": "Question?"}))
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, commentsPath, "alice", map[string]interface{}{"text": fmt.Sprintf("Answer %d", i), "parentId": parent.ID})
		if rec.Code != http.StatusCreated {
			t.Fatalf("reply status = %d", rec.Code)
		}
	}

	replies := decodeInto[commentPageResponse](t, env.do(t, http.MethodGet, "/api/comments/"+parent.ID+"/replies", "", nil))
	if replies.Total != 2 || replies.Items[0].Text != "Answer 0" {
		t.Fatalf("replies = %+v", replies)
	}

	mine := decodeInto[commentPageResponse](t, env.do(t, http.MethodGet, "/api/users/alice/comments?limit=1", "", nil))
	if mine.Total != 2 || len(mine.Items) != 1 || mine.Limit != 1 {
		t.Fatalf("user comments = %+v", mine)
	}

	if rec := env.do(t, http.MethodGet, "/api/users/alice/comments?sortBy=best", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad sortBy status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/comments/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing comment status = %d, want 404", rec.Code)
	}
}
