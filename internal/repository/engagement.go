package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

// toggleLike flips a user's like on one row of target and recounts its
// likes_count from likeTable inside the same transaction. The target row is
// locked first so concurrent toggles on it apply one at a time.
func toggleLike(ctx context.Context, pool *pgxpool.Pool, target, likeTable, fk, id, userID string) (domain.LikeResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return domain.LikeResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, target), id).Scan(&locked); err != nil {
		return domain.LikeResult{}, notFound(err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND user_id = $2`, likeTable, fk), id, userID)
	if err != nil {
		return domain.LikeResult{}, fmt.Errorf("remove like: %w", err)
	}
	liked := tag.RowsAffected() == 0
	if liked {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s, user_id) VALUES ($1, $2)`, likeTable, fk), id, userID); err != nil {
			return domain.LikeResult{}, fmt.Errorf("add like: %w", notFound(err))
		}
	}

	var count int64
	recount := fmt.Sprintf(`
        UPDATE %s
        SET likes_count = (SELECT count(*) FROM %s WHERE %s = $1)
        WHERE id = $1
        RETURNING likes_count
    `, target, likeTable, fk)
	if err := tx.QueryRow(ctx, recount, id).Scan(&count); err != nil {
		return domain.LikeResult{}, fmt.Errorf("recount likes: %w", notFound(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.LikeResult{}, err
	}
	return domain.LikeResult{Liked: liked, Count: count}, nil
}

// ToggleLike likes the recipe for userID, or removes the like if present.
func (r *RecipesRepository) ToggleLike(ctx context.Context, recipeID, userID string) (domain.LikeResult, error) {
	return toggleLike(ctx, r.pool, "recipes", "recipe_likes", "recipe_id", recipeID, userID)
}

// IncrementViews counts one view of a recipe.
func (r *RecipesRepository) IncrementViews(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE recipes SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Save adds a recipe to the user's saved collection. Saving twice yields
// domain.ErrConflict.
func (r *RecipesRepository) Save(ctx context.Context, userID, recipeID string) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO recipe_saves (user_id, recipe_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, recipeID)
	if err != nil {
		return fmt.Errorf("save recipe: %w", notFound(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Unsave removes a recipe from the user's saved collection. Removing a recipe
// that was never saved is not an error.
func (r *RecipesRepository) Unsave(ctx context.Context, userID, recipeID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM recipe_saves WHERE user_id = $1 AND recipe_id = $2`, userID, recipeID); err != nil {
		return fmt.Errorf("unsave recipe: %w", err)
	}
	return nil
}

// Saved pages through a user's saved recipes, most recently saved first.
func (r *RecipesRepository) Saved(ctx context.Context, userID string, page domain.Page) (domain.RecipePage, error) {
	page = page.Normalize()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM recipe_saves WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return domain.RecipePage{}, fmt.Errorf("count saved recipes: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT %s
        FROM recipes
        JOIN (SELECT recipe_id, created_at AS saved_at FROM recipe_saves WHERE user_id = $1) s
          ON s.recipe_id = recipes.id
        ORDER BY s.saved_at DESC, recipes.id DESC
        LIMIT %d OFFSET %d
    `, recipeColumns, page.Limit, page.Offset())
	items, err := r.query(ctx, query, userID)
	if err != nil {
		return domain.RecipePage{}, fmt.Errorf("list saved recipes: %w", err)
	}
	return domain.RecipePage{Items: items, Total: total, Page: page}, nil
}

// Popular returns the most liked published recipes.
func (r *RecipesRepository) Popular(ctx context.Context, limit int) ([]domain.Recipe, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM recipes
        WHERE status = $1
        ORDER BY likes_count DESC, rating DESC, id DESC
        LIMIT %d
    `, recipeColumns, limit)
	return r.query(ctx, query, domain.RecipeStatusPublished)
}

// Trending returns published recipes created since the given time, most
// viewed first.
func (r *RecipesRepository) Trending(ctx context.Context, since time.Time, limit int) ([]domain.Recipe, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM recipes
        WHERE status = $1 AND created_at >= $2
        ORDER BY views DESC, likes_count DESC, id DESC
        LIMIT %d
    `, recipeColumns, limit)
	return r.query(ctx, query, domain.RecipeStatusPublished, since)
}

// Similar returns published recipes sharing a category, cuisine or tag with
// of, best rated first.
func (r *RecipesRepository) Similar(ctx context.Context, of domain.Recipe, limit int) ([]domain.Recipe, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM recipes
        WHERE id <> $1
          AND status = $2
          AND (category = $3 OR cuisine = $4 OR tags && $5)
        ORDER BY rating DESC, likes_count DESC, id DESC
        LIMIT %d
    `, recipeColumns, limit)
	return r.query(ctx, query, of.ID, domain.RecipeStatusPublished, of.Category, of.Cuisine, nonNilTags(of.Tags))
}

// Facets counts published recipes per category or cuisine, largest first.
func (r *RecipesRepository) Facets(ctx context.Context, facet string) ([]domain.FacetCount, error) {
	column, err := facetColumn(facet)
	if err != nil {
		return nil, err
	}
	return r.facets(ctx, column, `status = $1`, domain.RecipeStatusPublished)
}

// AuthorStats summarises an author's published recipes.
func (r *RecipesRepository) AuthorStats(ctx context.Context, authorID string) (domain.AuthorStats, error) {
	var stats domain.AuthorStats
	err := r.pool.QueryRow(ctx, `
        SELECT count(*),
               COALESCE(sum(likes_count), 0)::bigint,
               COALESCE(sum(views), 0)::bigint,
               COALESCE(avg(rating), 0)::double precision
        FROM recipes
        WHERE author_id = $1 AND status = $2
    `, authorID, domain.RecipeStatusPublished).Scan(&stats.TotalRecipes, &stats.TotalLikes, &stats.TotalViews, &stats.AverageRating)
	if err != nil {
		return domain.AuthorStats{}, fmt.Errorf("author stats: %w", err)
	}

	stats.Categories, err = r.facets(ctx, "category", `author_id = $1 AND status = $2`, authorID, domain.RecipeStatusPublished)
	if err != nil {
		return domain.AuthorStats{}, err
	}
	return stats, nil
}

func (r *RecipesRepository) facets(ctx context.Context, column, where string, args ...interface{}) ([]domain.FacetCount, error) {
	query := fmt.Sprintf(`
        SELECT %[1]s, count(*) FROM recipes
        WHERE %[2]s
        GROUP BY %[1]s
        ORDER BY count(*) DESC, %[1]s ASC
    `, column, where)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", column, err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FacetCount, error) {
		var fc domain.FacetCount
		err := row.Scan(&fc.Name, &fc.Count)
		return fc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s counts: %w", column, err)
	}
	return counts, nil
}

func facetColumn(facet string) (string, error) {
	switch facet {
	case domain.FacetCategory:
		return "category", nil
	case domain.FacetCuisine:
		return "cuisine", nil
	default:
		return "", fmt.Errorf("unknown facet %q", facet)
	}
}

// ToggleLike likes the comment for userID, or removes the like if present.
func (r *CommentsRepository) ToggleLike(ctx context.Context, commentID, userID string) (domain.LikeResult, error) {
	return toggleLike(ctx, r.pool, "comments", "comment_likes", "comment_id", commentID, userID)
}
