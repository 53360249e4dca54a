package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

// CommentsRepository provides persistence helpers for recipe comments.
type CommentsRepository struct {
	pool *pgxpool.Pool
}

const commentColumns = `
    id,
    recipe_id,
    user_id,
    parent_id,
    text,
    rating,
    is_edited,
    edited_at,
    likes_count,
    created_at,
    updated_at
`

// Create inserts a comment. A recipe or parent that vanished in the meantime
// surfaces as ErrNotFound through the foreign keys.
func (r *CommentsRepository) Create(ctx context.Context, params domain.CommentCreateParams) (domain.Comment, error) {
	query := fmt.Sprintf(`
        INSERT INTO comments (id, recipe_id, user_id, parent_id, text, rating)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING %s
    `, commentColumns)

	row := r.pool.QueryRow(ctx, query, uuid.NewString(), params.RecipeID, params.UserID, params.ParentID, params.Text, params.Rating)
	comment, err := scanComment(row)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", notFound(err))
	}
	return comment, nil
}

// GetByID fetches a comment by its identifier.
func (r *CommentsRepository) GetByID(ctx context.Context, id string) (domain.Comment, error) {
	query := fmt.Sprintf(`SELECT %s FROM comments WHERE id = $1`, commentColumns)
	comment, err := scanComment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Comment{}, notFound(err)
	}
	return comment, nil
}

// ListByRecipe pages through a recipe's top-level comments.
func (r *CommentsRepository) ListByRecipe(ctx context.Context, recipeID string, page domain.Page) (domain.CommentPage, error) {
	return r.list(ctx, "recipe_id = $1 AND parent_id IS NULL", recipeID, page)
}

// ListReplies pages through the direct replies to a comment.
func (r *CommentsRepository) ListReplies(ctx context.Context, parentID string, page domain.Page) (domain.CommentPage, error) {
	return r.list(ctx, "parent_id = $1", parentID, page)
}

// ListByUser pages through everything a user has written.
func (r *CommentsRepository) ListByUser(ctx context.Context, userID string, page domain.Page) (domain.CommentPage, error) {
	return r.list(ctx, "user_id = $1", userID, page)
}

func (r *CommentsRepository) list(ctx context.Context, where string, key string, page domain.Page) (domain.CommentPage, error) {
	page = page.Normalize()
	order := "created_at DESC, id DESC"
	if page.SortBy == domain.CommentSortOldest {
		order = "created_at ASC, id ASC"
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM comments WHERE `+where, key).Scan(&total); err != nil {
		return domain.CommentPage{}, fmt.Errorf("count comments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM comments WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
		commentColumns, where, order, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx, query, key)
	if err != nil {
		return domain.CommentPage{}, fmt.Errorf("list comments: %w", err)
	}
	items, err := collectComments(rows)
	if err != nil {
		return domain.CommentPage{}, err
	}
	return domain.CommentPage{Items: items, Total: total, Page: page}, nil
}

// Update applies an edit and marks the comment as edited.
func (r *CommentsRepository) Update(ctx context.Context, id string, params domain.CommentUpdateParams) (domain.Comment, error) {
	query := fmt.Sprintf(`
        UPDATE comments
        SET text = $2,
            rating = CASE WHEN $3::boolean THEN NULL ELSE COALESCE($4::double precision, rating) END,
            is_edited = true,
            edited_at = $5,
            updated_at = $5
        WHERE id = $1
        RETURNING %s
    `, commentColumns)

	row := r.pool.QueryRow(ctx, query, id, params.Text, params.RemoveRating, params.Rating, params.EditedAt)
	comment, err := scanComment(row)
	if err != nil {
		return domain.Comment{}, notFound(err)
	}
	return comment, nil
}

// DeleteTree removes a comment and all of its transitive replies, returning
// every removed row so callers can see which ratings disappeared.
func (r *CommentsRepository) DeleteTree(ctx context.Context, id string) ([]domain.Comment, error) {
	query := fmt.Sprintf(`
        WITH RECURSIVE doomed AS (
            SELECT id FROM comments WHERE id = $1
            UNION ALL
            SELECT c.id FROM comments c JOIN doomed d ON c.parent_id = d.id
        )
        DELETE FROM comments WHERE id IN (SELECT id FROM doomed)
        RETURNING %s
    `, commentColumns)

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("delete comment tree: %w", err)
	}
	removed, err := collectComments(rows)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, ErrNotFound
	}
	return removed, nil
}

// RatedCommentRatings returns the rating of every rated comment on a recipe.
func (r *CommentsRepository) RatedCommentRatings(ctx context.Context, recipeID string) ([]float64, error) {
	rows, err := r.pool.Query(ctx, `SELECT rating FROM comments WHERE recipe_id = $1 AND rating IS NOT NULL`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("query rated comments: %w", err)
	}
	ratings, err := pgx.CollectRows(rows, pgx.RowTo[float64])
	if err != nil {
		return nil, fmt.Errorf("scan rated comments: %w", err)
	}
	return ratings, nil
}

func collectComments(rows pgx.Rows) ([]domain.Comment, error) {
	defer rows.Close()
	items := make([]domain.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanComment(row pgx.Row) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(
		&c.ID,
		&c.RecipeID,
		&c.UserID,
		&c.ParentID,
		&c.Text,
		&c.Rating,
		&c.IsEdited,
		&c.EditedAt,
		&c.LikesCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}
