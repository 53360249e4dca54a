package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

// RecipesRepository provides persistence helpers for recipe entities.
type RecipesRepository struct {
	pool *pgxpool.Pool
}

const recipeColumns = `
    id,
    author_id,
    title,
    description,
    category,
    cuisine,
    difficulty,
    prep_time,
    cook_time,
    servings,
    ingredients,
    instructions,
    tags,
    status,
    rating,
    ratings_count,
    likes_count,
    views,
    created_at,
    updated_at
`

// Create inserts a new recipe row and returns the stored entity.
func (r *RecipesRepository) Create(ctx context.Context, params domain.RecipeCreateParams) (domain.Recipe, error) {
	ingredients, instructions, err := marshalSteps(params)
	if err != nil {
		return domain.Recipe{}, err
	}

	query := fmt.Sprintf(`
        INSERT INTO recipes (id, author_id, title, description, category, cuisine, difficulty,
                             prep_time, cook_time, servings, ingredients, instructions, tags, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING %s
    `, recipeColumns)

	row := r.pool.QueryRow(ctx, query,
		uuid.NewString(), params.AuthorID, params.Title, params.Description, params.Category, params.Cuisine,
		params.Difficulty, params.PrepTime, params.CookTime, params.Servings, ingredients, instructions,
		nonNilTags(params.Tags), params.Status)
	recipe, err := scanRecipe(row)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("insert recipe: %w", err)
	}
	return recipe, nil
}

// GetByID fetches a recipe by its identifier.
func (r *RecipesRepository) GetByID(ctx context.Context, id string) (domain.Recipe, error) {
	query := fmt.Sprintf(`SELECT %s FROM recipes WHERE id = $1`, recipeColumns)
	recipe, err := scanRecipe(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Recipe{}, notFound(err)
	}
	return recipe, nil
}

// Update replaces the editable fields of a recipe and bumps updated_at.
func (r *RecipesRepository) Update(ctx context.Context, id string, params domain.RecipeUpdateParams) (domain.Recipe, error) {
	ingredients, instructions, err := marshalSteps(params)
	if err != nil {
		return domain.Recipe{}, err
	}

	query := fmt.Sprintf(`
        UPDATE recipes
        SET title = $2,
            description = $3,
            category = $4,
            cuisine = $5,
            difficulty = $6,
            prep_time = $7,
            cook_time = $8,
            servings = $9,
            ingredients = $10,
            instructions = $11,
            tags = $12,
            status = $13,
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, recipeColumns)

	row := r.pool.QueryRow(ctx, query, id,
		params.Title, params.Description, params.Category, params.Cuisine, params.Difficulty,
		params.PrepTime, params.CookTime, params.Servings, ingredients, instructions,
		nonNilTags(params.Tags), params.Status)
	recipe, err := scanRecipe(row)
	if err != nil {
		return domain.Recipe{}, notFound(err)
	}
	return recipe, nil
}

// Delete removes a recipe; its comments go with it through ON DELETE CASCADE.
func (r *RecipesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRatingAggregate writes only rating and ratings_count. updated_at is
// left alone so aggregate refreshes do not look like author edits.
func (r *RecipesRepository) UpdateRatingAggregate(ctx context.Context, id string, agg domain.RatingAggregate) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recipes SET rating = $2, ratings_count = $3 WHERE id = $1`,
		id, agg.Average, agg.Count)
	if err != nil {
		return fmt.Errorf("update rating aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RatingAggregate reads the stored aggregate of a recipe.
func (r *RecipesRepository) RatingAggregate(ctx context.Context, id string) (domain.RatingAggregate, error) {
	var agg domain.RatingAggregate
	err := r.pool.QueryRow(ctx, `SELECT rating, ratings_count FROM recipes WHERE id = $1`, id).Scan(&agg.Average, &agg.Count)
	if err != nil {
		return domain.RatingAggregate{}, notFound(err)
	}
	return agg, nil
}

// IDs lists every recipe identifier, oldest first.
func (r *RecipesRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM recipes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// List returns recipes that match the provided filters in the requested
// order, newest first by default.
func (r *RecipesRepository) List(ctx context.Context, filters domain.RecipeListFilters) (domain.RecipeListResult, error) {
	limit := filters.NormalizedLimit()

	where := make([]string, 0)
	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		q := "%" + strings.TrimSpace(*filters.Query) + "%"
		p := arg(q)
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}
	if filters.Category != nil && strings.TrimSpace(*filters.Category) != "" {
		where = append(where, fmt.Sprintf("category ILIKE %s", arg(strings.TrimSpace(*filters.Category))))
	}
	if filters.Cuisine != nil && strings.TrimSpace(*filters.Cuisine) != "" {
		where = append(where, fmt.Sprintf("cuisine ILIKE %s", arg(strings.TrimSpace(*filters.Cuisine))))
	}
	if filters.Difficulty != nil && strings.TrimSpace(*filters.Difficulty) != "" {
		where = append(where, fmt.Sprintf("difficulty ILIKE %s", arg(strings.TrimSpace(*filters.Difficulty))))
	}
	if filters.MaxCookTime != nil {
		where = append(where, fmt.Sprintf("cook_time <= %s", arg(*filters.MaxCookTime)))
	}
	if filters.AuthorID != nil {
		where = append(where, fmt.Sprintf("author_id = %s", arg(*filters.AuthorID)))
	}
	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = %s", arg(*filters.Status)))
	}
	sort := filters.NormalizedSort()
	if filters.Cursor != nil {
		where = append(where, keysetCondition(sort, *filters.Cursor, arg))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(recipeColumns)
	queryBuilder.WriteString(" FROM recipes")
	if len(where) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(where, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY ")
	queryBuilder.WriteString(recipeOrder(sort))
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", limit))

	items, err := r.query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return domain.RecipeListResult{}, err
	}

	var nextCursor *string
	if len(items) == limit {
		nextCursor, err = domain.NextCursor(sort, items[len(items)-1])
		if err != nil {
			return domain.RecipeListResult{}, err
		}
	}

	return domain.RecipeListResult{Items: items, NextCursor: nextCursor}, nil
}

func recipeOrder(sort string) string {
	switch sort {
	case domain.RecipeSortPopular:
		return "likes_count DESC, id DESC"
	case domain.RecipeSortRating:
		return "rating DESC, id DESC"
	case domain.RecipeSortTime:
		return "cook_time ASC, id ASC"
	default:
		return "created_at DESC, id DESC"
	}
}

// keysetCondition resumes a listing strictly after the cursor row.
func keysetCondition(sort string, c domain.Cursor, arg func(interface{}) string) string {
	switch sort {
	case domain.RecipeSortPopular:
		return fmt.Sprintf("(likes_count, id) < (%s, %s)", arg(int64(c.Key)), arg(c.ID))
	case domain.RecipeSortRating:
		return fmt.Sprintf("(rating, id) < (%s, %s)", arg(c.Key), arg(c.ID))
	case domain.RecipeSortTime:
		return fmt.Sprintf("(cook_time, id) > (%s, %s)", arg(int32(c.Key)), arg(c.ID))
	default:
		return fmt.Sprintf("(created_at, id) < (%s, %s)", arg(c.CreatedAt), arg(c.ID))
	}
}

func (r *RecipesRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Recipe, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Recipe, 0)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanRecipe(row pgx.Row) (domain.Recipe, error) {
	var (
		recipe           domain.Recipe
		ingredientsJSON  []byte
		instructionsJSON []byte
	)

	err := row.Scan(
		&recipe.ID,
		&recipe.AuthorID,
		&recipe.Title,
		&recipe.Description,
		&recipe.Category,
		&recipe.Cuisine,
		&recipe.Difficulty,
		&recipe.PrepTime,
		&recipe.CookTime,
		&recipe.Servings,
		&ingredientsJSON,
		&instructionsJSON,
		&recipe.Tags,
		&recipe.Status,
		&recipe.Rating,
		&recipe.RatingsCount,
		&recipe.LikesCount,
		&recipe.Views,
		&recipe.CreatedAt,
		&recipe.UpdatedAt,
	)
	if err != nil {
		return domain.Recipe{}, err
	}

	if len(ingredientsJSON) > 0 {
		if err := json.Unmarshal(ingredientsJSON, &recipe.Ingredients); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode ingredients: %w", err)
		}
	}
	if len(instructionsJSON) > 0 {
		if err := json.Unmarshal(instructionsJSON, &recipe.Instructions); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode instructions: %w", err)
		}
	}
	return recipe, nil
}

func marshalSteps(params domain.RecipeCreateParams) ([]byte, []byte, error) {
	ingredients := params.Ingredients
	if ingredients == nil {
		ingredients = []domain.Ingredient{}
	}
	instructions := params.Instructions
	if instructions == nil {
		instructions = []domain.Instruction{}
	}
	ingredientsJSON, err := json.Marshal(ingredients)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ingredients: %w", err)
	}
	instructionsJSON, err := json.Marshal(instructions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode instructions: %w", err)
	}
	return ingredientsJSON, instructionsJSON, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
