package mongorepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

type recipeDocument struct {
	ID           string               `bson:"_id"`
	AuthorID     string               `bson:"authorId"`
	Title        string               `bson:"title"`
	Description  string               `bson:"description"`
	Category     string               `bson:"category"`
	Cuisine      string               `bson:"cuisine"`
	Difficulty   string               `bson:"difficulty"`
	PrepTime     int                  `bson:"prepTime"`
	CookTime     int                  `bson:"cookTime"`
	Servings     int                  `bson:"servings"`
	Ingredients  []domain.Ingredient  `bson:"ingredients"`
	Instructions []domain.Instruction `bson:"instructions"`
	Tags         []string             `bson:"tags"`
	Status       string               `bson:"status"`
	Rating       float64              `bson:"rating"`
	RatingsCount int64                `bson:"ratingsCount"`
	LikesCount   int64                `bson:"likesCount"`
	Views        int64                `bson:"views"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

func (d recipeDocument) toDomain() domain.Recipe {
	return domain.Recipe{
		ID:           d.ID,
		AuthorID:     d.AuthorID,
		Title:        d.Title,
		Description:  d.Description,
		Category:     d.Category,
		Cuisine:      d.Cuisine,
		Difficulty:   d.Difficulty,
		PrepTime:     d.PrepTime,
		CookTime:     d.CookTime,
		Servings:     d.Servings,
		Ingredients:  d.Ingredients,
		Instructions: d.Instructions,
		Tags:         d.Tags,
		Status:       d.Status,
		Rating:       d.Rating,
		RatingsCount: d.RatingsCount,
		LikesCount:   d.LikesCount,
		Views:        d.Views,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// RecipesRepository stores recipes in the recipes collection. Likes live on
// the recipe document as a likes array of user ids next to likesCount; saves
// live in their own collection.
type RecipesRepository struct {
	recipes  *mongo.Collection
	comments *mongo.Collection
	saves    *mongo.Collection
}

// Create inserts a new recipe document.
func (r *RecipesRepository) Create(ctx context.Context, params domain.RecipeCreateParams) (domain.Recipe, error) {
	ts := now()
	doc := recipeDocument{
		ID:           uuid.NewString(),
		AuthorID:     params.AuthorID,
		Title:        params.Title,
		Description:  params.Description,
		Category:     params.Category,
		Cuisine:      params.Cuisine,
		Difficulty:   params.Difficulty,
		PrepTime:     params.PrepTime,
		CookTime:     params.CookTime,
		Servings:     params.Servings,
		Ingredients:  params.Ingredients,
		Instructions: params.Instructions,
		Tags:         params.Tags,
		Status:       params.Status,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if _, err := r.recipes.InsertOne(ctx, doc); err != nil {
		return domain.Recipe{}, fmt.Errorf("insert recipe: %w", err)
	}
	return doc.toDomain(), nil
}

// GetByID fetches a recipe by its identifier.
func (r *RecipesRepository) GetByID(ctx context.Context, id string) (domain.Recipe, error) {
	var doc recipeDocument
	if err := r.recipes.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Recipe{}, notFound(err)
	}
	return doc.toDomain(), nil
}

// Update replaces the editable fields of a recipe and bumps updatedAt.
func (r *RecipesRepository) Update(ctx context.Context, id string, params domain.RecipeUpdateParams) (domain.Recipe, error) {
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}
	update := bson.M{"$set": bson.M{
		"title":        params.Title,
		"description":  params.Description,
		"category":     params.Category,
		"cuisine":      params.Cuisine,
		"difficulty":   params.Difficulty,
		"prepTime":     params.PrepTime,
		"cookTime":     params.CookTime,
		"servings":     params.Servings,
		"ingredients":  params.Ingredients,
		"instructions": params.Instructions,
		"tags":         tags,
		"status":       params.Status,
		"updatedAt":    now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc recipeDocument
	if err := r.recipes.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		return domain.Recipe{}, notFound(err)
	}
	return doc.toDomain(), nil
}

// Delete removes a recipe and then its comments and saves. The writes are not
// atomic; orphans only ever point at a recipe that no longer exists.
func (r *RecipesRepository) Delete(ctx context.Context, id string) error {
	res, err := r.recipes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	if _, err := r.comments.DeleteMany(ctx, bson.M{"recipeId": id}); err != nil {
		return fmt.Errorf("delete recipe comments: %w", err)
	}
	if _, err := r.saves.DeleteMany(ctx, bson.M{"recipeId": id}); err != nil {
		return fmt.Errorf("delete recipe saves: %w", err)
	}
	return nil
}

// UpdateRatingAggregate writes only rating and ratingsCount.
func (r *RecipesRepository) UpdateRatingAggregate(ctx context.Context, id string, agg domain.RatingAggregate) error {
	res, err := r.recipes.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"rating": agg.Average, "ratingsCount": agg.Count}})
	if err != nil {
		return fmt.Errorf("update rating aggregate: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RatingAggregate reads the stored aggregate of a recipe.
func (r *RecipesRepository) RatingAggregate(ctx context.Context, id string) (domain.RatingAggregate, error) {
	var doc struct {
		Rating       float64 `bson:"rating"`
		RatingsCount int64   `bson:"ratingsCount"`
	}
	opts := options.FindOne().SetProjection(bson.M{"rating": 1, "ratingsCount": 1})
	if err := r.recipes.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		return domain.RatingAggregate{}, notFound(err)
	}
	return domain.RatingAggregate{Average: doc.Rating, Count: doc.RatingsCount}, nil
}

// IDs lists every recipe identifier, oldest first.
func (r *RecipesRepository) IDs(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.recipes.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// List returns recipes that match the provided filters in the requested
// order, newest first by default.
func (r *RecipesRepository) List(ctx context.Context, filters domain.RecipeListFilters) (domain.RecipeListResult, error) {
	limit := filters.NormalizedLimit()

	filter := bson.M{}
	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		q := caseInsensitiveContains(strings.TrimSpace(*filters.Query))
		filter["$or"] = bson.A{bson.M{"title": q}, bson.M{"description": q}}
	}
	if filters.Category != nil && strings.TrimSpace(*filters.Category) != "" {
		filter["category"] = caseInsensitiveEquals(strings.TrimSpace(*filters.Category))
	}
	if filters.Cuisine != nil && strings.TrimSpace(*filters.Cuisine) != "" {
		filter["cuisine"] = caseInsensitiveEquals(strings.TrimSpace(*filters.Cuisine))
	}
	if filters.Difficulty != nil && strings.TrimSpace(*filters.Difficulty) != "" {
		filter["difficulty"] = caseInsensitiveEquals(strings.TrimSpace(*filters.Difficulty))
	}
	if filters.MaxCookTime != nil {
		filter["cookTime"] = bson.M{"$lte": *filters.MaxCookTime}
	}
	if filters.AuthorID != nil {
		filter["authorId"] = *filters.AuthorID
	}
	if filters.Status != nil {
		filter["status"] = *filters.Status
	}
	sort := filters.NormalizedSort()
	if filters.Cursor != nil {
		page := keysetFilter(sort, *filters.Cursor)
		if _, ok := filter["$or"]; ok {
			filter = bson.M{"$and": bson.A{filter, page}}
		} else {
			filter["$or"] = page["$or"]
		}
	}

	opts := options.Find().
		SetSort(recipeSort(sort)).
		SetLimit(int64(limit))
	items, err := r.find(ctx, filter, opts)
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

func recipeSort(sort string) bson.D {
	switch sort {
	case domain.RecipeSortPopular:
		return bson.D{{Key: "likesCount", Value: -1}, {Key: "_id", Value: -1}}
	case domain.RecipeSortRating:
		return bson.D{{Key: "rating", Value: -1}, {Key: "_id", Value: -1}}
	case domain.RecipeSortTime:
		return bson.D{{Key: "cookTime", Value: 1}, {Key: "_id", Value: 1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	}
}

// keysetFilter resumes a listing strictly after the cursor row.
func keysetFilter(sort string, c domain.Cursor) bson.M {
	after := func(field string, key interface{}, op string) bson.M {
		return bson.M{"$or": bson.A{
			bson.M{field: bson.M{op: key}},
			bson.M{field: key, "_id": bson.M{op: c.ID}},
		}}
	}
	switch sort {
	case domain.RecipeSortPopular:
		return after("likesCount", int64(c.Key), "$lt")
	case domain.RecipeSortRating:
		return after("rating", c.Key, "$lt")
	case domain.RecipeSortTime:
		return after("cookTime", int(c.Key), "$gt")
	default:
		return after("createdAt", c.CreatedAt, "$lt")
	}
}

func (r *RecipesRepository) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]domain.Recipe, error) {
	cur, err := r.recipes.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find recipes: %w", err)
	}
	var docs []recipeDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode recipes: %w", err)
	}
	items := make([]domain.Recipe, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.toDomain())
	}
	return items, nil
}
