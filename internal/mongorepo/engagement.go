package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

const toggleAttempts = 3

// toggleLike flips a user's like on one document. Each branch updates the
// likes array and likesCount in a single conditional write, so the count
// always matches the array.
func toggleLike(ctx context.Context, coll *mongo.Collection, id, userID string) (domain.LikeResult, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"likesCount": 1})
	var doc struct {
		LikesCount int64 `bson:"likesCount"`
	}

	for attempt := 0; attempt < toggleAttempts; attempt++ {
		err := coll.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "likes": bson.M{"$ne": userID}},
			bson.M{"$push": bson.M{"likes": userID}, "$inc": bson.M{"likesCount": 1}},
			opts).Decode(&doc)
		if err == nil {
			return domain.LikeResult{Liked: true, Count: doc.LikesCount}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return domain.LikeResult{}, fmt.Errorf("add like: %w", err)
		}

		err = coll.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "likes": userID},
			bson.M{"$pull": bson.M{"likes": userID}, "$inc": bson.M{"likesCount": -1}},
			opts).Decode(&doc)
		if err == nil {
			return domain.LikeResult{Liked: false, Count: doc.LikesCount}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return domain.LikeResult{}, fmt.Errorf("remove like: %w", err)
		}

		// Neither write matched: the document is gone, or a concurrent
		// toggle by the same user flipped it between the two attempts.
		if err := coll.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err(); err != nil {
			return domain.LikeResult{}, notFound(err)
		}
	}
	return domain.LikeResult{}, fmt.Errorf("toggle like on %s: gave up after %d attempts", id, toggleAttempts)
}

// ToggleLike likes the recipe for userID, or removes the like if present.
func (r *RecipesRepository) ToggleLike(ctx context.Context, recipeID, userID string) (domain.LikeResult, error) {
	return toggleLike(ctx, r.recipes, recipeID, userID)
}

// IncrementViews counts one view of a recipe.
func (r *RecipesRepository) IncrementViews(ctx context.Context, id string) error {
	res, err := r.recipes.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"views": 1}})
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type saveKey struct {
	UserID   string `bson:"userId"`
	RecipeID string `bson:"recipeId"`
}

type saveDocument struct {
	ID        saveKey   `bson:"_id"`
	UserID    string    `bson:"userId"`
	RecipeID  string    `bson:"recipeId"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Save adds a recipe to the user's saved collection. The (user, recipe) pair
// is the document id, so saving twice yields domain.ErrConflict.
func (r *RecipesRepository) Save(ctx context.Context, userID, recipeID string) error {
	if err := r.recipes.FindOne(ctx, bson.M{"_id": recipeID}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err(); err != nil {
		return fmt.Errorf("save recipe: %w", notFound(err))
	}
	doc := saveDocument{
		ID:        saveKey{UserID: userID, RecipeID: recipeID},
		UserID:    userID,
		RecipeID:  recipeID,
		CreatedAt: now(),
	}
	if _, err := r.saves.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("save recipe: %w", err)
	}
	return nil
}

// Unsave removes a recipe from the user's saved collection. Removing a recipe
// that was never saved is not an error.
func (r *RecipesRepository) Unsave(ctx context.Context, userID, recipeID string) error {
	if _, err := r.saves.DeleteOne(ctx, bson.M{"_id": saveKey{UserID: userID, RecipeID: recipeID}}); err != nil {
		return fmt.Errorf("unsave recipe: %w", err)
	}
	return nil
}

// Saved pages through a user's saved recipes, most recently saved first.
func (r *RecipesRepository) Saved(ctx context.Context, userID string, page domain.Page) (domain.RecipePage, error) {
	page = page.Normalize()
	filter := bson.M{"userId": userID}

	total, err := r.saves.CountDocuments(ctx, filter)
	if err != nil {
		return domain.RecipePage{}, fmt.Errorf("count saved recipes: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "recipeId", Value: -1}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Limit))
	cur, err := r.saves.Find(ctx, filter, opts)
	if err != nil {
		return domain.RecipePage{}, fmt.Errorf("find saved recipes: %w", err)
	}
	var saves []saveDocument
	if err := cur.All(ctx, &saves); err != nil {
		return domain.RecipePage{}, fmt.Errorf("decode saved recipes: %w", err)
	}
	if len(saves) == 0 {
		return domain.RecipePage{Items: []domain.Recipe{}, Total: total, Page: page}, nil
	}

	ids := make([]string, 0, len(saves))
	for _, s := range saves {
		ids = append(ids, s.RecipeID)
	}
	found, err := r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return domain.RecipePage{}, err
	}
	byID := make(map[string]domain.Recipe, len(found))
	for _, recipe := range found {
		byID[recipe.ID] = recipe
	}
	items := make([]domain.Recipe, 0, len(ids))
	for _, id := range ids {
		if recipe, ok := byID[id]; ok {
			items = append(items, recipe)
		}
	}
	return domain.RecipePage{Items: items, Total: total, Page: page}, nil
}

// Popular returns the most liked published recipes.
func (r *RecipesRepository) Popular(ctx context.Context, limit int) ([]domain.Recipe, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "likesCount", Value: -1}, {Key: "rating", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, bson.M{"status": domain.RecipeStatusPublished}, opts)
}

// Trending returns published recipes created since the given time, most
// viewed first.
func (r *RecipesRepository) Trending(ctx context.Context, since time.Time, limit int) ([]domain.Recipe, error) {
	filter := bson.M{
		"status":    domain.RecipeStatusPublished,
		"createdAt": bson.M{"$gte": since.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "views", Value: -1}, {Key: "likesCount", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

// Similar returns published recipes sharing a category, cuisine or tag with
// of, best rated first.
func (r *RecipesRepository) Similar(ctx context.Context, of domain.Recipe, limit int) ([]domain.Recipe, error) {
	tags := of.Tags
	if tags == nil {
		tags = []string{}
	}
	filter := bson.M{
		"_id":    bson.M{"$ne": of.ID},
		"status": domain.RecipeStatusPublished,
		"$or": bson.A{
			bson.M{"category": of.Category},
			bson.M{"cuisine": of.Cuisine},
			bson.M{"tags": bson.M{"$in": tags}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "likesCount", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

// Facets counts published recipes per category or cuisine, largest first.
func (r *RecipesRepository) Facets(ctx context.Context, facet string) ([]domain.FacetCount, error) {
	if facet != domain.FacetCategory && facet != domain.FacetCuisine {
		return nil, fmt.Errorf("unknown facet %q", facet)
	}
	return r.facets(ctx, facet, bson.M{"status": domain.RecipeStatusPublished})
}

// AuthorStats summarises an author's published recipes.
func (r *RecipesRepository) AuthorStats(ctx context.Context, authorID string) (domain.AuthorStats, error) {
	match := bson.M{"authorId": authorID, "status": domain.RecipeStatusPublished}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":           nil,
			"totalRecipes":  bson.M{"$sum": 1},
			"totalLikes":    bson.M{"$sum": "$likesCount"},
			"totalViews":    bson.M{"$sum": "$views"},
			"averageRating": bson.M{"$avg": "$rating"},
		}}},
	}
	cur, err := r.recipes.Aggregate(ctx, pipeline)
	if err != nil {
		return domain.AuthorStats{}, fmt.Errorf("author stats: %w", err)
	}
	var rows []struct {
		TotalRecipes  int64   `bson:"totalRecipes"`
		TotalLikes    int64   `bson:"totalLikes"`
		TotalViews    int64   `bson:"totalViews"`
		AverageRating float64 `bson:"averageRating"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return domain.AuthorStats{}, fmt.Errorf("decode author stats: %w", err)
	}

	var stats domain.AuthorStats
	if len(rows) > 0 {
		stats.TotalRecipes = rows[0].TotalRecipes
		stats.TotalLikes = rows[0].TotalLikes
		stats.TotalViews = rows[0].TotalViews
		stats.AverageRating = rows[0].AverageRating
	}
	stats.Categories, err = r.facets(ctx, domain.FacetCategory, match)
	if err != nil {
		return domain.AuthorStats{}, err
	}
	return stats, nil
}

func (r *RecipesRepository) facets(ctx context.Context, field string, match bson.M) ([]domain.FacetCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	cur, err := r.recipes.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", field, err)
	}
	var rows []struct {
		Name  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode %s counts: %w", field, err)
	}
	counts := make([]domain.FacetCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, domain.FacetCount{Name: row.Name, Count: row.Count})
	}
	return counts, nil
}

// ToggleLike likes the comment for userID, or removes the like if present.
func (r *CommentsRepository) ToggleLike(ctx context.Context, commentID, userID string) (domain.LikeResult, error) {
	return toggleLike(ctx, r.comments, commentID, userID)
}
