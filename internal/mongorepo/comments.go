package mongorepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

type commentDocument struct {
	ID         string     `bson:"_id"`
	RecipeID   string     `bson:"recipeId"`
	UserID     string     `bson:"userId"`
	ParentID   *string    `bson:"parentId,omitempty"`
	Text       string     `bson:"text"`
	Rating     *float64   `bson:"rating,omitempty"`
	IsEdited   bool       `bson:"isEdited"`
	EditedAt   *time.Time `bson:"editedAt,omitempty"`
	LikesCount int64      `bson:"likesCount"`
	CreatedAt  time.Time  `bson:"createdAt"`
	UpdatedAt  time.Time  `bson:"updatedAt"`
}

func (d commentDocument) toDomain() domain.Comment {
	return domain.Comment{
		ID:         d.ID,
		RecipeID:   d.RecipeID,
		UserID:     d.UserID,
		ParentID:   d.ParentID,
		Text:       d.Text,
		Rating:     d.Rating,
		IsEdited:   d.IsEdited,
		EditedAt:   d.EditedAt,
		LikesCount: d.LikesCount,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// CommentsRepository stores comments in the comments collection. Likes live
// on the comment document as a likes array of user ids next to likesCount.
type CommentsRepository struct {
	recipes  *mongo.Collection
	comments *mongo.Collection
}

// Create inserts a comment after checking that the recipe (and parent, for
// replies) exist, since the collection has no foreign keys.
func (r *CommentsRepository) Create(ctx context.Context, params domain.CommentCreateParams) (domain.Comment, error) {
	if err := r.recipes.FindOne(ctx, bson.M{"_id": params.RecipeID}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err(); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", notFound(err))
	}
	if params.ParentID != nil {
		parentFilter := bson.M{"_id": *params.ParentID, "recipeId": params.RecipeID}
		if err := r.comments.FindOne(ctx, parentFilter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err(); err != nil {
			return domain.Comment{}, fmt.Errorf("insert comment: %w", notFound(err))
		}
	}

	ts := now()
	doc := commentDocument{
		ID:        uuid.NewString(),
		RecipeID:  params.RecipeID,
		UserID:    params.UserID,
		ParentID:  params.ParentID,
		Text:      params.Text,
		Rating:    params.Rating,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if _, err := r.comments.InsertOne(ctx, doc); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return doc.toDomain(), nil
}

// GetByID fetches a comment by its identifier.
func (r *CommentsRepository) GetByID(ctx context.Context, id string) (domain.Comment, error) {
	var doc commentDocument
	if err := r.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Comment{}, notFound(err)
	}
	return doc.toDomain(), nil
}

// ListByRecipe pages through a recipe's top-level comments.
func (r *CommentsRepository) ListByRecipe(ctx context.Context, recipeID string, page domain.Page) (domain.CommentPage, error) {
	return r.list(ctx, bson.M{"recipeId": recipeID, "parentId": bson.M{"$exists": false}}, page)
}

// ListReplies pages through the direct replies to a comment.
func (r *CommentsRepository) ListReplies(ctx context.Context, parentID string, page domain.Page) (domain.CommentPage, error) {
	return r.list(ctx, bson.M{"parentId": parentID}, page)
}

// ListByUser pages through everything a user has written.
func (r *CommentsRepository) ListByUser(ctx context.Context, userID string, page domain.Page) (domain.CommentPage, error) {
	return r.list(ctx, bson.M{"userId": userID}, page)
}

func (r *CommentsRepository) list(ctx context.Context, filter bson.M, page domain.Page) (domain.CommentPage, error) {
	page = page.Normalize()
	dir := -1
	if page.SortBy == domain.CommentSortOldest {
		dir = 1
	}

	total, err := r.comments.CountDocuments(ctx, filter)
	if err != nil {
		return domain.CommentPage{}, fmt.Errorf("count comments: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: dir}, {Key: "_id", Value: dir}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Limit))
	items, err := r.find(ctx, filter, opts)
	if err != nil {
		return domain.CommentPage{}, err
	}
	return domain.CommentPage{Items: items, Total: total, Page: page}, nil
}

// Update applies an edit and marks the comment as edited.
func (r *CommentsRepository) Update(ctx context.Context, id string, params domain.CommentUpdateParams) (domain.Comment, error) {
	editedAt := params.EditedAt.UTC().Truncate(time.Millisecond)
	set := bson.M{
		"text":      params.Text,
		"isEdited":  true,
		"editedAt":  editedAt,
		"updatedAt": editedAt,
	}
	update := bson.M{"$set": set}
	switch {
	case params.RemoveRating:
		update["$unset"] = bson.M{"rating": ""}
	case params.Rating != nil:
		set["rating"] = *params.Rating
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc commentDocument
	if err := r.comments.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		return domain.Comment{}, notFound(err)
	}
	return doc.toDomain(), nil
}

// DeleteTree removes a comment and all of its transitive replies, returning
// every removed document.
func (r *CommentsRepository) DeleteTree(ctx context.Context, id string) ([]domain.Comment, error) {
	root, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	removed := []domain.Comment{root}
	ids := []string{root.ID}
	frontier := []string{root.ID}
	for len(frontier) > 0 {
		children, err := r.find(ctx, bson.M{"parentId": bson.M{"$in": frontier}}, options.Find())
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, c := range children {
			removed = append(removed, c)
			ids = append(ids, c.ID)
			frontier = append(frontier, c.ID)
		}
	}

	if _, err := r.comments.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("delete comment tree: %w", err)
	}
	return removed, nil
}

// RatedCommentRatings returns the rating of every rated comment on a recipe.
func (r *CommentsRepository) RatedCommentRatings(ctx context.Context, recipeID string) ([]float64, error) {
	filter := bson.M{"recipeId": recipeID, "rating": bson.M{"$exists": true, "$ne": nil}}
	cur, err := r.comments.Find(ctx, filter, options.Find().SetProjection(bson.M{"rating": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("query rated comments: %w", err)
	}
	var docs []struct {
		Rating float64 `bson:"rating"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode rated comments: %w", err)
	}
	ratings := make([]float64, 0, len(docs))
	for _, d := range docs {
		ratings = append(ratings, d.Rating)
	}
	return ratings, nil
}

func (r *CommentsRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Comment, error) {
	cur, err := r.comments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find comments: %w", err)
	}
	var docs []commentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	items := make([]domain.Comment, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.toDomain())
	}
	return items, nil
}
