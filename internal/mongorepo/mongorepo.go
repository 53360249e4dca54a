// Package mongorepo implements the recipe and comment stores on MongoDB.
package mongorepo

import (
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Clark-Hu/recipeshare/internal/docstore"
	"github.com/Clark-Hu/recipeshare/internal/domain"
)

// Repository aggregates the mongo-backed repositories.
type Repository struct {
	Recipes  *RecipesRepository
	Comments *CommentsRepository
}

// New constructs repositories over db.
func New(db *mongo.Database) *Repository {
	recipes := db.Collection(docstore.RecipesCollection)
	comments := db.Collection(docstore.CommentsCollection)
	saves := db.Collection(docstore.SavesCollection)
	return &Repository{
		Recipes:  &RecipesRepository{recipes: recipes, comments: comments, saves: saves},
		Comments: &CommentsRepository{recipes: recipes, comments: comments},
	}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}

// now returns the current time at the precision mongo stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func caseInsensitiveEquals(v string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(v) + "$", "$options": "i"}
}

func caseInsensitiveContains(v string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(v), "$options": "i"}
}
