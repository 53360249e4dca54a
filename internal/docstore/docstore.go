// Package docstore wraps the MongoDB client used by the document-store backend.
package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	RecipesCollection  = "recipes"
	CommentsCollection = "comments"
	SavesCollection    = "recipe_saves"
)

// Options controls client behaviour.
type Options struct {
	Database    string
	MaxPoolSize uint64
	ConnTimeout time.Duration
	Logger      logrus.FieldLogger
}

// Store owns a connected mongo client and the application database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger logrus.FieldLogger
	opts   Options
}

// New connects to MongoDB and verifies the deployment answers a ping.
func New(ctx context.Context, uri string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "docstore")
	if opts.Database == "" {
		return nil, fmt.Errorf("docstore: database name is required")
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.ConnTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnTimeout)
	}

	connCtx := ctx
	if opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnTimeout)
		defer cancel()
	}

	client, err := mongo.Connect(connCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(opts.Database)
	if err := db.RunCommand(connCtx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.WithField("database", opts.Database).Info("mongo connection established")
	return &Store{client: client, db: db, logger: logger, opts: opts}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}
	s.logger.Info("closing mongo client")
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.WithError(err).Warn("mongo disconnect failed")
	}
}

// HealthCheck pings the deployment.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("docstore not initialized")
	}
	return s.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// Database exposes the application database for repositories.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// EnsureIndexes creates the indexes the repositories rely on. It is safe to
// call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	recipes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "authorId", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "cuisine", Value: 1}}},
		{Keys: bson.D{{Key: "likesCount", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "rating", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "cookTime", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "views", Value: -1}}},
	}
	comments := []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipeId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{
			Keys:    bson.D{{Key: "recipeId", Value: 1}, {Key: "rating", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{"rating": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "createdAt", Value: 1}}},
	}

	saves := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "recipeId", Value: 1}}},
	}

	if _, err := s.db.Collection(RecipesCollection).Indexes().CreateMany(ctx, recipes); err != nil {
		return fmt.Errorf("create recipe indexes: %w", err)
	}
	if _, err := s.db.Collection(CommentsCollection).Indexes().CreateMany(ctx, comments); err != nil {
		return fmt.Errorf("create comment indexes: %w", err)
	}
	if _, err := s.db.Collection(SavesCollection).Indexes().CreateMany(ctx, saves); err != nil {
		return fmt.Errorf("create save indexes: %w", err)
	}
	s.logger.Info("mongo indexes ensured")
	return nil
}
