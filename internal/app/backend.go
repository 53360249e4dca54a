// Package app opens the configured persistence backend and hands back the
// repositories the HTTP server and the CLI share.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/recipeshare/db"
	"github.com/Clark-Hu/recipeshare/internal/cache"
	"github.com/Clark-Hu/recipeshare/internal/comments"
	"github.com/Clark-Hu/recipeshare/internal/config"
	"github.com/Clark-Hu/recipeshare/internal/docstore"
	"github.com/Clark-Hu/recipeshare/internal/domain"
	httpserver "github.com/Clark-Hu/recipeshare/internal/http"
	"github.com/Clark-Hu/recipeshare/internal/mongorepo"
	"github.com/Clark-Hu/recipeshare/internal/ratings"
	"github.com/Clark-Hu/recipeshare/internal/repository"
	"github.com/Clark-Hu/recipeshare/internal/store"
)

// RecipeRepository is satisfied by both recipe repositories.
type RecipeRepository interface {
	httpserver.RecipeStore
	httpserver.RecipeEngagement
	httpserver.RecipeDiscovery
	ratings.RecipeSink
	IDs(ctx context.Context) ([]string, error)
}

// CommentRepository is satisfied by both comment repositories.
type CommentRepository interface {
	comments.Store
	ratings.CommentSource
}

// Backend is an open persistence backend.
type Backend struct {
	Name     string
	Recipes  RecipeRepository
	Comments CommentRepository
	Health   httpserver.HealthChecker

	migrate func(ctx context.Context) ([]string, error)
	close   func()
}

// Open connects to the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Backend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case config.BackendMongo:
		ds, err := docstore.New(connectCtx, cfg.MongoURI, docstore.Options{
			Database:    cfg.MongoDatabase,
			MaxPoolSize: uint64(cfg.DBMaxConns),
			ConnTimeout: time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
			Logger:      logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect mongodb")
		}
		repo := mongorepo.New(ds.Database())
		return &Backend{
			Name:     config.BackendMongo,
			Recipes:  repo.Recipes,
			Comments: repo.Comments,
			Health:   ds,
			migrate: func(ctx context.Context) ([]string, error) {
				if err := ds.EnsureIndexes(ctx); err != nil {
					return nil, err
				}
				return []string{"indexes"}, nil
			},
			close: func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				ds.Close(closeCtx)
			},
		}, nil
	case config.BackendPostgres:
		st, err := store.New(connectCtx, cfg.DBURL, store.Options{
			MaxConns:               int32(cfg.DBMaxConns),
			MinConns:               int32(cfg.DBMinConns),
			MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
			MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
			ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
			StatementCacheCapacity: cfg.DBStatementCache,
			Logger:                 logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect database")
		}
		repo := repository.New(st)
		return &Backend{
			Name:     config.BackendPostgres,
			Recipes:  repo.Recipes,
			Comments: repo.Comments,
			Health:   st,
			migrate: func(ctx context.Context) ([]string, error) {
				return st.Migrate(ctx, db.Migrations)
			},
			close: st.Close,
		}, nil
	default:
		return nil, errors.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

// Migrate applies pending SQL migrations, or ensures indexes for mongo. It
// returns what was applied.
func (b *Backend) Migrate(ctx context.Context) ([]string, error) {
	applied, err := b.migrate(ctx)
	return applied, errors.Wrapf(err, "migrate %s", b.Name)
}

// Close releases the backend's connections.
func (b *Backend) Close() {
	b.close()
}

// NewAggregator builds the rating aggregator over the backend.
func (b *Backend) NewAggregator(cfg config.Config, logger logrus.FieldLogger, listeners ...ratings.Listener) *ratings.Aggregator {
	opts := []ratings.Option{
		ratings.WithLogger(logger),
		ratings.WithTimeout(time.Duration(cfg.RecomputeTimeoutSecs) * time.Second),
	}
	for _, l := range listeners {
		opts = append(opts, ratings.WithListener(l))
	}
	return ratings.New(b.Comments, b.Recipes, opts...)
}

// OpenRatingCache connects the Redis rating cache when cfg.RedisURL is set and
// returns a nil cache otherwise. A nil *cache.RatingCache is safe to use.
func OpenRatingCache(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*cache.RatingCache, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	rc, err := cache.NewRatingCache(ctx, cfg.RedisURL, time.Duration(cfg.RatingCacheTTLSecs)*time.Second, logger)
	if err != nil {
		return nil, errors.Wrap(err, "connect redis")
	}
	return rc, nil
}

// RatingListeners returns the listeners every aggregator must notify so the
// rating cache never outlives a recompute.
func RatingListeners(rc *cache.RatingCache) []ratings.Listener {
	if rc == nil {
		return nil
	}
	return []ratings.Listener{rc}
}

// RecomputeResult is the stored aggregate of one recomputed recipe.
type RecomputeResult struct {
	RecipeID  string
	Aggregate domain.RatingAggregate
}

// RecomputeAll recomputes every recipe's aggregate. Recipes deleted mid-run
// are skipped.
func RecomputeAll(ctx context.Context, recipes RecipeRepository, agg *ratings.Aggregator, workers int, logger logrus.FieldLogger) ([]RecomputeResult, error) {
	ids, err := recipes.IDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list recipe ids")
	}
	return Recompute(ctx, ids, agg, workers, logger)
}

// Recompute recomputes the given recipes with at most workers in flight. The
// first store error cancels the remaining work. Results keep the order of ids.
func Recompute(ctx context.Context, ids []string, agg *ratings.Aggregator, workers int, logger logrus.FieldLogger) ([]RecomputeResult, error) {
	if workers < 1 {
		workers = 1
	}
	ids = uniqueIDs(ids)
	out := make([]*RecomputeResult, len(ids))

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for i, id := range ids {
		i, id := i, id
		grp.Go(func() error {
			result, err := agg.Recompute(ctx, id)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				logger.WithField("recipe_id", id).Warn("recipe not found, skipped")
				return nil
			case err != nil:
				return errors.Wrapf(err, "recompute %s", id)
			}
			logger.WithFields(logrus.Fields{"recipe_id": id, "average": result.Average, "count": result.Count}).Debug("rating recomputed")
			out[i] = &RecomputeResult{RecipeID: id, Aggregate: result}
			return nil
		})
	}
	err := grp.Wait()

	results := make([]RecomputeResult, 0, len(out))
	for _, r := range out {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, err
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
