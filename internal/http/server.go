package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/recipeshare/internal/cache"
	"github.com/Clark-Hu/recipeshare/internal/comments"
	"github.com/Clark-Hu/recipeshare/internal/config"
	"github.com/Clark-Hu/recipeshare/internal/domain"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RecipeStore is the recipe persistence the handlers need. Both the postgres
// and the mongo repositories implement it.
type RecipeStore interface {
	Create(ctx context.Context, params domain.RecipeCreateParams) (domain.Recipe, error)
	GetByID(ctx context.Context, id string) (domain.Recipe, error)
	List(ctx context.Context, filters domain.RecipeListFilters) (domain.RecipeListResult, error)
	Update(ctx context.Context, id string, params domain.RecipeUpdateParams) (domain.Recipe, error)
	Delete(ctx context.Context, id string) error
	RatingAggregate(ctx context.Context, id string) (domain.RatingAggregate, error)
}

// RecipeEngagement records per-user interactions with recipes.
type RecipeEngagement interface {
	ToggleLike(ctx context.Context, recipeID, userID string) (domain.LikeResult, error)
	Save(ctx context.Context, userID, recipeID string) error
	Unsave(ctx context.Context, userID, recipeID string) error
	Saved(ctx context.Context, userID string, page domain.Page) (domain.RecipePage, error)
	IncrementViews(ctx context.Context, id string) error
}

// RecipeDiscovery serves the browse listings and per-author statistics.
type RecipeDiscovery interface {
	Popular(ctx context.Context, limit int) ([]domain.Recipe, error)
	Trending(ctx context.Context, since time.Time, limit int) ([]domain.Recipe, error)
	Similar(ctx context.Context, of domain.Recipe, limit int) ([]domain.Recipe, error)
	Facets(ctx context.Context, facet string) ([]domain.FacetCount, error)
	AuthorStats(ctx context.Context, authorID string) (domain.AuthorStats, error)
}

// RatingRecomputer forces a recompute of one recipe's aggregate.
type RatingRecomputer interface {
	Recompute(ctx context.Context, recipeID string) (domain.RatingAggregate, error)
}

// Deps bundles the collaborators of the HTTP layer. Cache may be nil, and
// a nil Engagement disables view counting.
type Deps struct {
	Health     HealthChecker
	Recipes    RecipeStore
	Engagement RecipeEngagement
	Discovery  RecipeDiscovery
	Comments   *comments.Service
	Ratings    RatingRecomputer
	Cache      *cache.RatingCache
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg        config.Config
	health     HealthChecker
	recipes    RecipeStore
	engagement RecipeEngagement
	discovery  RecipeDiscovery
	comments   *comments.Service
	ratings    RatingRecomputer
	cache      *cache.RatingCache
	limiter    *clientLimiter
	logger     logrus.FieldLogger
	router     chi.Router
	httpSrv    *http.Server
	now        func() time.Time
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, deps Deps, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:        cfg,
		health:     deps.Health,
		recipes:    deps.Recipes,
		engagement: deps.Engagement,
		discovery:  deps.Discovery,
		comments:   deps.Comments,
		ratings:    deps.Ratings,
		cache:      deps.Cache,
		limiter:    newClientLimiter(cfg.CommentRatePerMin, cfg.CommentRateBurst),
		logger:     logger,
		router:     r,
		now:        time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", s.handleListRecipes)
			r.Post("/", s.handleCreateRecipe)
			r.Get("/popular", s.handlePopularRecipes)
			r.Get("/trending", s.handleTrendingRecipes)
			r.Get("/categories", s.handleFacet(domain.FacetCategory))
			r.Get("/cuisines", s.handleFacet(domain.FacetCuisine))
			r.Get("/saved", s.handleSavedRecipes)
			r.Route("/{recipeID}", func(r chi.Router) {
				r.Get("/", s.handleGetRecipe)
				r.Put("/", s.handleUpdateRecipe)
				r.Delete("/", s.handleDeleteRecipe)
				r.Get("/similar", s.handleSimilarRecipes)
				r.Post("/like", s.handleToggleRecipeLike)
				r.Post("/save", s.handleSaveRecipe)
				r.Delete("/save", s.handleUnsaveRecipe)
				r.Get("/rating", s.handleGetRating)
				r.Post("/rating/recompute", s.handleRecomputeRating)
				r.Get("/comments", s.handleListRecipeComments)
				r.With(s.limitCommentWrites).Post("/comments", s.handleCreateComment)
			})
		})
		r.Route("/comments/{commentID}", func(r chi.Router) {
			r.Get("/", s.handleGetComment)
			r.With(s.limitCommentWrites).Put("/", s.handleUpdateComment)
			r.Delete("/", s.handleDeleteComment)
			r.Get("/replies", s.handleListReplies)
			r.Post("/like", s.handleToggleCommentLike)
		})
		r.Get("/users/{userID}/comments", s.handleListUserComments)
		r.Get("/users/{userID}/stats", s.handleUserStats)
	})
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-Id", "X-User-Role"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpSrv.Addr).Info("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Store not configured")
		return
	}
	if err := s.health.HealthCheck(ctx); err != nil {
		s.logger.WithError(err).Warn("health check failed")
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Store unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
