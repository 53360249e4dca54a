package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Clark-Hu/recipeshare/internal/app"
	"github.com/Clark-Hu/recipeshare/internal/comments"
	"github.com/Clark-Hu/recipeshare/internal/config"
	httpserver "github.com/Clark-Hu/recipeshare/internal/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := new(log.TextFormatter)
	formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
	formatter.FullTimestamp = true
	log.SetFormatter(formatter)

	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	log.SetLevel(cfg.LogLevel)
	logger := log.WithField("service", "recipeshare")

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer backend.Close()

	applied, err := backend.Migrate(ctx)
	if err != nil {
		logger.WithError(err).Fatal("migrate store")
	}
	logger.WithField("backend", backend.Name).WithField("applied", applied).Info("store ready")

	ratingCache, err := app.OpenRatingCache(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open rating cache")
	}
	defer ratingCache.Close()

	aggregator := backend.NewAggregator(cfg, logger, app.RatingListeners(ratingCache)...)
	commentSvc := comments.NewService(backend.Comments, backend.Recipes, aggregator, logger)

	server := httpserver.New(cfg, httpserver.Deps{
		Health:     backend.Health,
		Recipes:    backend.Recipes,
		Engagement: backend.Recipes,
		Discovery:  backend.Recipes,
		Comments:   commentSvc,
		Ratings:    aggregator,
		Cache:      ratingCache,
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("server error")
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("graceful shutdown error")
	}
}
