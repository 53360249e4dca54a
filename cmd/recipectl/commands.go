package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Clark-Hu/recipeshare/internal/app"
	"github.com/Clark-Hu/recipeshare/internal/config"
)

func openBackend(ctx context.Context) (*app.Backend, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, errors.Wrap(err, "load config")
	}
	backend, err := app.Open(ctx, cfg, log.StandardLogger())
	if err != nil {
		return nil, cfg, err
	}
	return backend, cfg, nil
}

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations, or create indexes on mongo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backend, _, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			applied, err := backend.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				log.WithField("backend", backend.Name).Info("schema already up to date")
				return nil
			}
			for _, name := range applied {
				log.WithField("backend", backend.Name).WithField("migration", name).Info("applied")
			}
			return nil
		},
	}
}

type RecomputeFlags struct {
	All     bool
	Workers int
}

func NewRecomputeFlags() *RecomputeFlags {
	return &RecomputeFlags{Workers: 4}
}

func (f *RecomputeFlags) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&f.All, "all", f.All, "Recompute every recipe in the store")
	fs.IntVar(&f.Workers, "workers", f.Workers, "Number of recipes recomputed concurrently")
}

func (f *RecomputeFlags) Validate(args []string) error {
	if f.All && len(args) > 0 {
		return errors.New("pass recipe ids or --all, not both")
	}
	if !f.All && len(args) == 0 {
		return errors.New("at least one recipe id or --all is required")
	}
	if f.Workers < 1 {
		return errors.Errorf("--workers must be at least 1, got %d", f.Workers)
	}
	return nil
}

func NewRecomputeCommand() *cobra.Command {
	f := NewRecomputeFlags()
	cmd := &cobra.Command{
		Use:   "recompute [recipe-id...]",
		Short: "Recompute stored recipe ratings from their rated comments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(args); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backend, cfg, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			logger := log.StandardLogger()
			ratingCache, err := app.OpenRatingCache(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer ratingCache.Close()
			agg := backend.NewAggregator(cfg, logger, app.RatingListeners(ratingCache)...)

			var results []app.RecomputeResult
			if f.All {
				results, err = app.RecomputeAll(ctx, backend.Recipes, agg, f.Workers, logger)
			} else {
				results, err = app.Recompute(ctx, args, agg, f.Workers, logger)
			}
			printResults(cmd.OutOrStdout(), results)
			log.WithField("recipes", len(results)).Info("recompute finished")
			return err
		},
	}
	f.BindFlags(cmd.Flags())
	return cmd
}

func printResults(w io.Writer, results []app.RecomputeResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%s %.1f %d\n", r.RecipeID, r.Aggregate.Average, r.Aggregate.Count)
	}
}
