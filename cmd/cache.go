package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/harmonize/internal/repositories"
)

func (r *Runner) features() (*repositories.FeatureRepository, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	return repositories.NewFeatureRepository(db), nil
}

// CacheStats prints how many valence scores are cached and their age range.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	repo, err := r.features()
	if err != nil {
		return err
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		return err
	}

	r.writePlainHeader("Audio Feature Cache")
	r.writePlainln("Database: %s", r.config.Database.Path)
	r.writePlainln("Cached tracks: %d", stats.Count)
	if stats.Count > 0 {
		r.writePlainln("Oldest entry: %s", stats.Oldest.Format(time.RFC3339))
		r.writePlainln("Newest entry: %s", stats.Newest.Format(time.RFC3339))
	}
	return nil
}

// CacheClear deletes cached valence scores, optionally only those older than --older-than.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	repo, err := r.features()
	if err != nil {
		return err
	}

	var removed int64
	if age := cmd.Duration("older-than"); age > 0 {
		removed, err = repo.Prune(ctx, time.Now().Add(-age))
	} else {
		removed, err = repo.Clear(ctx)
	}
	if err != nil {
		return err
	}

	r.logger.Debug("feature cache cleared", "removed", removed)
	r.writePlainln("✓ Removed %d cached entries", removed)
	return nil
}
