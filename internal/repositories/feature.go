package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/desertthunder/harmonize/internal/shared"
)

// FeatureRepository caches track valence scores in the audio_features table.
//
// Implements services.FeatureCache so the Spotify client can skip audio-features requests for known tracks.
type FeatureRepository struct {
	db *sql.DB
}

// FeatureStats summarizes the cache contents.
type FeatureStats struct {
	Count  int
	Oldest time.Time
	Newest time.Time
}

// NewFeatureRepository creates a new FeatureRepository with the given database connection
func NewFeatureRepository(db *sql.DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// GetValences returns the cached valence for each id that has one. Unknown ids are absent from the map.
func (r *FeatureRepository) GetValences(ctx context.Context, ids []string) (map[string]float64, error) {
	valences := make(map[string]float64, len(ids))
	for _, batch := range batches(ids, maxBatchParams) {
		query := fmt.Sprintf(`SELECT track_id, valence FROM audio_features WHERE track_id IN (%s)`, placeholders(len(batch)))

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query audio features: %w", err)
		}

		for rows.Next() {
			var id string
			var valence float64
			if err := rows.Scan(&id, &valence); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan audio feature: %w", err)
			}
			valences[id] = valence
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating audio features: %w", err)
		}
	}
	return valences, nil
}

// PutValences upserts valences in a single transaction, refreshing fetched_at for existing rows.
func (r *FeatureRepository) PutValences(ctx context.Context, valences map[string]float64) error {
	if len(valences) == 0 {
		return nil
	}

	for id, v := range valences {
		if id == "" {
			return fmt.Errorf("%w: empty track id", shared.ErrInvalidArgument)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: valence for %s is not finite", shared.ErrInvalidArgument, id)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audio_features (track_id, valence, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET valence = excluded.valence, fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for id, v := range valences {
		if _, err := stmt.ExecContext(ctx, id, v, now); err != nil {
			return fmt.Errorf("failed to cache valence for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audio features: %w", err)
	}
	return nil
}

// Stats returns the number of cached tracks and the fetch time range.
func (r *FeatureRepository) Stats(ctx context.Context) (*FeatureStats, error) {
	var stats FeatureStats
	var oldest, newest sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(fetched_at), MAX(fetched_at) FROM audio_features`,
	).Scan(&stats.Count, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}

	if stats.Oldest, err = parseTimestamp(oldest); err != nil {
		return nil, err
	}
	if stats.Newest, err = parseTimestamp(newest); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Clear deletes every cached entry and returns how many were removed.
func (r *FeatureRepository) Clear(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audio_features`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear audio features: %w", err)
	}
	return result.RowsAffected()
}

// Prune deletes entries fetched before cutoff.
func (r *FeatureRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audio_features WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audio features: %w", err)
	}
	return result.RowsAffected()
}

// timestampLayouts covers go-sqlite3's time encoding and SQLite's CURRENT_TIMESTAMP.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseTimestamp parses an aggregate timestamp column. MIN/MAX lose the column's declared type,
// so the driver hands back text instead of a [time.Time].
func parseTimestamp(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", s.String)
}
