package tasks

import (
	"fmt"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
)

// FlattenRanges lists every prediction's valence range across all results, in payload order.
//
// Duplicate ranges are kept. A result without predictions or an invalid range is an error wrapping [shared.ErrInvalidArgument].
func FlattenRanges(payload models.CompletionPayload) ([]models.ValenceRange, error) {
	var ranges []models.ValenceRange
	for i, result := range payload.Results {
		if result.Predictions == nil {
			return nil, fmt.Errorf("%w: result %d has no predictions", shared.ErrInvalidArgument, i)
		}
		for j, prediction := range result.Predictions {
			if err := prediction.ValenceRange.Validate(); err != nil {
				return nil, fmt.Errorf("result %d prediction %d: %w", i, j, err)
			}
			ranges = append(ranges, prediction.ValenceRange)
		}
	}
	return ranges, nil
}

// Dedupe drops every track whose id was already seen, keeping first occurrences in order.
func Dedupe(tracks []models.Track) []models.Track {
	seen := make(map[string]struct{}, len(tracks))
	unique := make([]models.Track, 0, len(tracks))
	for _, t := range tracks {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

// Matching returns the tracks whose valence lies inside r, preserving order.
// Tracks without a valence never match.
func Matching(r models.ValenceRange, tracks []models.Track) []models.Track {
	var matched []models.Track
	for _, t := range tracks {
		if t.Valence != nil && r.Contains(*t.Valence) {
			matched = append(matched, t)
		}
	}
	return matched
}

// Reconcile builds the playlist for a completed analysis.
//
// Ranges are scanned in payload order and tracks in list order within each range;
// a track keeps the position of its first match. Empty tracks or results yield an empty playlist.
func Reconcile(payload models.CompletionPayload, tracks []models.Track) (models.Playlist, error) {
	ranges, err := FlattenRanges(payload)
	if err != nil {
		return nil, err
	}

	var working []models.Track
	for _, r := range ranges {
		working = append(working, Matching(r, tracks)...)
	}
	return models.Playlist(Dedupe(working)), nil
}
