package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
)

// toTrack maps a Spotify track to a [models.Track] without valence.
//
// Artist names are joined with ", " and the first album image is used.
func toTrack(st SpotifyTrack) models.Track {
	names := make([]string, 0, len(st.Artists))
	for _, a := range st.Artists {
		names = append(names, a.Name)
	}

	track := models.Track{ID: st.ID, Name: st.Name, Artist: strings.Join(names, ", ")}
	if len(st.Album.Images) > 0 {
		track.AlbumImageURL = st.Album.Images[0].URL
	}
	return track
}

// withValence attaches audio-feature valence to tracks. Tracks without features keep a nil valence.
func (s *SpotifyService) withValence(ctx context.Context, spotifyTracks []SpotifyTrack) ([]models.Track, error) {
	ids := make([]string, 0, len(spotifyTracks))
	for _, st := range spotifyTracks {
		ids = append(ids, st.ID)
	}

	valences, err := s.AudioFeatures(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio features: %w", err)
	}

	tracks := make([]models.Track, 0, len(spotifyTracks))
	for _, st := range spotifyTracks {
		if st.ID == "" {
			continue
		}
		track := toTrack(st)
		if v, ok := valences[st.ID]; ok {
			track = track.WithValence(v)
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// Tracks implements [TrackSource].
func (s *SpotifyService) Tracks(ctx context.Context, source Source) ([]models.Track, error) {
	var spotifyTracks []SpotifyTrack

	switch source {
	case SourceRecent, "":
		history, err := s.RecentlyPlayed(ctx, recentlyPlayedLimit)
		if err != nil {
			return nil, err
		}
		for _, item := range history {
			spotifyTracks = append(spotifyTracks, item.Track)
		}
	case SourceSaved:
		saved, err := s.AllSavedTracks(ctx, maxSavedTracks)
		if err != nil {
			return nil, err
		}
		spotifyTracks = saved
	case SourceTop:
		top, err := s.TopTracks(ctx, topItemsLimit)
		if err != nil {
			return nil, err
		}
		spotifyTracks = top
	default:
		return nil, fmt.Errorf("%w: unknown track source %q", shared.ErrInvalidArgument, source)
	}

	s.logger.Debug("loaded listening history", "source", source, "tracks", len(spotifyTracks))
	return s.withValence(ctx, spotifyTracks)
}

// AugmentQuery builds the catalog search for r, e.g. "valence:0.4-0.6 AND year:2020-2022".
func (s *SpotifyService) AugmentQuery(r models.ValenceRange) string {
	if s.augment.Query == "" {
		return r.Query()
	}
	return r.Query() + " AND " + s.augment.Query
}

// FetchTracksByValenceRange implements [TrackFetcher].
//
// Search results are enriched with audio features and only those whose valence lies inside r are returned.
func (s *SpotifyService) FetchTracksByValenceRange(ctx context.Context, r models.ValenceRange) ([]models.Track, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	found, err := s.SearchTracks(ctx, s.AugmentQuery(r), s.augment.Market, s.augment.Limit)
	if err != nil {
		return nil, err
	}

	tracks, err := s.withValence(ctx, found)
	if err != nil {
		return nil, err
	}

	matched := tracks[:0]
	for _, t := range tracks {
		if t.Valence != nil && r.Contains(*t.Valence) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}
