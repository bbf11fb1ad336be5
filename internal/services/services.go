// package services implements the Spotify Web API adapter that supplies tracks and valence scores
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
	"golang.org/x/oauth2"
)

// Source selects which part of the user's listening history becomes the session's track list.
type Source string

const (
	SourceRecent Source = "recent" // recently played tracks
	SourceSaved  Source = "saved"  // tracks saved to the library
	SourceTop    Source = "top"    // the user's top tracks
)

// Sources lists every supported [Source] in display order.
var Sources = []Source{SourceRecent, SourceSaved, SourceTop}

// ParseSource parses a source name, case-insensitively.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Sources {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("%w: unknown track source %q (want recent, saved or top)", shared.ErrInvalidFlag, s)
}

func (s Source) String() string { return string(s) }

// TrackSource supplies the listening history a session reconciles against.
type TrackSource interface {
	// Tracks returns the user's tracks from source with valence attached where available.
	Tracks(ctx context.Context, source Source) ([]models.Track, error)
}

// TrackFetcher finds additional tracks for a predicted valence range.
type TrackFetcher interface {
	// FetchTracksByValenceRange returns catalog tracks whose valence lies inside r.
	FetchTracksByValenceRange(ctx context.Context, r models.ValenceRange) ([]models.Track, error)
}

// FeatureCache stores valence scores by track id between runs.
type FeatureCache interface {
	// GetValences returns the cached valence of every known id in ids.
	GetValences(ctx context.Context, ids []string) (map[string]float64, error)
	// PutValences stores valences, replacing existing entries.
	PutValences(ctx context.Context, valences map[string]float64) error
}

// OAuthService is implemented by services that authenticate with the OAuth2 authorization code flow.
type OAuthService interface {
	// GetAuthURL returns the authorization page URL carrying state.
	GetAuthURL(state string) string
	// GetOAuthConfig returns the config used to exchange the authorization code.
	GetOAuthConfig() *oauth2.Config
	// OAuthenticate authenticates with a previously issued token.
	OAuthenticate(ctx context.Context, token *oauth2.Token) error
	// CurrentToken returns the token in use, refreshed if it had expired.
	CurrentToken() (*oauth2.Token, error)
}
