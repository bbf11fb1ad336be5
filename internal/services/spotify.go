// Spotify Web API implementation of [TrackSource] and [TrackFetcher]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/harmonize/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	recentlyPlayedLimit = 50
	topItemsLimit       = 50
	savedTracksPage     = 50
	maxSavedTracks      = 200
	audioFeaturesBatch  = 100
	searchLimitMax      = 50
)

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Popularity int             `json:"popularity"`
	URI        string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Genres     []string       `json:"genres"`
	Images     []SpotifyImage `json:"images"`
	Popularity int            `json:"popularity"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyPlayHistory is one entry of the recently played list.
type SpotifyPlayHistory struct {
	Track    SpotifyTrack `json:"track"`
	PlayedAt string       `json:"played_at"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyPaginatedTracks represents a paginated response of saved tracks.
type SpotifyPaginatedTracks struct {
	Items  []SpotifySavedTrack `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
	Next   *string             `json:"next"`
}

// SpotifyAudioFeatures holds the audio analysis fields used for mood matching.
type SpotifyAudioFeatures struct {
	ID           string  `json:"id"`
	Valence      float64 `json:"valence"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Tempo        float64 `json:"tempo"`
}

type spotifyErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// AugmentOptions shapes the catalog search used by [SpotifyService.FetchTracksByValenceRange].
type AugmentOptions struct {
	Query  string // appended to the valence filter with AND, e.g. "year:2020-2022"
	Market string
	Limit  int
}

// SpotifyService talks to the Spotify Web API on behalf of one user.
//
// Uses [oauth2] for authentication; requests are paced by a [rate.Limiter] and retried on 429/5xx.
type SpotifyService struct {
	config      *oauth2.Config
	token       *oauth2.Token
	tokenSource oauth2.TokenSource
	baseClient  *http.Client
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	maxRetries  int
	backoff     time.Duration
	augment     AugmentOptions
	cache       FeatureCache
	logger      *log.Logger
	mu          sync.RWMutex
}

// SpotifyOption configures a [SpotifyService].
type SpotifyOption func(*SpotifyService)

// WithBaseURL points the service at a different API root, e.g. an httptest server.
func WithBaseURL(baseURL string) SpotifyOption {
	return func(s *SpotifyService) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient sets the client underneath the OAuth2 transport.
func WithHTTPClient(client *http.Client) SpotifyOption {
	return func(s *SpotifyService) { s.baseClient = client }
}

// WithRateLimit paces requests to rps per second. Zero or less disables pacing.
func WithRateLimit(rps float64) SpotifyOption {
	return func(s *SpotifyService) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry sets the attempt count and base backoff for transient failures.
func WithRetry(maxRetries int, backoff time.Duration) SpotifyOption {
	return func(s *SpotifyService) {
		s.maxRetries = maxRetries
		s.backoff = backoff
	}
}

// WithAugment sets the search used to find additional tracks per valence range.
func WithAugment(opts AugmentOptions) SpotifyOption {
	return func(s *SpotifyService) { s.augment = opts }
}

// WithFeatureCache stores fetched valence scores in cache.
func WithFeatureCache(cache FeatureCache) SpotifyOption {
	return func(s *SpotifyService) { s.cache = cache }
}

// WithLogger sets the logger used for retries and cache failures.
func WithLogger(logger *log.Logger) SpotifyOption {
	return func(s *SpotifyService) { s.logger = logger }
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...SpotifyOption) (*SpotifyService, error) {
	clientID := credentials["client_id"]
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret := credentials["client_secret"]
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	s := &SpotifyService{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes: []string{
				"user-read-private",
				"user-read-email",
				"user-read-recently-played",
				"user-top-read",
				"user-library-read",
			},
			Endpoint: oauth2.Endpoint{AuthURL: spotifyAuthURL, TokenURL: spotifyTokenURL},
		},
		baseClient: http.DefaultClient,
		baseURL:    spotifyBaseURL,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		augment:    AugmentOptions{Query: "year:2020-2022", Market: "US", Limit: 10},
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = shared.NewLogger(nil)
	}

	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// Authenticate expects either an "access_token" or an "auth_code" in credentials.
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken := credentials["access_token"]; accessToken != "" {
		return s.OAuthenticate(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	}

	if authCode := credentials["auth_code"]; authCode != "" {
		token, err := s.config.Exchange(s.clientContext(ctx), authCode)
		if err != nil {
			return fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
		}
		return s.OAuthenticate(ctx, token)
	}

	return fmt.Errorf("%w: access_token or auth_code", shared.ErrMissingCredentials)
}

// OAuthenticate authenticates with an existing token. Expired tokens are refreshed automatically when a refresh token is present.
func (s *SpotifyService) OAuthenticate(ctx context.Context, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", shared.ErrNotAuthenticated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clientCtx := s.clientContext(context.WithoutCancel(ctx))
	s.token = token
	s.tokenSource = s.config.TokenSource(clientCtx, token)
	s.httpClient = oauth2.NewClient(clientCtx, s.tokenSource)
	return nil
}

// CurrentToken returns the token in use, which differs from the one passed to OAuthenticate after a refresh.
func (s *SpotifyService) CurrentToken() (*oauth2.Token, error) {
	s.mu.RLock()
	ts := s.tokenSource
	s.mu.RUnlock()

	if ts == nil {
		return nil, shared.ErrNotAuthenticated
	}
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
	}
	return token, nil
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// GetOAuthConfig returns the OAuth2 configuration.
func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

func (s *SpotifyService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.baseClient)
}

// doRequest performs an authenticated GET against the Spotify API and decodes the JSON response into result.
func (s *SpotifyService) doRequest(ctx context.Context, endpoint string, query url.Values, result any) error {
	s.mu.RLock()
	authenticated := s.httpClient != nil
	s.mu.RUnlock()

	if !authenticated {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}

	token, err := s.CurrentToken()
	if err != nil {
		return err
	}

	apiURL := s.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.doRequestWithRetry(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", shared.ErrAPIRequest, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", shared.ErrTokenExpired, apiErrorMessage(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: status %d: %s", shared.ErrAPIRequest, endpoint, resp.StatusCode, apiErrorMessage(resp))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode %s response: %v", shared.ErrAPIRequest, endpoint, err)
		}
	}
	return nil
}

func apiErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	var body spotifyErrorBody
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// TopArtists retrieves the user's most listened artists.
func (s *SpotifyService) TopArtists(ctx context.Context, limit int) ([]SpotifyArtist, error) {
	var response struct {
		Items []SpotifyArtist `json:"items"`
	}
	query := url.Values{"limit": {strconv.Itoa(clampLimit(limit, topItemsLimit))}}
	if err := s.doRequest(ctx, "/me/top/artists", query, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

// TopTracks retrieves the user's most listened tracks.
func (s *SpotifyService) TopTracks(ctx context.Context, limit int) ([]SpotifyTrack, error) {
	var response struct {
		Items []SpotifyTrack `json:"items"`
	}
	query := url.Values{"limit": {strconv.Itoa(clampLimit(limit, topItemsLimit))}}
	if err := s.doRequest(ctx, "/me/top/tracks", query, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

// RecentlyPlayed retrieves up to limit (max 50) recently played tracks, most recent first.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, limit int) ([]SpotifyPlayHistory, error) {
	var response struct {
		Items []SpotifyPlayHistory `json:"items"`
	}
	query := url.Values{"limit": {strconv.Itoa(clampLimit(limit, recentlyPlayedLimit))}}
	if err := s.doRequest(ctx, "/me/player/recently-played", query, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

// SavedTracks retrieves one page of the user's saved tracks.
func (s *SpotifyService) SavedTracks(ctx context.Context, limit, offset int) (*SpotifyPaginatedTracks, error) {
	query := url.Values{
		"limit":  {strconv.Itoa(clampLimit(limit, savedTracksPage))},
		"offset": {strconv.Itoa(offset)},
	}

	var response SpotifyPaginatedTracks
	if err := s.doRequest(ctx, "/me/tracks", query, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// AllSavedTracks follows saved-track pages until the last page or until max tracks were collected.
func (s *SpotifyService) AllSavedTracks(ctx context.Context, max int) ([]SpotifyTrack, error) {
	var tracks []SpotifyTrack
	offset := 0

	for max <= 0 || len(tracks) < max {
		page, err := s.SavedTracks(ctx, savedTracksPage, offset)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			tracks = append(tracks, item.Track)
		}

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}

	if max > 0 && len(tracks) > max {
		tracks = tracks[:max]
	}
	return tracks, nil
}

// SearchTracks runs a catalog search for tracks. An empty market searches every market.
func (s *SpotifyService) SearchTracks(ctx context.Context, q, market string, limit int) ([]SpotifyTrack, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}

	query := url.Values{
		"q":     {q},
		"type":  {"track"},
		"limit": {strconv.Itoa(clampLimit(limit, searchLimitMax))},
	}
	if market != "" {
		query.Set("market", market)
	}

	var response struct {
		Tracks struct {
			Items []SpotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := s.doRequest(ctx, "/search", query, &response); err != nil {
		return nil, err
	}
	return response.Tracks.Items, nil
}

// AudioFeatures returns valence by track id, consulting the feature cache first and fetching the rest in batches of 100.
//
// Ids Spotify has no features for are absent from the result.
func (s *SpotifyService) AudioFeatures(ctx context.Context, ids []string) (map[string]float64, error) {
	valences := make(map[string]float64, len(ids))
	missing := uniqueIDs(ids)

	if s.cache != nil && len(missing) > 0 {
		cached, err := s.cache.GetValences(ctx, missing)
		if err != nil {
			s.logger.Warn("feature cache lookup failed", "error", err)
		} else {
			remaining := missing[:0:0]
			for _, id := range missing {
				if v, ok := cached[id]; ok {
					valences[id] = v
				} else {
					remaining = append(remaining, id)
				}
			}
			missing = remaining
		}
	}

	fetched := make(map[string]float64, len(missing))
	for start := 0; start < len(missing); start += audioFeaturesBatch {
		end := min(start+audioFeaturesBatch, len(missing))

		var response struct {
			AudioFeatures []*SpotifyAudioFeatures `json:"audio_features"`
		}
		query := url.Values{"ids": {strings.Join(missing[start:end], ",")}}
		if err := s.doRequest(ctx, "/audio-features", query, &response); err != nil {
			return nil, err
		}

		for _, f := range response.AudioFeatures {
			// Unknown ids come back as null entries.
			if f == nil || f.ID == "" {
				continue
			}
			fetched[f.ID] = f.Valence
			valences[f.ID] = f.Valence
		}
	}

	if s.cache != nil && len(fetched) > 0 {
		if err := s.cache.PutValences(ctx, fetched); err != nil {
			s.logger.Warn("feature cache store failed", "error", err)
		}
	}

	return valences, nil
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
