package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FixtureTrack is a catalog entry served by [SpotifyServer].
type FixtureTrack struct {
	ID      string
	Name    string
	Artists []string
	Image   string
	Valence *float64 // nil serves a null audio-features entry
}

// Valence returns a pointer to v for use in fixtures.
func Valence(v float64) *float64 { return &v }

// SpotifyFixture is the data a [SpotifyServer] answers with.
type SpotifyFixture struct {
	Recent []FixtureTrack
	Saved  []FixtureTrack
	Top    []FixtureTrack
	Search []FixtureTrack

	// Fail forces a status for the first N requests to a path, e.g. {"/me/player/recently-played": {429, 1}}.
	Fail map[string]FailRule
}

// FailRule makes a path answer Status for its first Times requests.
type FailRule struct {
	Status     int
	Times      int
	RetryAfter string
}

// SpotifyServer is an httptest stand-in for the Spotify Web API.
type SpotifyServer struct {
	*httptest.Server

	fixture SpotifyFixture
	catalog map[string]FixtureTrack

	mu       sync.Mutex
	requests []*http.Request
	failures map[string]int
}

// NewSpotifyServer starts a fake Spotify API serving fixture. It is closed when the test ends.
func NewSpotifyServer(t *testing.T, fixture SpotifyFixture) *SpotifyServer {
	t.Helper()

	s := &SpotifyServer{fixture: fixture, catalog: make(map[string]FixtureTrack), failures: make(map[string]int)}
	for _, list := range [][]FixtureTrack{fixture.Recent, fixture.Saved, fixture.Top, fixture.Search} {
		for _, track := range list {
			s.catalog[track.ID] = track
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", s.profile)
	mux.HandleFunc("GET /me/player/recently-played", s.recentlyPlayed)
	mux.HandleFunc("GET /me/tracks", s.savedTracks)
	mux.HandleFunc("GET /me/top/tracks", s.topTracks)
	mux.HandleFunc("GET /me/top/artists", s.topArtists)
	mux.HandleFunc("GET /audio-features", s.audioFeatures)
	mux.HandleFunc("GET /search", s.search)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(r.Context()))
		rule, forced := fixture.Fail[r.URL.Path]
		if forced && s.failures[r.URL.Path] < rule.Times {
			s.failures[r.URL.Path]++
			s.mu.Unlock()
			if rule.RetryAfter != "" {
				w.Header().Set("Retry-After", rule.RetryAfter)
			}
			writeJSON(w, rule.Status, map[string]any{"error": map[string]any{"status": rule.Status, "message": http.StatusText(rule.Status)}})
			return
		}
		s.mu.Unlock()

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"status": 401, "message": "No token provided"}})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

// Requests returns the requests received so far.
func (s *SpotifyServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// RequestsTo counts requests made to path.
func (s *SpotifyServer) RequestsTo(path string) int {
	count := 0
	for _, r := range s.Requests() {
		if r.URL.Path == path {
			count++
		}
	}
	return count
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func trackJSON(t FixtureTrack) map[string]any {
	artists := make([]map[string]any, len(t.Artists))
	for i, name := range t.Artists {
		artists[i] = map[string]any{"id": "artist-" + strconv.Itoa(i), "name": name}
	}
	images := []map[string]any{}
	if t.Image != "" {
		images = append(images, map[string]any{"url": t.Image, "height": 640, "width": 640})
	}
	return map[string]any{
		"id":      t.ID,
		"name":    t.Name,
		"artists": artists,
		"album":   map[string]any{"id": "album-" + t.ID, "name": "Album " + t.Name, "images": images},
	}
}

func tracksJSON(tracks []FixtureTrack) []map[string]any {
	items := make([]map[string]any, len(tracks))
	for i, t := range tracks {
		items[i] = trackJSON(t)
	}
	return items
}

func (s *SpotifyServer) profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           "listener",
		"display_name": "Test Listener",
		"email":        "listener@example.com",
		"country":      "US",
		"product":      "premium",
		"followers":    map[string]any{"total": 12},
	})
}

func (s *SpotifyServer) recentlyPlayed(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	items := []map[string]any{}
	for i, t := range s.fixture.Recent {
		if i >= limit {
			break
		}
		items = append(items, map[string]any{"track": trackJSON(t), "played_at": "2024-05-01T12:00:00Z"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *SpotifyServer) savedTracks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	items := []map[string]any{}
	for i := offset; i < len(s.fixture.Saved) && i < offset+limit; i++ {
		items = append(items, map[string]any{"added_at": "2024-05-01T12:00:00Z", "track": trackJSON(s.fixture.Saved[i])})
	}

	var next any
	if offset+limit < len(s.fixture.Saved) {
		next = s.URL + "/me/tracks?offset=" + strconv.Itoa(offset+limit) + "&limit=" + strconv.Itoa(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items, "total": len(s.fixture.Saved), "limit": limit, "offset": offset, "next": next,
	})
}

func (s *SpotifyServer) topTracks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": tracksJSON(s.fixture.Top)})
}

func (s *SpotifyServer) topArtists(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	artists := []map[string]any{}
	for _, t := range s.fixture.Top {
		for _, name := range t.Artists {
			if seen[name] {
				continue
			}
			seen[name] = true
			artists = append(artists, map[string]any{"id": "artist-" + name, "name": name, "genres": []string{"pop"}})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": artists})
}

func (s *SpotifyServer) audioFeatures(w http.ResponseWriter, r *http.Request) {
	features := []any{}
	for id := range strings.SplitSeq(r.URL.Query().Get("ids"), ",") {
		t, ok := s.catalog[id]
		if !ok || t.Valence == nil {
			features = append(features, nil)
			continue
		}
		features = append(features, map[string]any{"id": id, "valence": *t.Valence, "energy": 0.5})
	}
	writeJSON(w, http.StatusOK, map[string]any{"audio_features": features})
}

func (s *SpotifyServer) search(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	results := s.fixture.Search
	if len(results) > limit {
		results = results[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": map[string]any{"items": tracksJSON(results)}})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return fallback
}
