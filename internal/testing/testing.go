// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/harmonize/internal/models"
)

// MockTrackFetcher is a test double for services.TrackFetcher keyed by range.
//
// Block, when set, is received from before returning so tests can hold a fetch in flight.
type MockTrackFetcher struct {
	ByRange map[models.ValenceRange][]models.Track
	Errs    map[models.ValenceRange]error
	Block   chan struct{}

	mu     sync.Mutex
	ranges []models.ValenceRange
}

func (m *MockTrackFetcher) FetchTracksByValenceRange(ctx context.Context, r models.ValenceRange) ([]models.Track, error) {
	m.mu.Lock()
	m.ranges = append(m.ranges, r)
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.Errs[r]; err != nil {
		return nil, err
	}
	return append([]models.Track(nil), m.ByRange[r]...), nil
}

// Ranges returns the ranges requested so far, in call order.
func (m *MockTrackFetcher) Ranges() []models.ValenceRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ValenceRange(nil), m.ranges...)
}

// Track builds a track with a valence score.
func Track(id string, valence float64) models.Track {
	return models.Track{ID: id, Name: "Song " + id, Artist: "Artist " + id}.WithValence(valence)
}

// TrackWithoutValence builds a track with an undefined valence.
func TrackWithoutValence(id string) models.Track {
	return models.Track{ID: id, Name: "Song " + id, Artist: "Artist " + id}
}

// Completion builds a payload with one result holding a prediction per range.
func Completion(ranges ...models.ValenceRange) models.CompletionPayload {
	predictions := make([]models.Prediction, len(ranges))
	for i, r := range ranges {
		predictions[i] = models.Prediction{ValenceRange: r}
	}
	return models.CompletionPayload{Results: []models.Result{{Predictions: predictions}}}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites int, target io.Writer) *LimitedWriter {
	return &LimitedWriter{maxWrites: maxWrites, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
