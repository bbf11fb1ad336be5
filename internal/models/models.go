package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/desertthunder/harmonize/internal/shared"
)

// ProgressEvent is an intermediate notification from the analysis service.
type ProgressEvent struct {
	Stage   string         `json:"stage"`
	Details map[string]any `json:"details,omitempty"`
}

// CompletionPayload is the terminal analysis message.
type CompletionPayload struct {
	Results []Result `json:"results"`
}

// UnmarshalJSON requires the "results" key. An empty list is accepted.
func (c *CompletionPayload) UnmarshalJSON(data []byte) error {
	var wire struct {
		Results *[]Result `json:"results"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Results == nil {
		return fmt.Errorf("%w: completion payload has no results", shared.ErrInvalidArgument)
	}
	c.Results = *wire.Results
	return nil
}

// Result groups the predictions of one analysis model.
//
// A nil Predictions slice means the key was missing on the wire.
type Result struct {
	Predictions []Prediction `json:"Predictions"`
}

// Prediction carries a valence range believed to match the listener's mood.
type Prediction struct {
	ValenceRange ValenceRange `json:"Valence Range"`
}

// UnmarshalJSON requires the "Valence Range" key. An absent key would otherwise
// leave the zero range [0, 0] in place.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	var wire struct {
		ValenceRange *ValenceRange `json:"Valence Range"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ValenceRange == nil {
		return fmt.Errorf("%w: prediction has no valence range", shared.ErrInvalidArgument)
	}
	p.ValenceRange = *wire.ValenceRange
	return nil
}

// ValenceRange is the closed interval [Low, High].
//
// On the wire it is a two element array.
type ValenceRange struct {
	Low  float64
	High float64
}

// Contains reports whether v lies inside the range, bounds included.
func (r ValenceRange) Contains(v float64) bool {
	return r.Low <= v && v <= r.High
}

// Validate requires finite bounds with Low <= High.
func (r ValenceRange) Validate() error {
	if math.IsNaN(r.Low) || math.IsNaN(r.High) || math.IsInf(r.Low, 0) || math.IsInf(r.High, 0) {
		return fmt.Errorf("%w: valence range %s has a non-finite bound", shared.ErrInvalidArgument, r)
	}
	if r.Low > r.High {
		return fmt.Errorf("%w: valence range %s has low > high", shared.ErrInvalidArgument, r)
	}
	return nil
}

func (r ValenceRange) String() string {
	return fmt.Sprintf("[%g, %g]", r.Low, r.High)
}

// Query formats the range as a Spotify search filter, e.g. "valence:0.4-0.6".
func (r ValenceRange) Query() string {
	return fmt.Sprintf("valence:%g-%g", r.Low, r.High)
}

func (r ValenceRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{r.Low, r.High})
}

func (r *ValenceRange) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: valence range is null", shared.ErrInvalidArgument)
	}

	var bounds []float64
	if err := json.Unmarshal(data, &bounds); err != nil {
		return fmt.Errorf("%w: valence range: %v", shared.ErrInvalidArgument, err)
	}
	if len(bounds) != 2 {
		return fmt.Errorf("%w: valence range must have 2 bounds, got %d", shared.ErrInvalidArgument, len(bounds))
	}

	r.Low, r.High = bounds[0], bounds[1]
	return nil
}

// DecodeCompletion parses a completion payload from raw JSON.
func DecodeCompletion(data []byte) (CompletionPayload, error) {
	var payload CompletionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		if errors.Is(err, shared.ErrInvalidArgument) {
			return CompletionPayload{}, fmt.Errorf("failed to decode completion payload: %w", err)
		}
		return CompletionPayload{}, fmt.Errorf("%w: failed to decode completion payload: %v", shared.ErrInvalidArgument, err)
	}
	return payload, nil
}

// DecodeProgress parses a progress event from raw JSON.
func DecodeProgress(data []byte) (ProgressEvent, error) {
	var event ProgressEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ProgressEvent{}, fmt.Errorf("%w: failed to decode progress event: %v", shared.ErrInvalidArgument, err)
	}
	return event, nil
}

// Track is a Spotify track with its optional valence score.
//
// A nil Valence means Spotify returned no audio features for the track.
type Track struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Artist        string   `json:"artist"`
	AlbumImageURL string   `json:"albumImageUrl,omitempty"`
	Valence       *float64 `json:"valence,omitempty"`
}

// HasValence reports whether the track carries a valence score.
func (t Track) HasValence() bool {
	return t.Valence != nil
}

// WithValence returns a copy of t with its valence set to v.
func (t Track) WithValence(v float64) Track {
	t.Valence = &v
	return t
}

// Playlist is an ordered, id-unique sequence of tracks.
type Playlist []Track

// IDs returns the track ids in playlist order.
func (p Playlist) IDs() []string {
	ids := make([]string, len(p))
	for i, t := range p {
		ids[i] = t.ID
	}
	return ids
}
