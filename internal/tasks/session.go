package tasks

import (
	"sync"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
)

// Session owns the state of one mood analysis: the progress log, the completion slot and the track list.
//
// Every mutator is a no-op once the session is closed, so results arriving after teardown are discarded.
type Session struct {
	id  string
	log models.ProgressLog

	mu         sync.RWMutex
	alive      bool
	tracks     []models.Track
	completion *models.CompletionPayload
	playlist   models.Playlist
}

// NewSession creates a live session with a fresh id.
func NewSession() *Session {
	return &Session{id: shared.GenerateID(), alive: true}
}

func (s *Session) ID() string { return s.id }

// Alive reports whether the session has not been closed.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

// Tracks returns a copy of the session's track list.
func (s *Session) Tracks() []models.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// SetTracks replaces the track list. Returns false when the session is closed.
func (s *Session) SetTracks(tracks []models.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return false
	}
	s.tracks = append([]models.Track(nil), tracks...)
	return true
}

// AddTracks appends tracks whose ids are not already present. Returns false when the session is closed.
func (s *Session) AddTracks(tracks []models.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return false
	}

	known := make(map[string]struct{}, len(s.tracks))
	for _, t := range s.tracks {
		known[t.ID] = struct{}{}
	}
	for _, t := range tracks {
		if _, ok := known[t.ID]; ok {
			continue
		}
		known[t.ID] = struct{}{}
		s.tracks = append(s.tracks, t)
	}
	return true
}

// RecordProgress appends e to the progress log. Returns false when the session is closed.
func (s *Session) RecordProgress(e models.ProgressEvent) bool {
	if !s.Alive() {
		return false
	}
	s.log.Append(e)
	return true
}

// Complete stores the completion payload. Only the first call on a live session has any effect.
func (s *Session) Complete(payload models.CompletionPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive || s.completion != nil {
		return false
	}
	s.completion = &payload
	return true
}

// Completion returns the stored payload, or false while the analysis is still running.
func (s *Session) Completion() (models.CompletionPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.completion == nil {
		return models.CompletionPayload{}, false
	}
	return *s.completion, true
}

// Latest returns the most recent progress event.
func (s *Session) Latest() (models.ProgressEvent, bool) {
	return s.log.Latest()
}

// Events returns the progress log in arrival order.
func (s *Session) Events() []models.ProgressEvent {
	return s.log.Events()
}

// Reconcile recomputes the playlist from the stored payload and current track list.
// Before completion it returns an empty playlist.
func (s *Session) Reconcile() (models.Playlist, error) {
	payload, ok := s.Completion()
	if !ok {
		return models.Playlist{}, nil
	}

	playlist, err := Reconcile(payload, s.Tracks())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.alive {
		s.playlist = playlist
	}
	s.mu.Unlock()
	return playlist, nil
}

// Playlist returns the most recently reconciled playlist.
func (s *Session) Playlist() models.Playlist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(models.Playlist(nil), s.playlist...)
}
