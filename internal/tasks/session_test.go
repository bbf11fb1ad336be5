package tasks

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/harmonize/internal/models"
	tu "github.com/desertthunder/harmonize/internal/testing"
)

func TestSession(t *testing.T) {
	t.Run("ids are unique uuids", func(t *testing.T) {
		a, b := NewSession(), NewSession()
		assert.NotEqual(t, a.ID(), b.ID())
		_, err := uuid.Parse(a.ID())
		assert.NoError(t, err)
	})

	t.Run("latest progress is the last appended", func(t *testing.T) {
		s := NewSession()
		_, ok := s.Latest()
		assert.False(t, ok)

		for _, stage := range []string{"init", "scoring", "done"} {
			require.True(t, s.RecordProgress(models.ProgressEvent{Stage: stage}))
		}

		latest, ok := s.Latest()
		require.True(t, ok)
		assert.Equal(t, models.ProgressEvent{Stage: "done"}, latest)
		assert.Len(t, s.Events(), 3)
	})

	t.Run("first completion wins", func(t *testing.T) {
		s := NewSession()
		_, ok := s.Completion()
		assert.False(t, ok)

		first := tu.Completion(vr(0.1, 0.2))
		assert.True(t, s.Complete(first))
		assert.False(t, s.Complete(tu.Completion(vr(0.8, 0.9))))

		got, ok := s.Completion()
		require.True(t, ok)
		assert.Equal(t, first, got)
	})

	t.Run("AddTracks skips known ids", func(t *testing.T) {
		s := NewSession()
		require.True(t, s.SetTracks([]models.Track{tu.Track("a", 0.1), tu.Track("b", 0.2)}))
		require.True(t, s.AddTracks([]models.Track{tu.Track("b", 0.9), tu.Track("c", 0.3), tu.Track("c", 0.4)}))

		tracks := s.Tracks()
		assert.Equal(t, []string{"a", "b", "c"}, models.Playlist(tracks).IDs())
		assert.Equal(t, 0.2, *tracks[1].Valence)
		assert.Equal(t, 0.3, *tracks[2].Valence)
	})

	t.Run("Tracks returns a copy", func(t *testing.T) {
		s := NewSession()
		s.SetTracks([]models.Track{tu.Track("a", 0.1)})
		tracks := s.Tracks()
		tracks[0].ID = "mutated"
		assert.Equal(t, "a", s.Tracks()[0].ID)
	})

	t.Run("closed session discards late writes", func(t *testing.T) {
		s := NewSession()
		s.SetTracks([]models.Track{tu.Track("a", 0.5)})
		s.Close()
		s.Close()

		assert.False(t, s.Alive())
		assert.False(t, s.AddTracks([]models.Track{tu.Track("late", 0.5)}))
		assert.False(t, s.SetTracks(nil))
		assert.False(t, s.RecordProgress(models.ProgressEvent{Stage: "late"}))
		assert.False(t, s.Complete(tu.Completion(vr(0, 1))))

		assert.Equal(t, []string{"a"}, models.Playlist(s.Tracks()).IDs())
		assert.Empty(t, s.Events())
	})

	t.Run("Reconcile before completion is empty", func(t *testing.T) {
		s := NewSession()
		s.SetTracks(scenarioTracks)
		playlist, err := s.Reconcile()
		require.NoError(t, err)
		assert.Empty(t, playlist)
	})

	t.Run("Reconcile stores the playlist", func(t *testing.T) {
		s := NewSession()
		s.SetTracks(scenarioTracks)
		s.Complete(tu.Completion(vr(0.4, 0.6)))

		playlist, err := s.Reconcile()
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, playlist.IDs())
		assert.Equal(t, playlist, s.Playlist())
	})

	t.Run("concurrent readers and a single writer", func(t *testing.T) {
		s := NewSession()
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.RecordProgress(models.ProgressEvent{Stage: "tick"})
			}
			s.Complete(tu.Completion(vr(0, 1)))
		}()

		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					s.Latest()
					s.Completion()
					s.Tracks()
				}
			}()
		}

		wg.Wait()
		assert.Len(t, s.Events(), 100)
	})
}
