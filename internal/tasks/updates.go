package tasks

import (
	"fmt"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/services"
)

// ProgressUpdate represents a step of a running session.
//
// Sent to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Session phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Message string // Human-readable message for display
	Data    any    // Phase-specific payload, e.g. the models.ProgressEvent for [Analyzing]
}

// Session phase enumeration
type Phase int

const (
	LoadTracks Phase = iota
	Subscribe
	Analyzing
	Completed
	ReconcileTracks
	Augment
	Done
)

func (p Phase) String() string {
	switch p {
	case LoadTracks:
		return "load_tracks"
	case Subscribe:
		return "subscribe"
	case Analyzing:
		return "analyzing"
	case Completed:
		return "completed"
	case ReconcileTracks:
		return "reconcile"
	case Augment:
		return "augment"
	case Done:
		return "done"
	default:
		return ""
	}
}

func loadTracksUpdate(source services.Source) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadTracks,
		Message: fmt.Sprintf("Loading %s tracks from Spotify...", source),
	}
}

func loadedTracksUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadTracks,
		Step:    count,
		Total:   count,
		Message: fmt.Sprintf("Loaded %d tracks", count),
	}
}

func subscribeUpdate() ProgressUpdate {
	return ProgressUpdate{Phase: Subscribe, Message: "Waiting for the analysis service..."}
}

func analysisProgressUpdate(step int, event models.ProgressEvent) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Analyzing,
		Step:    step,
		Message: event.Stage,
		Data:    event,
	}
}

func completedUpdate(payload models.CompletionPayload) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Completed,
		Message: fmt.Sprintf("Analysis completed with %d results", len(payload.Results)),
		Data:    payload,
	}
}

func reconcileUpdate(playlist models.Playlist, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReconcileTracks,
		Step:    len(playlist),
		Total:   total,
		Message: fmt.Sprintf("%d of %d tracks match the predicted mood", len(playlist), total),
		Data:    playlist,
	}
}

func augmentUpdate(step, total int, r models.ValenceRange) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Augment,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Searching Spotify for valence %s...", step, total, r),
	}
}

func augmentFailedUpdate(step, total int, r models.ValenceRange, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Augment,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ valence %s: %v", step, total, r, err),
	}
}

func doneUpdate(result *RunResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Done,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Playlist ready: %d tracks", len(result.Playlist)),
		Data:    result,
	}
}
