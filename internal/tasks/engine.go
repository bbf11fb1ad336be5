package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/harmonize/internal/analysis"
	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/services"
	"github.com/desertthunder/harmonize/internal/shared"
)

// Subscriber subscribes a handler to the analysis channel. Implemented by [analysis.Receiver].
type Subscriber interface {
	Subscribe(ctx context.Context, h analysis.Handler) error
}

// RunOptions controls a single [Engine.Run].
type RunOptions struct {
	Source  services.Source // listening history to load when the session has no tracks
	Augment bool            // search for additional tracks per predicted range
}

// RunResult contains everything a finished session produced.
type RunResult struct {
	SessionID  string
	Payload    models.CompletionPayload
	Tracks     []models.Track // listening history, after augmentation
	Playlist   models.Playlist
	Additional []models.Track // augmentation results, deduplicated
	Events     []models.ProgressEvent
}

// Engine runs mood analysis sessions.
type Engine struct {
	source   services.TrackSource
	fetcher  services.TrackFetcher
	receiver Subscriber
	logger   *log.Logger
}

// NewEngine creates an Engine. fetcher may be nil, which disables augmentation.
func NewEngine(source services.TrackSource, fetcher services.TrackFetcher, receiver Subscriber, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Engine{source: source, fetcher: fetcher, receiver: receiver, logger: logger}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// sessionHandler records channel events into a session and forwards them as updates.
type sessionHandler struct {
	session  *Session
	progress chan<- ProgressUpdate
}

func (h *sessionHandler) OnProgress(event models.ProgressEvent) {
	if h.session.RecordProgress(event) {
		sendProgress(h.progress, analysisProgressUpdate(h.session.log.Len(), event))
	}
}

func (h *sessionHandler) OnCompleted(payload models.CompletionPayload) {
	if h.session.Complete(payload) {
		sendProgress(h.progress, completedUpdate(payload))
	}
}

// Run drives session from track loading to the final playlist.
//
// The session's track list is loaded from the [services.TrackSource] when empty; an empty list fails with
// [shared.ErrNoTracks] before any subscription is made. The subscription is released before Run returns.
// Augmentation failures are logged and the un-augmented playlist is kept.
func (e *Engine) Run(ctx context.Context, session *Session, opts RunOptions, progress chan<- ProgressUpdate) (*RunResult, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: nil session", shared.ErrInvalidArgument)
	}
	if e.receiver == nil {
		return nil, fmt.Errorf("%w: analysis receiver not initialized", shared.ErrServiceUnavailable)
	}

	logger := shared.WithLogger(e.logger, "session", session.ID())

	if err := e.loadTracks(ctx, session, opts.Source, progress); err != nil {
		return nil, err
	}

	sendProgress(progress, subscribeUpdate())
	handler := &sessionHandler{session: session, progress: progress}
	if err := e.receiver.Subscribe(ctx, handler); err != nil {
		return nil, err
	}

	payload, ok := session.Completion()
	if !ok {
		return nil, fmt.Errorf("%w: subscription ended without a completion", shared.ErrChannel)
	}
	logger.Info("analysis completed", "progress_events", len(session.Events()), "results", len(payload.Results))

	playlist, err := session.Reconcile()
	if err != nil {
		return nil, err
	}
	sendProgress(progress, reconcileUpdate(playlist, len(session.Tracks())))

	result := &RunResult{SessionID: session.ID(), Payload: payload}

	if opts.Augment && e.fetcher != nil {
		additional, err := e.augment(ctx, session, payload, progress)
		switch {
		case err != nil:
			logger.Warn("augmentation failed, keeping playlist", "error", err)
		case len(additional) > 0:
			result.Additional = additional
			if playlist, err = session.Reconcile(); err != nil {
				return nil, err
			}
			sendProgress(progress, reconcileUpdate(playlist, len(session.Tracks())))
		}
	}

	result.Playlist = playlist
	result.Tracks = session.Tracks()
	result.Events = session.Events()

	sendProgress(progress, doneUpdate(result))
	return result, nil
}

func (e *Engine) loadTracks(ctx context.Context, session *Session, source services.Source, progress chan<- ProgressUpdate) error {
	if len(session.Tracks()) > 0 {
		return nil
	}
	if e.source == nil {
		return fmt.Errorf("%w: track source not initialized", shared.ErrServiceUnavailable)
	}

	sendProgress(progress, loadTracksUpdate(source))
	tracks, err := e.source.Tracks(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("%w: the %s listening history is empty", shared.ErrNoTracks, source)
	}

	if !session.SetTracks(tracks) {
		return fmt.Errorf("%w: session closed while loading tracks", context.Canceled)
	}
	sendProgress(progress, loadedTracksUpdate(len(tracks)))
	return nil
}

// augment fetches tracks for every predicted range, in payload order, and merges them into the session.
//
// Results arriving after the session closed are discarded.
func (e *Engine) augment(ctx context.Context, session *Session, payload models.CompletionPayload, progress chan<- ProgressUpdate) ([]models.Track, error) {
	ranges, err := FlattenRanges(payload)
	if err != nil {
		return nil, err
	}

	var fetched []models.Track
	var errs []error
	for i, r := range ranges {
		sendProgress(progress, augmentUpdate(i+1, len(ranges), r))

		tracks, err := e.fetcher.FetchTracksByValenceRange(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sendProgress(progress, augmentFailedUpdate(i+1, len(ranges), r, err))
			errs = append(errs, fmt.Errorf("valence %s: %w", r, err))
			continue
		}
		fetched = append(fetched, tracks...)
	}

	additional := Dedupe(fetched)
	if len(additional) == 0 {
		return nil, errors.Join(errs...)
	}

	if !session.AddTracks(additional) {
		e.logger.Debug("discarding augmentation results for closed session", "session", session.ID(), "tracks", len(additional))
		return nil, nil
	}

	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("some augmentation searches failed", "session", session.ID(), "error", err)
	}
	return additional, nil
}
