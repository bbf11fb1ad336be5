package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/harmonize/internal/analysis"
	"github.com/desertthunder/harmonize/internal/formatter"
	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/services"
	"github.com/desertthunder/harmonize/internal/shared"
	"github.com/desertthunder/harmonize/internal/tasks"
)

// sessionOptions resolves the flags shared by analyze and tui.
func (r *Runner) sessionOptions(cmd *cli.Command) (string, tasks.RunOptions, error) {
	source, err := services.ParseSource(cmd.String("source"))
	if err != nil {
		return "", tasks.RunOptions{}, err
	}

	endpoint := cmd.String("endpoint")
	if endpoint == "" {
		endpoint = r.config.Analysis.Endpoint
	}
	if endpoint == "" {
		return "", tasks.RunOptions{}, fmt.Errorf("%w: --endpoint or [analysis] endpoint", shared.ErrMissingArgument)
	}

	return endpoint, tasks.RunOptions{Source: source, Augment: cmd.Bool("augment")}, nil
}

// newEngine wires the Spotify client and the analysis receiver into a session engine.
func (r *Runner) newEngine(srv *services.SpotifyService, endpoint string, augment bool) *tasks.Engine {
	receiver := analysis.NewReceiver(endpoint, r.analysisDialer(), r.logger)

	var fetcher services.TrackFetcher
	if augment {
		fetcher = srv
	}
	return tasks.NewEngine(srv, fetcher, receiver, r.logger)
}

// Analyze runs one mood analysis session, logging progress, and prints or writes the playlist.
func (r *Runner) Analyze(ctx context.Context, cmd *cli.Command) error {
	endpoint, opts, err := r.sessionOptions(cmd)
	if err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	timeout := cmd.Duration("timeout")
	if timeout == 0 {
		timeout = r.config.Analysis.Timeout()
	}

	srv, err := r.spotifyClient(ctx)
	if err != nil {
		return err
	}
	defer r.persistToken()

	r.logger.Info("starting analysis session", "endpoint", endpoint, "source", opts.Source, "augment", opts.Augment)

	result, err := r.runSession(ctx, srv, endpoint, opts, timeout)
	if err != nil {
		if reauthed, authErr := r.handleSpotifyAuthError(ctx, err); reauthed {
			if authErr != nil {
				return authErr
			}
			result, err = r.runSession(ctx, srv, endpoint, opts, timeout)
		}
	}
	if err != nil {
		if errors.Is(err, shared.ErrNoTracks) {
			r.writePlain("⚠ No listening history to analyze. Play some music or run `harmonize spotify auth` to sign in again.\n")
		}
		return err
	}

	export := exportFromResult(result)
	if output := cmd.String("output"); output != "" {
		path, err := formatter.WriteFile(output, export, format)
		if err != nil {
			return err
		}
		r.logger.Info("playlist written", "path", path, "tracks", len(result.Playlist))
		r.writePlain("✓ Playlist with %d tracks written to %s\n", len(result.Playlist), path)
		return nil
	}

	return formatter.Write(r.output, export, format)
}

// runSession runs a fresh session to completion, logging progress as it arrives.
func (r *Runner) runSession(ctx context.Context, srv *services.SpotifyService, endpoint string, opts tasks.RunOptions, timeout time.Duration) (*tasks.RunResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session := tasks.NewSession()
	defer session.Close()

	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.logProgress(progress)
	}()

	result, err := r.newEngine(srv, endpoint, opts.Augment).Run(ctx, session, opts, progress)
	close(progress)
	<-done

	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no completion from the analysis service within %s", shared.ErrTimeout, timeout)
	}
	return result, err
}

func (r *Runner) logProgress(updates <-chan tasks.ProgressUpdate) {
	for u := range updates {
		switch u.Phase {
		case tasks.Analyzing:
			event, _ := u.Data.(models.ProgressEvent)
			kv := []any{"step", u.Step}
			for _, line := range formatter.FormatDetails(event.Details) {
				kv = append(kv, "detail", line)
			}
			r.logger.Info(event.Stage, kv...)
		case tasks.Augment, tasks.ReconcileTracks:
			r.logger.Info(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
		default:
			r.logger.Info(u.Message, "phase", u.Phase)
		}
	}
}

// exportFromResult builds the exportable view of a finished session.
func exportFromResult(result *tasks.RunResult) *formatter.PlaylistExport {
	ranges, _ := tasks.FlattenRanges(result.Payload)
	return &formatter.PlaylistExport{
		SessionID:  result.SessionID,
		Ranges:     ranges,
		Playlist:   result.Playlist,
		Additional: result.Additional,
	}
}
