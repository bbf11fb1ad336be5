package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/harmonize/internal/shared"
	"github.com/desertthunder/harmonize/internal/tasks"
	"github.com/desertthunder/harmonize/internal/ui"
)

// TUI runs an analysis session inside the interactive terminal UI.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	endpoint, opts, err := r.sessionOptions(cmd)
	if err != nil {
		return err
	}

	// Logs would otherwise interfere with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	srv, err := r.spotifyClient(ctx)
	if err != nil {
		return err
	}
	defer r.persistToken()

	session := tasks.NewSession()
	defer session.Close()

	model := ui.NewModel(ctx, r.newEngine(srv, endpoint, opts.Augment), session, opts)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	result, err := model.Result()
	if err != nil {
		return err
	}
	if result != nil {
		r.logger.Info("session finished", "session", result.SessionID, "tracks", len(result.Playlist))
	}
	return nil
}
