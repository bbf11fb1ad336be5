// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// app builds the root command. --config and --debug are inherited by every subcommand.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "harmonize",
		Usage:   "Turn a mood analysis into a playlist from your Spotify listening history",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("HARMONIZE_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.Before,
		Commands: r.register(),
	}
}

// setupCommand handles setup operations for the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing, initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "status",
				Usage:  "List applied database migrations",
				Action: r.SetupStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the most recent database migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// spotifyCommand handles Spotify operations
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify account and listening history",
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.SpotifyAuth,
			},
			{
				Name:  "me",
				Usage: "Show your profile, top artists and top tracks",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of top artists and tracks to show",
						Value: 10,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.SpotifyMe,
			},
			{
				Name:  "tracks",
				Usage: "List listening history with valence scores",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "source",
						Usage: "Listening history to load: recent, saved or top",
						Value: "recent",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.SpotifyTracks,
			},
		},
	}
}

// sessionFlags are shared by analyze and tui.
func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Analysis service WebSocket endpoint (defaults to [analysis] endpoint)",
		},
		&cli.StringFlag{
			Name:  "source",
			Usage: "Listening history to reconcile against: recent, saved or top",
			Value: "recent",
		},
		&cli.BoolFlag{
			Name:  "augment",
			Usage: "Search Spotify for additional tracks in each predicted valence range",
		},
	}
}

// analyzeCommand runs one mood analysis session and prints the playlist.
func analyzeCommand(r *Runner) *cli.Command {
	flags := append(sessionFlags(),
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Give up waiting for the analysis after this long (0 waits indefinitely)",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: text, json, csv or markdown",
			Value:   "text",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the playlist to this file instead of stdout",
		},
	)

	return &cli.Command{
		Name:   "analyze",
		Usage:  "Run a mood analysis session and print the resulting playlist",
		Flags:  flags,
		Action: r.Analyze,
	}
}

// tuiCommand returns the top-level TUI command for an interactive session.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Run a mood analysis session in the terminal UI",
		Flags: append(sessionFlags(),
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the UI is running",
				Value: "./tmp/harmonize-tui.log",
			},
		),
		Action: r.TUI,
	}
}

// cacheCommand manages the audio-feature cache
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and manage the audio-feature cache",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show how many valence scores are cached",
				Action: r.CacheStats,
			},
			{
				Name:  "clear",
				Usage: "Delete cached valence scores",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Only delete entries fetched before this long ago, e.g. 720h",
						Value: time.Duration(0),
					},
				},
				Action: r.CacheClear,
			},
		},
	}
}
