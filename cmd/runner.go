package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/harmonize/internal/analysis"
	"github.com/desertthunder/harmonize/internal/repositories"
	"github.com/desertthunder/harmonize/internal/services"
	"github.com/desertthunder/harmonize/internal/shared"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	spotify    *services.SpotifyService
	dialer     analysis.Dialer
	db         *sql.DB
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Spotify, Dialer and DB are built from the loaded config when nil.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Spotify    *services.SpotifyService
	Dialer     analysis.Dialer
	DB         *sql.DB
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		spotify:    opts.Spotify,
		dialer:     opts.Dialer,
		db:         opts.DB,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, spotifyCommand, analyzeCommand, tuiCommand, cacheCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Close releases the database handle, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Before loads the configuration named by --config ahead of every command.
//
// A missing file falls back to the embedded defaults so `setup database` can create it.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	if r.configPath != "" && !cmd.IsSet("config") {
		path = r.configPath
	}

	config, err := shared.LoadOrDefault(path)
	if err != nil {
		return ctx, err
	}
	r.config = config
	r.configPath = path
	r.logger.Debug("configuration loaded", "path", path)
	return ctx, nil
}

// database opens the configured SQLite database once and applies pending migrations.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", r.config.Database.Path, err)
	}
	r.db = db
	return db, nil
}

// featureCache returns the valence cache, or nil when the database is unavailable.
func (r *Runner) featureCache() services.FeatureCache {
	db, err := r.database()
	if err != nil {
		r.logger.Warn("audio feature cache disabled", "error", err)
		return nil
	}
	return repositories.NewFeatureRepository(db)
}

// newSpotifyService builds an unauthenticated client from the loaded config.
func (r *Runner) newSpotifyService() (*services.SpotifyService, error) {
	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: Spotify client_id and client_secret must be set in %s", shared.ErrMissingCredentials, r.configPath)
	}

	opts := []services.SpotifyOption{
		services.WithLogger(r.logger),
		services.WithRateLimit(r.config.Spotify.RateLimit),
		services.WithRetry(r.config.Spotify.MaxRetries, time.Duration(r.config.Spotify.RetryBackoffMS)*time.Millisecond),
		services.WithAugment(services.AugmentOptions{
			Query:  r.config.Augment.Query,
			Market: r.config.Augment.Market,
			Limit:  r.config.Augment.Limit,
		}),
	}
	if cache := r.featureCache(); cache != nil {
		opts = append(opts, services.WithFeatureCache(cache))
	}

	srv, err := services.NewSpotifyService(creds.Map(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spotify service: %w", err)
	}
	return srv, nil
}

// spotifyClient returns the authenticated Spotify client, building it from the stored token on first use.
func (r *Runner) spotifyClient(ctx context.Context) (*services.SpotifyService, error) {
	if r.spotify != nil {
		return r.spotify, nil
	}

	token := r.config.Credentials.Spotify.Token()
	if token == nil {
		return nil, fmt.Errorf("%w: run `harmonize spotify auth` first", shared.ErrNotAuthenticated)
	}

	srv, err := r.newSpotifyService()
	if err != nil {
		return nil, err
	}
	if err := srv.OAuthenticate(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to authenticate with stored token: %w", err)
	}

	r.spotify = srv
	return srv, nil
}

// persistToken saves the client's current token when it was refreshed during the command.
func (r *Runner) persistToken() {
	if r.spotify == nil || r.configPath == "" {
		return
	}

	token, err := r.spotify.CurrentToken()
	if err != nil {
		r.logger.Debug("no token to persist", "error", err)
		return
	}
	if token.AccessToken == r.config.Credentials.Spotify.AccessToken {
		return
	}

	if err := r.config.Credentials.Spotify.Update(token); err != nil {
		r.logger.Warn("failed to update refreshed token", "error", err)
		return
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		r.logger.Warn("failed to save refreshed token", "error", err)
		return
	}
	r.logger.Info("refreshed Spotify token saved", "path", r.configPath)
}

// analysisDialer returns the dialer for the analysis channel.
func (r *Runner) analysisDialer() analysis.Dialer {
	if r.dialer != nil {
		return r.dialer
	}
	return analysis.NewWebSocketDialer(r.config.Analysis.HandshakeTimeout())
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
