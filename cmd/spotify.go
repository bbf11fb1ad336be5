package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/harmonize/internal/formatter"
	"github.com/desertthunder/harmonize/internal/server"
	"github.com/desertthunder/harmonize/internal/services"
	"github.com/desertthunder/harmonize/internal/shared"
)

// authTimeout bounds how long the callback server waits for the browser.
const authTimeout = 2 * time.Minute

// SpotifyAuth performs OAuth2 authentication flow for Spotify.
//
// Starts a local HTTP server, opens browser for user authorization, and exchanges auth code for tokens.
func (r *Runner) SpotifyAuth(ctx context.Context, cmd *cli.Command) error {
	srv, err := r.newSpotifyService()
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, srv, "authorization")
	if err != nil {
		return err
	}

	if err := r.saveToken(token); err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Tokens saved to %s\n\n", r.configPath)
	r.writePlain("You can now use: harmonize analyze\n")

	return nil
}

// SpotifyMe prints the user's profile with top artists and tracks.
func (r *Runner) SpotifyMe(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")

	srv, err := r.spotifyClient(ctx)
	if err != nil {
		return err
	}
	defer r.persistToken()

	type overview struct {
		Profile    *services.SpotifyUser    `json:"profile"`
		TopArtists []services.SpotifyArtist `json:"topArtists"`
		TopTracks  []services.SpotifyTrack  `json:"topTracks"`
	}

	fetch := func() (*overview, error) {
		var o overview
		var err error
		if o.Profile, err = srv.UserProfile(ctx); err != nil {
			return nil, err
		}
		if o.TopArtists, err = srv.TopArtists(ctx, limit); err != nil {
			return nil, err
		}
		if o.TopTracks, err = srv.TopTracks(ctx, limit); err != nil {
			return nil, err
		}
		return &o, nil
	}

	r.logger.Infof("fetching spotify profile with %v top items", limit)

	o, err := fetch()
	if err != nil {
		if reauthed, authErr := r.handleSpotifyAuthError(ctx, err); reauthed {
			if authErr != nil {
				return authErr
			}
			if o, err = fetch(); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(o, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s (%s)", o.Profile.DisplayName, o.Profile.ID))
	r.writePlain("Country: %s • Plan: %s • Followers: %d\n", o.Profile.Country, o.Profile.Product, o.Profile.Followers.Total)

	r.writePlainln("Top Artists")
	for i, a := range o.TopArtists {
		if len(a.Genres) > 0 {
			r.writePlain("%d. %s (%s)\n", i+1, a.Name, strings.Join(a.Genres, ", "))
		} else {
			r.writePlain("%d. %s\n", i+1, a.Name)
		}
	}

	r.writePlainln("Top Tracks")
	for i, t := range o.TopTracks {
		names := make([]string, len(t.Artists))
		for j, a := range t.Artists {
			names[j] = a.Name
		}
		r.writePlain("%d. %s - %s\n", i+1, strings.Join(names, ", "), t.Name)
	}
	return nil
}

// SpotifyTracks lists the selected listening history with valence scores.
func (r *Runner) SpotifyTracks(ctx context.Context, cmd *cli.Command) error {
	source, err := services.ParseSource(cmd.String("source"))
	if err != nil {
		return err
	}

	srv, err := r.spotifyClient(ctx)
	if err != nil {
		return err
	}
	defer r.persistToken()

	r.logger.Infof("listing %v tracks", source)

	tracks, err := srv.Tracks(ctx, source)
	if err != nil {
		if reauthed, authErr := r.handleSpotifyAuthError(ctx, err); reauthed {
			if authErr != nil {
				return authErr
			}
			if tracks, err = srv.Tracks(ctx, source); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(tracks, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d %s tracks:\n\n", len(tracks), source)
	for i, t := range tracks {
		r.writePlain("%d. %s - %s [valence %s]\n", i+1, t.Artist, t.Name, formatter.FormatValence(t))
	}
	return nil
}

// saveToken stores token in the config file.
func (r *Runner) saveToken(token *oauth2.Token) error {
	if err := r.config.Credentials.Spotify.Update(token); err != nil {
		return fmt.Errorf("failed to update spotify configuration: %w", err)
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, oauthSrv services.OAuthService, prefix string) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := oauthSrv.GetAuthURL(state)
	oauthHandler := server.NewOAuthHandler(oauthSrv.GetOAuthConfig(), state)
	router := server.NewCallbackRouter(oauthHandler, r.logger)

	httpServer, err := server.NewCallbackServer(r.config.Server.Host, r.config.Server.Port, router)
	if err != nil {
		return nil, err
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server for %s at %v", prefix, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Spotify %s...\n", prefix)
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	return result.Token, nil
}

// handleSpotifyAuthError checks if an error is a token expiration error and triggers reauthorization if needed.
//
// Returns true when a reauthorization was attempted; the caller retries the operation once on a nil error.
func (r *Runner) handleSpotifyAuthError(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, shared.ErrTokenExpired) {
		return false, err
	}

	if r.spotify == nil {
		return true, fmt.Errorf("%w: spotify service does not support reauthorization", shared.ErrServiceUnavailable)
	}

	r.writePlainln("⚠ Authentication token expired. Starting reauthorization...\n")

	token, reauthErr := r.doOAuth(ctx, r.spotify, "reauthorization")
	if reauthErr != nil {
		return true, fmt.Errorf("reauthorization failed: %w", reauthErr)
	}

	if err := r.saveToken(token); err != nil {
		return true, err
	}

	if authErr := r.spotify.OAuthenticate(ctx, r.config.Credentials.Spotify.Token()); authErr != nil {
		return true, fmt.Errorf("failed to authenticate with new tokens: %w", authErr)
	}

	r.writePlainln("✓ Successfully reauthenticated. Retrying operation...\n")

	return true, nil
}
