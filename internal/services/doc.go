// Package services adapts the Spotify Web API to the interfaces the analysis pipeline consumes.
//
// # Interfaces
//
//   - [TrackSource] : the user's listening history (recently played, saved library or top tracks)
//   - [TrackFetcher] : catalog tracks for a predicted valence range, used to augment a playlist
//   - [FeatureCache] : optional storage for valence scores between runs (repositories.FeatureRepository)
//   - [OAuthService] : the authorization code flow used by the CLI
//
// # Spotify Implementation
//
// [SpotifyService] uses OAuth2 for authentication; the [oauth2] client refreshes expired tokens
// automatically when a refresh token is present, and [SpotifyService.CurrentToken] exposes the
// refreshed token so callers can persist it.
//
// Valence comes from the audio-features endpoint, fetched in batches of 100 ids. Tracks Spotify has
// no features for keep a nil valence and therefore never match a range.
//
// Requests are paced with a token bucket and retried on transport errors, 429 and 5xx with
// exponential backoff, honouring Retry-After.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrNotAuthenticated] : Authenticate() not called
//   - [shared.ErrTokenExpired] : HTTP 401 or a token that cannot be refreshed
//   - [shared.ErrAPIRequest] : any other failed request
package services
