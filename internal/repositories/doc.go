// Package repositories implements SQLite persistence for the audio-feature cache.
//
// Key Implementations:
//   - [FeatureRepository] : per-track valence keyed by Spotify track id, implementing services.FeatureCache
//
// Session state (progress, completion payloads, playlists) is never persisted.
package repositories
