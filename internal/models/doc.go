// Package models defines the data carried through a mood analysis session.
//
// The package contains two groups of types:
//
// 1. Analysis channel payloads, decoded from the external analysis service:
//   - [ProgressEvent] : an intermediate stage notification with optional scalar details
//   - [CompletionPayload] : the terminal message, holding one or more [Result]
//   - [Prediction] : a predicted [ValenceRange] for the listener's mood
//
// 2. Catalog data supplied by Spotify:
//   - [Track] : a song with an optional valence score
//   - [Playlist] : the reconciled, id-unique track sequence shown to the user
//
// [ProgressLog] is the append-only record of progress events for one session.
package models
