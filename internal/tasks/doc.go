// Package tasks runs mood analysis sessions and reconciles their predictions into playlists.
//
// # Reconciliation
//
// [Reconcile] is a pure function: it flattens every prediction's valence range in payload order, scans
// the track list once per range collecting tracks whose valence lies inside it (bounds included), and
// keeps the first occurrence of each track id. Tracks without a valence never match. Given the same
// payload and tracks it always returns the same playlist, in the same order.
//
// # Sessions
//
// A [Session] owns the state of one analysis: its id, the append-only progress log, the single
// completion slot and the track list. Nothing is shared between sessions. Once [Session.Close] is
// called every mutator becomes a no-op, which discards late results from in-flight searches.
//
// # Engine
//
// [Engine.Run] performs the whole flow:
//
//  1. Load the listening history from the [services.TrackSource] (fails with [shared.ErrNoTracks] when empty)
//  2. Subscribe to the analysis channel, recording progress events as they arrive
//  3. Reconcile once the completion payload arrives
//  4. Optionally search the [services.TrackFetcher] per predicted range and reconcile again
//
// # Progress Reporting
//
// Every step is reported as a [ProgressUpdate] over a caller-supplied channel.
// Updates use select with default so a slow consumer never blocks the session.
package tasks
