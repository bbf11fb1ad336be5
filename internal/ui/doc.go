// Package ui implements the terminal view of a mood analysis session using bubbletea's Elm architecture.
//
// The [Model] moves through three views:
//  1. [LoadingView] : a spinner with the session phase and the latest analysis progress message.
//     Before the first progress event it shows "Waiting To Send Response" and a hint.
//  2. [ResultView] : the completion payload as JSON and the reconciled playlist as a browsable list.
//  3. [ErrorView] : the failure, with a hint when the listening history was empty.
//
// Progress updates flow through a channel from [tasks.Engine.Run]; quitting cancels the run and closes the session.
package ui
