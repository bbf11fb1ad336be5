// Package server provides the local HTTP callback server used by the Spotify OAuth flow.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [Middleware] wraps handlers in reverse order (last added executes first).
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback. It validates the state parameter,
// exchanges the code for a token and delivers exactly one [OAuthResult] through [OAuthHandler.Result].
// Later callbacks are rejected.
//
// The CLI starts a temporary server on the configured host and port (127.0.0.1:3000 by default),
// waits for the result and shuts the server down.
package server
