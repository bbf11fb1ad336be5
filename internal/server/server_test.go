package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/harmonize/internal/shared"
)

// newTokenServer fakes the Spotify token endpoint.
func newTokenServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		if status != http.StatusOK {
			http.Error(w, `{"error":"invalid_grant"}`, status)
			return
		}
		if got := r.Form.Get("code"); got != "good-code" {
			t.Errorf("expected code good-code, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:3000/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example.com/authorize", TokenURL: tokenURL},
	}
}

func callback(t *testing.T, router http.Handler, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/callback?"+params.Encode(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func receive(t *testing.T, h *OAuthHandler) OAuthResult {
	t.Helper()
	select {
	case result := <-h.Result():
		return result
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OAuth result")
		return OAuthResult{}
	}
}

func TestOAuthHandler(t *testing.T) {
	logger := shared.NewLogger(&bytes.Buffer{})

	t.Run("Success", func(t *testing.T) {
		tokens := newTokenServer(t, http.StatusOK)
		handler := NewOAuthHandler(newConfig(tokens.URL), "state-123")
		router := NewCallbackRouter(handler, logger)

		rec := callback(t, router, url.Values{"state": {"state-123"}, "code": {"good-code"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "Authorization Successful") {
			t.Error("expected success page")
		}

		result := receive(t, handler)
		if result.Error() != nil {
			t.Fatalf("unexpected error: %v", result.Error())
		}
		if result.Token.AccessToken != "access" || result.Token.RefreshToken != "refresh" {
			t.Errorf("unexpected token: %+v", result.Token)
		}
	})

	t.Run("StateMismatch", func(t *testing.T) {
		handler := NewOAuthHandler(newConfig("http://unused"), "expected")
		rec := callback(t, NewCallbackRouter(handler, logger), url.Values{"state": {"forged"}, "code": {"good-code"}})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		res := receive(t, handler)
		if err := res.Error(); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("MissingCode", func(t *testing.T) {
		handler := NewOAuthHandler(newConfig("http://unused"), "s")
		rec := callback(t, NewCallbackRouter(handler, logger), url.Values{"state": {"s"}, "error": {"access_denied"}})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		res := receive(t, handler)
		err := res.Error()
		if !errors.Is(err, shared.ErrAuthFailed) || !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("expected access_denied auth failure, got %v", err)
		}
	})

	t.Run("ExchangeFailure", func(t *testing.T) {
		tokens := newTokenServer(t, http.StatusBadRequest)
		handler := NewOAuthHandler(newConfig(tokens.URL), "s")
		rec := callback(t, NewCallbackRouter(handler, logger), url.Values{"state": {"s"}, "code": {"bad"}})

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		res := receive(t, handler)
		if err := res.Error(); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("SingleCallback", func(t *testing.T) {
		handler := NewOAuthHandler(newConfig("http://unused"), "s")
		router := NewCallbackRouter(handler, logger)

		callback(t, router, url.Values{"state": {"wrong"}})
		rec := callback(t, router, url.Values{"state": {"s"}, "code": {"good-code"}})
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "already processed") {
			t.Errorf("expected second callback to be rejected, got %d %q", rec.Code, rec.Body.String())
		}

		res := receive(t, handler)
		if err := res.Error(); err == nil {
			t.Error("expected the first result to be delivered")
		}
		if _, ok := <-handler.Result(); ok {
			t.Error("result channel should be closed after one result")
		}
	})
}

type panicHandler struct{}

func (panicHandler) Routes() []string                                 { return []string{"/boom"} }
func (panicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) { panic("boom") }

func TestRouter(t *testing.T) {
	var logs bytes.Buffer
	logger := shared.NewLogger(&logs)

	t.Run("MethodFiltering", func(t *testing.T) {
		router := NewBasicRouter()
		router.Handle("post", "/hook", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hook", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("MiddlewareOrder", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewBasicRouter()
		router.Use(mark("first"), mark("second"))
		router.Handle(http.MethodGet, "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		want := []string{"first", "second", "handler"}
		if strings.Join(order, ",") != strings.Join(want, ",") {
			t.Errorf("expected %v, got %v", want, order)
		}
	})

	t.Run("Recovery", func(t *testing.T) {
		router := NewCallbackRouter(panicHandler{}, logger)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(logs.String(), "handler panic") {
			t.Error("expected panic to be logged")
		}
	})
}

func TestNewCallbackServer(t *testing.T) {
	srv, err := NewCallbackServer("", 3000, http.NotFoundHandler())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Addr != "127.0.0.1:3000" {
		t.Errorf("expected default host, got %s", srv.Addr)
	}

	if _, err := NewCallbackServer("localhost", 0, http.NotFoundHandler()); err == nil {
		t.Error("expected error for port 0")
	}
}
