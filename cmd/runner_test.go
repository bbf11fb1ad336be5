package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/harmonize/internal/repositories"
	"github.com/desertthunder/harmonize/internal/services"
	"github.com/desertthunder/harmonize/internal/shared"
	tu "github.com/desertthunder/harmonize/internal/testing"
)

var testCredentials = map[string]string{
	"client_id":     "test_client_id",
	"client_secret": "test_client_secret",
	"redirect_uri":  "http://127.0.0.1:3000/callback",
}

// writeTestConfig saves a config pointing at a database in a temp dir and returns its path.
func writeTestConfig(t *testing.T, endpoint string) string {
	t.Helper()

	dir := t.TempDir()
	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(dir, "harmonize.db")
	config.Analysis.Endpoint = endpoint

	path := filepath.Join(dir, "config.toml")
	if err := shared.SaveConfig(path, config); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	return path
}

func newTestSpotify(t *testing.T, server *tu.SpotifyServer) *services.SpotifyService {
	t.Helper()

	srv, err := services.NewSpotifyService(testCredentials,
		services.WithBaseURL(server.URL),
		services.WithHTTPClient(server.Client()),
		services.WithRetry(1, time.Millisecond),
		services.WithLogger(shared.NewLogger(&strings.Builder{})),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := srv.Authenticate(context.Background(), map[string]string{"access_token": "test_token"}); err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}
	return srv
}

func newTestRunner(t *testing.T, spotify *services.SpotifyService) (*Runner, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Spotify: spotify,
		Logger:  shared.NewLogger(&strings.Builder{}),
		Output:  output,
	})
	t.Cleanup(func() { runner.Close() })
	return runner, output
}

func run(runner *Runner, args ...string) error {
	return runner.app().Run(context.Background(), append([]string{"harmonize"}, args...))
}

var recentFixture = tu.SpotifyFixture{
	Recent: []tu.FixtureTrack{
		{ID: "a", Name: "Alpha", Artists: []string{"X"}, Valence: tu.Valence(0.2)},
		{ID: "b", Name: "Bravo", Artists: []string{"Y"}, Valence: tu.Valence(0.5)},
		{ID: "c", Name: "Charlie", Artists: []string{"Z"}, Valence: tu.Valence(0.8)},
	},
	Search: []tu.FixtureTrack{
		{ID: "n1", Name: "November", Artists: []string{"W"}, Valence: tu.Valence(0.45)},
		{ID: "n2", Name: "Oscar", Artists: []string{"W"}, Valence: tu.Valence(0.95)},
	},
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}

			runner := NewRunner(RunnerOpts{Config: config, ConfigPath: "custom.toml", Logger: logger, Output: output})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.configPath != "custom.toml" {
				t.Errorf("expected configPath to be custom.toml, got %s", runner.configPath)
			}
		})

		t.Run("with nil dependencies uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output == nil {
				t.Error("expected output to default to stdout")
			}
			if runner.spotify != nil || runner.db != nil {
				t.Error("expected services to be built lazily")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: tu.NewLimitedWriter(1, &bytes.Buffer{})})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("formats text", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("%d tracks\n", 3); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "3 tracks\n" {
				t.Errorf("unexpected output %q", output.String())
			}
		})

		t.Run("writePlainln surrounds with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			runner.writePlainln("done")
			if output.String() != "\ndone\n" {
				t.Errorf("unexpected output %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
			if err := runner.writePlain("text"); err == nil {
				t.Fatal("expected error from failing writer")
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		want := []string{"setup", "spotify", "analyze", "tui", "cache"}
		if len(commands) != len(want) {
			t.Fatalf("expected %d commands, got %d", len(want), len(commands))
		}
		for i, name := range want {
			if commands[i].Name != name {
				t.Errorf("command %d: expected %s, got %s", i, name, commands[i].Name)
			}
		}
	})

	t.Run("Before loads config", func(t *testing.T) {
		path := writeTestConfig(t, "ws://example.test/ws")
		runner, _ := newTestRunner(t, nil)

		if err := run(runner, "--config", path, "cache", "stats"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if runner.configPath != path {
			t.Errorf("expected configPath %s, got %s", path, runner.configPath)
		}
		if runner.config.Analysis.Endpoint != "ws://example.test/ws" {
			t.Errorf("expected endpoint from file, got %s", runner.config.Analysis.Endpoint)
		}
	})

	t.Run("Before falls back to defaults without a config file", func(t *testing.T) {
		runner, _ := newTestRunner(t, nil)
		path := filepath.Join(t.TempDir(), "missing.toml")

		err := run(runner, "--config", path, "spotify", "tracks")
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if runner.configPath != path {
			t.Errorf("expected configPath %s, got %s", path, runner.configPath)
		}
		if runner.config.Analysis.Endpoint != shared.DefaultConfig().Analysis.Endpoint {
			t.Errorf("expected default endpoint, got %s", runner.config.Analysis.Endpoint)
		}
	})

	t.Run("Before rejects an invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("[database\npath = "), 0600); err != nil {
			t.Fatal(err)
		}
		runner, _ := newTestRunner(t, nil)

		if err := run(runner, "--config", path, "cache", "stats"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestAnalyzeCommand(t *testing.T) {
	t.Run("prints the reconciled playlist", func(t *testing.T) {
		server := tu.NewSpotifyServer(t, recentFixture)
		endpoint := tu.NewAnalysisServer(t,
			tu.ProgressFrame("Calibrating", map[string]any{"heart_rate": 72}),
			tu.CompletedFrame([2]float64{0.4, 0.6}),
		)
		path := writeTestConfig(t, endpoint)
		runner, output := newTestRunner(t, newTestSpotify(t, server))

		if err := run(runner, "--config", path, "analyze"); err != nil {
			t.Fatalf("analyze failed: %v", err)
		}

		result := output.String()
		if !strings.Contains(result, "Tracks: 1") {
			t.Errorf("expected one track, got:\n%s", result)
		}
		if !strings.Contains(result, "Bravo [0.50]") {
			t.Errorf("expected Bravo in playlist, got:\n%s", result)
		}
		if strings.Contains(result, "Alpha") || strings.Contains(result, "Charlie") {
			t.Errorf("unexpected tracks outside the range:\n%s", result)
		}
	})

	t.Run("augments and writes to a file", func(t *testing.T) {
		server := tu.NewSpotifyServer(t, recentFixture)
		endpoint := tu.NewAnalysisServer(t, tu.CompletedFrame([2]float64{0.4, 0.6}))
		path := writeTestConfig(t, endpoint)
		runner, output := newTestRunner(t, newTestSpotify(t, server))
		out := filepath.Join(t.TempDir(), "exports", "playlist")

		err := run(runner, "--config", path, "analyze", "--augment", "--format", "json", "--output", out)
		if err != nil {
			t.Fatalf("analyze failed: %v", err)
		}

		tu.AssertFileExists(t, out+".json")
		content := tu.MustReadFile(t, out+".json")
		if !strings.Contains(content, `"n1"`) {
			t.Errorf("expected discovered track n1 in export, got:\n%s", content)
		}
		if strings.Contains(content, `"n2"`) {
			t.Errorf("n2 is outside the range and should be filtered:\n%s", content)
		}
		if !strings.Contains(output.String(), "✓ Playlist with 2 tracks written to") {
			t.Errorf("unexpected output %q", output.String())
		}
		if server.RequestsTo("/search") == 0 {
			t.Error("expected an augmentation search")
		}
	})

	t.Run("times out without a completion", func(t *testing.T) {
		server := tu.NewSpotifyServer(t, recentFixture)
		endpoint := tu.NewAnalysisServer(t, tu.ProgressFrame("Recording", nil))
		path := writeTestConfig(t, endpoint)
		runner, _ := newTestRunner(t, newTestSpotify(t, server))

		err := run(runner, "--config", path, "analyze", "--timeout", "100ms")
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("reports an empty listening history", func(t *testing.T) {
		server := tu.NewSpotifyServer(t, tu.SpotifyFixture{})
		endpoint := tu.NewAnalysisServer(t, tu.CompletedFrame([2]float64{0.4, 0.6}))
		path := writeTestConfig(t, endpoint)
		runner, output := newTestRunner(t, newTestSpotify(t, server))

		err := run(runner, "--config", path, "analyze")
		if !errors.Is(err, shared.ErrNoTracks) {
			t.Errorf("expected ErrNoTracks, got %v", err)
		}
		if !strings.Contains(output.String(), "harmonize spotify auth") {
			t.Errorf("expected auth hint, got %q", output.String())
		}
	})

	t.Run("rejects unknown flags values", func(t *testing.T) {
		path := writeTestConfig(t, "ws://127.0.0.1:1/ws")
		runner, _ := newTestRunner(t, nil)

		if err := run(runner, "--config", path, "analyze", "--source", "liked"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag for source, got %v", err)
		}
		if err := run(runner, "--config", path, "analyze", "--format", "xml"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag for format, got %v", err)
		}
	})

	t.Run("requires a stored token", func(t *testing.T) {
		path := writeTestConfig(t, "ws://127.0.0.1:1/ws")
		runner, _ := newTestRunner(t, nil)

		if err := run(runner, "--config", path, "analyze"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestCacheCommands(t *testing.T) {
	path := writeTestConfig(t, "")
	config, err := shared.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	repo := repositories.NewFeatureRepository(db)
	if err := repo.PutValences(context.Background(), map[string]float64{"a": 0.1, "b": 0.9}); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
	db.Close()

	t.Run("stats", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := run(runner, "--config", path, "cache", "stats"); err != nil {
			t.Fatalf("cache stats failed: %v", err)
		}
		if !strings.Contains(output.String(), "Cached tracks: 2") {
			t.Errorf("unexpected output:\n%s", output.String())
		}
	})

	t.Run("clear older than keeps fresh entries", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := run(runner, "--config", path, "cache", "clear", "--older-than", "1h"); err != nil {
			t.Fatalf("cache clear failed: %v", err)
		}
		if !strings.Contains(output.String(), "Removed 0 cached entries") {
			t.Errorf("unexpected output:\n%s", output.String())
		}
	})

	t.Run("clear", func(t *testing.T) {
		runner, output := newTestRunner(t, nil)
		if err := run(runner, "--config", path, "cache", "clear"); err != nil {
			t.Fatalf("cache clear failed: %v", err)
		}
		if !strings.Contains(output.String(), "Removed 2 cached entries") {
			t.Errorf("unexpected output:\n%s", output.String())
		}
	})
}

func TestSetupCommands(t *testing.T) {
	path := writeTestConfig(t, "")

	runner, output := newTestRunner(t, nil)
	if err := run(runner, "--config", path, "setup", "database"); err != nil {
		t.Fatalf("setup database failed: %v", err)
	}
	if !strings.Contains(output.String(), "✓ Database ready at") {
		t.Errorf("unexpected output:\n%s", output.String())
	}
	if !strings.Contains(output.String(), "harmonize spotify auth") {
		t.Errorf("expected next-step hint without a token:\n%s", output.String())
	}

	runner, output = newTestRunner(t, nil)
	if err := run(runner, "--config", path, "setup", "status"); err != nil {
		t.Fatalf("setup status failed: %v", err)
	}
	if !strings.Contains(output.String(), "0000") {
		t.Errorf("expected the first migration in status:\n%s", output.String())
	}
}
