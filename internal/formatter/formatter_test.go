package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
	th "github.com/desertthunder/harmonize/internal/testing"
)

func testExport() *PlaylistExport {
	first := th.Track("t1", 0.42)
	first.Name = "Song One"
	first.Artist = "Artist A, Artist B"
	first.AlbumImageURL = "https://i.scdn.co/image/one"

	return &PlaylistExport{
		SessionID:  "session-1",
		Ranges:     []models.ValenceRange{{Low: 0.4, High: 0.6}},
		Playlist:   models.Playlist{first, th.Track("t2", 0.5)},
		Additional: []models.Track{th.Track("t3", 0.55)},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" csv ", FormatCSV, false},
		{"md", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"", FormatText, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidFlag) {
					t.Errorf("expected ErrInvalidFlag, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected header and 2 rows, got %d", len(records))
		}
		if strings.Join(records[0], ",") != "Position,ID,Name,Artist,Valence,Image" {
			t.Errorf("unexpected headers: %v", records[0])
		}
		if records[1][3] != "Artist A, Artist B" {
			t.Errorf("artist with comma should survive quoting, got %q", records[1][3])
		}
		if records[1][4] != "0.42" || records[1][5] != "https://i.scdn.co/image/one" {
			t.Errorf("unexpected row: %v", records[1])
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(testExport(), false)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded struct {
			SessionID string       `json:"sessionId"`
			Ranges    [][2]float64 `json:"ranges"`
			Playlist  []struct {
				ID      string  `json:"id"`
				Valence float64 `json:"valence"`
			} `json:"playlist"`
		}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.SessionID != "session-1" || decoded.Ranges[0] != [2]float64{0.4, 0.6} {
			t.Errorf("unexpected metadata: %+v", decoded)
		}
		if len(decoded.Playlist) != 2 || decoded.Playlist[0].ID != "t1" {
			t.Errorf("unexpected playlist: %+v", decoded.Playlist)
		}

		pretty, err := ExportToJSON(testExport(), true)
		if err != nil {
			t.Fatalf("ExportToJSON pretty failed: %v", err)
		}
		if !strings.Contains(string(pretty), "\n  \"sessionId\"") {
			t.Error("expected indented output")
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(testExport())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Your Mood Playlist",
			"**Valence ranges**: [0.4, 0.6]",
			"**Tracks**: 2",
			"1. ![cover](https://i.scdn.co/image/one) **Song One** - Artist A, Artist B (valence 0.42)",
			"## Additional Tracks",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdownEmpty", func(t *testing.T) {
		data, err := ExportToMarkdown(&PlaylistExport{})
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}
		if !strings.Contains(string(data), "No tracks matched") {
			t.Errorf("expected empty playlist note, got:\n%s", data)
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "1. Artist A, Artist B - Song One [0.42]") {
			t.Errorf("unexpected text output:\n%s", output)
		}
		if !strings.Contains(output, "Additional tracks: 1") {
			t.Errorf("expected additional track count, got:\n%s", output)
		}
	})
}

func TestWrite(t *testing.T) {
	t.Run("AllFormats", func(t *testing.T) {
		for _, format := range Formats {
			var buf bytes.Buffer
			if err := Write(&buf, testExport(), format); err != nil {
				t.Errorf("Write(%s) failed: %v", format, err)
			}
			if buf.Len() == 0 {
				t.Errorf("Write(%s) produced no output", format)
			}
		}
	})

	t.Run("WriterFailure", func(t *testing.T) {
		if err := Write(&th.FWriter{}, testExport(), FormatText); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		err := Write(&bytes.Buffer{}, testExport(), Format("xml"))
		if !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestWriteFile(t *testing.T) {
	t.Run("AddsExtension", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "out", "playlist")

		path, err := WriteFile(base, testExport(), FormatCSV)
		if err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if path != base+".csv" {
			t.Errorf("expected %s.csv, got %s", base, path)
		}
		th.AssertFileExists(t, path)

		content := th.MustReadFile(t, path)
		if !strings.HasPrefix(content, "Position,ID") {
			t.Errorf("unexpected file content: %s", content)
		}
	})

	t.Run("KeepsExtension", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "mood.txt")
		path, err := WriteFile(want, testExport(), FormatMarkdown)
		if err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if path != want {
			t.Errorf("expected %s, got %s", want, path)
		}
	})

	t.Run("MissingPath", func(t *testing.T) {
		if _, err := WriteFile("", testExport(), FormatText); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("UnwritableDirectory", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := WriteFile(filepath.Join(blocker, "out.json"), testExport(), FormatJSON); err == nil {
			t.Error("expected error when parent is a file")
		}
	})
}

func TestFormatProgress(t *testing.T) {
	t.Run("Waiting", func(t *testing.T) {
		if got := FormatProgress(models.ProgressEvent{}, false); got != WaitingMessage {
			t.Errorf("expected waiting message, got %q", got)
		}
	})

	t.Run("StageWithDetails", func(t *testing.T) {
		event := models.ProgressEvent{
			Stage:   "Scoring biometrics",
			Details: map[string]any{"heart_rate": 72, "blood_pressure": "120/80"},
		}
		want := "Scoring biometrics\nBlood Pressure: 120/80\nHeart Rate: 72"
		if got := FormatProgress(event, true); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("FormatValence", func(t *testing.T) {
		if got := FormatValence(th.TrackWithoutValence("x")); got != "n/a" {
			t.Errorf("expected n/a, got %q", got)
		}
		if got := FormatValence(th.Track("x", 0.5)); got != "0.50" {
			t.Errorf("expected 0.50, got %q", got)
		}
	})
}
