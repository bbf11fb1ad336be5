// package formatter renders analysis progress and exports playlists to JSON, CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
)

// WaitingMessage is shown before the first progress event arrives.
const WaitingMessage = "Waiting To Send Response"

// Format names an export format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Formats lists the supported export formats.
var Formats = []Format{FormatText, FormatJSON, FormatCSV, FormatMarkdown}

// ParseFormat validates a --format flag value. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatCSV, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want text, json, csv or markdown)", shared.ErrInvalidFlag, s)
	}
}

// Extension returns the file extension used when writing f to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// PlaylistExport is the exportable view of a finished session.
type PlaylistExport struct {
	SessionID  string                `json:"sessionId"`
	Ranges     []models.ValenceRange `json:"ranges"`
	Playlist   models.Playlist       `json:"playlist"`
	Additional []models.Track        `json:"additional,omitempty"`
}

// ExportToJSON marshals the export, indented when pretty is set.
func ExportToJSON(export *PlaylistExport, pretty bool) ([]byte, error) {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(export, "", "  ")
	} else {
		data, err = json.Marshal(export)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// ExportToCSV converts the playlist to CSV with columns: Position, ID, Name, Artist, Valence, Image
func ExportToCSV(export *PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Position", "ID", "Name", "Artist", "Valence", "Image"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for i, track := range export.Playlist {
		record := []string{
			strconv.Itoa(i + 1),
			track.ID,
			track.Name,
			track.Artist,
			FormatValence(track),
			track.AlbumImageURL,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToMarkdown renders the playlist as a Markdown document with cover thumbnails.
func ExportToMarkdown(export *PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Your Mood Playlist\n\n")
	if export.SessionID != "" {
		fmt.Fprintf(&buf, "**Session**: `%s`\n\n", export.SessionID)
	}
	if len(export.Ranges) > 0 {
		fmt.Fprintf(&buf, "**Valence ranges**: %s\n\n", joinRanges(export.Ranges))
	}
	fmt.Fprintf(&buf, "**Tracks**: %d\n\n", len(export.Playlist))

	buf.WriteString("## Tracks\n\n")
	if len(export.Playlist) == 0 {
		buf.WriteString("_No tracks matched the predicted mood._\n")
	}
	for i, track := range export.Playlist {
		image := ""
		if track.AlbumImageURL != "" {
			image = fmt.Sprintf("![cover](%s) ", track.AlbumImageURL)
		}
		fmt.Fprintf(&buf, "%d. %s**%s** - %s (valence %s)\n", i+1, image, track.Name, track.Artist, FormatValence(track))
	}

	if len(export.Additional) > 0 {
		buf.WriteString("\n## Additional Tracks\n\n")
		for i, track := range export.Additional {
			fmt.Fprintf(&buf, "%d. **%s** - %s (valence %s)\n", i+1, track.Name, track.Artist, FormatValence(track))
		}
	}

	return buf.Bytes(), nil
}

// ExportToText renders the playlist as numbered "Artist - Name" lines.
func ExportToText(export *PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	if len(export.Ranges) > 0 {
		fmt.Fprintf(&buf, "Valence ranges: %s\n", joinRanges(export.Ranges))
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Playlist))

	for i, track := range export.Playlist {
		fmt.Fprintf(&buf, "%d. %s - %s [%s]\n", i+1, track.Artist, track.Name, FormatValence(track))
	}

	if len(export.Additional) > 0 {
		fmt.Fprintf(&buf, "\nAdditional tracks: %d\n", len(export.Additional))
	}
	return buf.Bytes(), nil
}

// Render returns export encoded as format.
func Render(export *PlaylistExport, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return ExportToJSON(export, true)
	case FormatCSV:
		return ExportToCSV(export)
	case FormatMarkdown:
		return ExportToMarkdown(export)
	case FormatText, "":
		return ExportToText(export)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, format)
	}
}

// Write renders export to w.
func Write(w io.Writer, export *PlaylistExport, format Format) error {
	data, err := Render(export, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// WriteFile renders export to path, creating parent directories. A path without an extension
// gets the format's extension. Returns the path written.
func WriteFile(path string, export *PlaylistExport, format Format) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: output path", shared.ErrMissingArgument)
	}
	if filepath.Ext(path) == "" {
		path += format.Extension()
	}

	data, err := Render(export, format)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", format, err)
	}
	return path, nil
}

// FormatValence prints a track's valence with two decimals, or "n/a" when undefined.
func FormatValence(t models.Track) string {
	if !t.HasValence() {
		return "n/a"
	}
	return strconv.FormatFloat(*t.Valence, 'f', 2, 64)
}

// FormatDetails renders progress details as "Label: value" lines sorted by key.
func FormatDetails(details map[string]any) []string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", shared.HumanizeKey(k), details[k]))
	}
	return lines
}

// FormatProgress renders the latest progress event, or [WaitingMessage] when none has arrived.
func FormatProgress(event models.ProgressEvent, ok bool) string {
	if !ok {
		return WaitingMessage
	}
	lines := append([]string{event.Stage}, FormatDetails(event.Details)...)
	return strings.Join(lines, "\n")
}

func joinRanges(ranges []models.ValenceRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
