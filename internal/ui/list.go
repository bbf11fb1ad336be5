package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/harmonize/internal/formatter"
	"github.com/desertthunder/harmonize/internal/models"
)

var _ list.Item = trackItem{}

// trackItem wraps [models.Track] to implement [list.Item].
type trackItem struct {
	track      models.Track
	additional bool
}

func (i trackItem) FilterValue() string { return i.track.Name + " " + i.track.Artist }
func (i trackItem) Title() string       { return i.track.Name }
func (i trackItem) Description() string {
	desc := fmt.Sprintf("%s • valence %s", i.track.Artist, formatter.FormatValence(i.track))
	if i.additional {
		desc += " • discovered"
	}
	return desc
}

// playlistItems builds list items, marking tracks that came from augmentation.
func playlistItems(playlist models.Playlist, additional []models.Track) []list.Item {
	discovered := make(map[string]bool, len(additional))
	for _, t := range additional {
		discovered[t.ID] = true
	}

	items := make([]list.Item, len(playlist))
	for i, t := range playlist {
		items[i] = trackItem{track: t, additional: discovered[t.ID]}
	}
	return items
}
