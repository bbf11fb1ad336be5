package testing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one envelope pushed by [NewAnalysisServer].
type Frame struct {
	Event string
	Data  any
	Delay time.Duration // wait before sending
}

// ProgressFrame builds a progress envelope.
func ProgressFrame(stage string, details map[string]any) Frame {
	data := map[string]any{"stage": stage}
	if details != nil {
		data["details"] = details
	}
	return Frame{Event: "progress", Data: data}
}

// CompletedFrame builds a completion envelope with one result holding a prediction per [low, high] pair.
func CompletedFrame(ranges ...[2]float64) Frame {
	predictions := make([]map[string]any, len(ranges))
	for i, r := range ranges {
		predictions[i] = map[string]any{"Valence Range": []float64{r[0], r[1]}}
	}
	return Frame{Event: "completed", Data: map[string]any{"results": []any{map[string]any{"Predictions": predictions}}}}
}

// NewAnalysisServer starts a WebSocket server that pushes frames to every connection and then
// holds it open until the client disconnects. Returns the ws:// endpoint.
func NewAnalysisServer(t *testing.T, frames ...Frame) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, f := range frames {
			if f.Delay > 0 {
				time.Sleep(f.Delay)
			}
			if err := conn.WriteJSON(map[string]any{"event": f.Event, "data": f.Data}); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}
