package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/harmonize/internal/models"
	"github.com/desertthunder/harmonize/internal/shared"
)

// Event names used in the wire envelope.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
)

const maxMessageSize = 1 << 20

// Conn is the read side of an analysis channel connection.
type Conn interface {
	ReadJSON(v any) error
	Close() error
}

// Dialer opens a [Conn] to an analysis endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Handler receives the analysis signals of one subscription.
type Handler interface {
	OnProgress(event models.ProgressEvent)
	OnCompleted(payload models.CompletionPayload)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsConn wraps gorilla/websocket.Conn to implement [Conn].
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadJSON(v any) error { return c.conn.ReadJSON(v) }
func (c *wsConn) Close() error         { return c.conn.Close() }

// WebSocketDialer dials analysis endpoints with gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer whose opening handshake is bounded by handshakeTimeout (0 means none).
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}, nil
}

// Receiver subscribes to one analysis endpoint.
type Receiver struct {
	endpoint string
	dialer   Dialer
	logger   *log.Logger
}

// NewReceiver creates a Receiver for endpoint. A nil dialer uses [NewWebSocketDialer] without a handshake timeout.
func NewReceiver(endpoint string, dialer Dialer, logger *log.Logger) *Receiver {
	if dialer == nil {
		dialer = NewWebSocketDialer(0)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Receiver{endpoint: endpoint, dialer: dialer, logger: logger.With("endpoint", endpoint)}
}

// Subscribe dials the endpoint and delivers events to h until the completion arrives, the channel fails, or ctx ends.
//
// Returns nil after the completion was delivered, an error wrapping [shared.ErrChannel] on transport failure,
// an error wrapping [shared.ErrInvalidArgument] for a malformed completion, or ctx.Err() on cancellation.
func (r *Receiver) Subscribe(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", shared.ErrInvalidArgument)
	}
	if r.endpoint == "" {
		return fmt.Errorf("%w: analysis endpoint", shared.ErrMissingArgument)
	}

	conn, err := r.dialer.Dial(ctx, r.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: failed to connect: %v", shared.ErrChannel, err)
	}
	defer conn.Close()

	// Closing the connection is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r.logger.Debug("subscribed to analysis channel")

	received := 0
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read failed after %d events: %v", shared.ErrChannel, received, err)
		}

		switch env.Event {
		case EventProgress:
			event, err := models.DecodeProgress(env.Data)
			if err != nil {
				r.logger.Warn("dropping malformed progress event", "error", err)
				continue
			}
			received++
			h.OnProgress(event)
		case EventCompleted:
			payload, err := models.DecodeCompletion(env.Data)
			if err != nil {
				return err
			}
			r.logger.Debug("analysis completed", "progress_events", received, "results", len(payload.Results))
			h.OnCompleted(payload)
			return nil
		default:
			r.logger.Debug("skipping unknown event", "event", env.Event)
		}
	}
}
