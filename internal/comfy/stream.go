package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRecvTimeout is returned by Stream.Next when no frame arrived within
// the wait window. The stream stays usable; callers typically loop and
// re-check their overall deadline.
var ErrRecvTimeout = errors.New("comfy: stream receive timed out")

// ErrStreamClosed is returned by Stream.Next once the connection is gone.
var ErrStreamClosed = errors.New("comfy: stream closed")

// StreamMessage is one frame of the engine's status stream.
type StreamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v.
func (m *StreamMessage) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.New("comfy: empty frame payload")
	}
	return json.Unmarshal(m.Data, v)
}

// ExecutingData is the payload of an "executing" frame. A nil Node with
// a matching prompt id is the completion sentinel.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// ExecutedData is the payload of an "executed" frame carrying one
// node's output record.
type ExecutedData struct {
	Node     string     `json:"node"`
	PromptID string     `json:"prompt_id"`
	Output   NodeOutput `json:"output"`
}

// ExecutionErrorData is the payload of an "execution_error" frame.
type ExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	ExceptionMessage string `json:"exception_message"`
}

type streamFrame struct {
	msg *StreamMessage
	err error
}

// Stream is an open status-stream connection scoped to one client id.
// Frames are read by a background goroutine so that Next can time out
// without poisoning the connection. A stream belongs to one execution.
type Stream struct {
	conn   *websocket.Conn
	frames chan streamFrame
	done   chan struct{}
}

// OpenStream connects to the engine's status WebSocket for the given
// client id. Auth cookies, when configured, travel as a Cookie header.
// The caller must Close the stream on every exit path.
func (c *Client) OpenStream(ctx context.Context, clientID string) (*Stream, error) {
	wsURL, err := c.streamURL(clientID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	cookies, err := c.cookies.Resolve(ctx)
	if err != nil {
		c.logger.Warn("resolving engine cookies failed", "err", err)
	}
	if len(cookies) > 0 {
		header.Set("Cookie", cookieHeader(cookies))
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("opening status stream: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("opening status stream: %w", err)
	}

	s := &Stream{
		conn:   conn,
		frames: make(chan streamFrame, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// streamURL derives the ws(s) endpoint from the HTTP base URL.
func (c *Client) streamURL(clientID string) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	parsed.RawQuery = "clientId=" + url.QueryEscape(clientID)
	return parsed.String(), nil
}

func (s *Stream) readLoop() {
	defer close(s.frames)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.deliver(streamFrame{err: err})
			return
		}
		// Binary frames carry preview images; the waiter only cares
		// about JSON status frames.
		if msgType != websocket.TextMessage {
			continue
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.deliver(streamFrame{err: fmt.Errorf("decoding stream frame: %w", err)})
			return
		}
		if !s.deliver(streamFrame{msg: &msg}) {
			return
		}
	}
}

// deliver hands a frame to the consumer unless the stream was closed.
func (s *Stream) deliver(frame streamFrame) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.done:
		return false
	}
}

// Next returns the next status frame, waiting at most the given
// duration. ErrRecvTimeout keeps the stream usable; ErrStreamClosed or
// a context error ends it.
func (s *Stream) Next(ctx context.Context, wait time.Duration) (*StreamMessage, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case frame, ok := <-s.frames:
		if !ok {
			return nil, ErrStreamClosed
		}
		if frame.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStreamClosed, frame.err)
		}
		return frame.msg, nil
	case <-timer.C:
		return nil, ErrRecvTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the connection and unblocks the reader.
func (s *Stream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.conn.Close()
}
