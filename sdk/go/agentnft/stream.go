package agentnft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// EventStream delivers events pushed by the node as they are committed.
type EventStream struct {
	conn   *websocket.Conn
	events chan Event
	err    error
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// SubscribeEvents opens a websocket to the node's event stream. When names is
// non-empty only events with those names are delivered. The stream ends when
// ctx is cancelled, Close is called or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, names ...string) (*EventStream, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path.Join(c.baseURL.Path, "/api/v1/events/stream")
	if len(names) > 0 {
		u.RawQuery = url.Values{"name": {strings.Join(names, ",")}}.Encode()
	}

	dialer := *websocket.DefaultDialer
	if c.httpClient != nil && c.httpClient.Transport != nil {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok {
			dialer.TLSClientConfig = t.TLSClientConfig
			dialer.Proxy = t.Proxy
		}
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			apiErr := &APIError{StatusCode: resp.StatusCode}
			if data, readErr := io.ReadAll(resp.Body); readErr == nil && len(data) > 0 {
				_ = json.Unmarshal(data, apiErr)
			}
			if apiErr.Message == "" {
				apiErr.Message = err.Error()
			}
			return nil, apiErr
		}
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	s := &EventStream{conn: conn, events: make(chan Event), done: make(chan struct{})}
	go s.read(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Events returns the delivery channel. It is closed when the stream ends.
func (s *EventStream) Events() <-chan Event { return s.events }

// Err returns the reason the stream ended, once Events is closed. A stream
// closed by the caller or by context cancellation reports nil.
func (s *EventStream) Err() error {
	<-s.done
	return s.err
}

// Close terminates the stream. It is safe to call more than once.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *EventStream) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
				s.err = err
			}
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
