package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/crewline/crewline/internal/eventbus"
)

// Stream opens the WebSocket event stream. Events arrive on the returned
// channel until the connection drops or ctx ends; the channel is then closed.
// Callers reconnect themselves, passing the last event id they processed so
// missed addressed events are replayed.
func (c *Client) Stream(ctx context.Context, workerID, lastEventID string) (<-chan eventbus.Event, error) {
	u, err := url.Parse(c.baseURL + "/api/events/ws")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if workerID != "" {
		q.Set("worker_id", workerID)
	}
	if lastEventID != "" {
		q.Set("last_event_id", lastEventID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open event stream (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	events := make(chan eventbus.Event)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev eventbus.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return events, nil
}
