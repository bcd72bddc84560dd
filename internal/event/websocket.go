package event

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already gates the endpoint; the stream carries no
	// cross-origin state worth CSRF-protecting.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(ev eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

// StreamWS is the WebSocket flavor of the event stream, for worker processes
// that want a bidirectional-capable transport instead of EventSource.
func (s *Server) StreamWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	cerr.MarkHandled(ctx)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	// Drain the read side so close frames and pings are processed; the
	// stream itself is server-to-client only. The request context does not
	// end with a hijacked connection, so closure is signalled explicitly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.serve(ctx, r, u.ID, &wsConn{conn: ws}, closed)
}
