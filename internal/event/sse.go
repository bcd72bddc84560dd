package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/message"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

// Server exposes the push stream over SSE and WebSocket.
type Server struct {
	broadcaster *Broadcaster
	messages    message.Repository
	agents      agent.Repository
}

func NewServer(broadcaster *Broadcaster, messages message.Repository, agents agent.Repository) *Server {
	return &Server{broadcaster: broadcaster, messages: messages, agents: agents}
}

// sseConn serializes writes because the heartbeat loop and the dispatcher
// send concurrently.
type sseConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (c *sseConn) Send(ev eventbus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Stream is the SSE endpoint. Reconnecting clients pass last_event_id to
// replay unacknowledged messages before live events resume.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Internal, "streaming unsupported", nil)
		return
	}
	cerr.MarkHandled(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := &sseConn{w: w, flusher: flusher}
	s.serve(ctx, r, u.ID, conn, ctx.Done())
}

// serve runs the shared connection lifecycle: worker identity, availability
// flip, catch-up replay, then blocking until the client goes away.
func (s *Server) serve(ctx context.Context, r *http.Request, userID string, conn Conn, closed <-chan struct{}) {
	workerID := s.resolveWorkerID(ctx, r, userID)
	connID := s.broadcaster.Register(userID, workerID, conn)
	defer s.broadcaster.Unregister(connID)

	s.setAgentStatus(ctx, userID, agent.StatusOnline)
	defer s.setAgentStatus(context.WithoutCancel(ctx), userID, agent.StatusOffline)

	if marker := r.URL.Query().Get("last_event_id"); marker != "" {
		replayPending(ctx, s.messages, userID, marker, conn)
	}

	select {
	case <-ctx.Done():
	case <-closed:
	}
}

// resolveWorkerID picks the logical worker identity the dedup rule keys on:
// an explicit worker_id query parameter, the registered agent id, or a
// one-off id making the connection its own worker.
func (s *Server) resolveWorkerID(ctx context.Context, r *http.Request, userID string) string {
	if workerID := r.URL.Query().Get("worker_id"); workerID != "" {
		return workerID
	}
	if ag, err := s.agents.GetByUserID(ctx, userID); err == nil && ag != nil {
		return ag.ID
	}
	return ulid.Make().String()
}

func (s *Server) setAgentStatus(ctx context.Context, userID string, status agent.Status) {
	ag, err := s.agents.GetByUserID(ctx, userID)
	if err != nil || ag == nil {
		return
	}
	// A working agent stays working; connect/disconnect only toggles idle
	// availability.
	if ag.Status == agent.StatusWorking && status == agent.StatusOnline {
		return
	}
	ag.Status = status
	if err := s.agents.Update(ctx, ag); err != nil {
		slog.WarnContext(ctx, "failed to flip agent availability", "agent_id", ag.ID, "error", err)
	}
}
