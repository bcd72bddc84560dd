package message

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

type Server struct {
	repo Repository
	bus  *eventbus.Bus
}

func NewServer(repo Repository, bus *eventbus.Bus) *Server {
	return &Server{repo: repo, bus: bus}
}

type sendRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// Send creates a pending chat turn addressed to another user and announces
// it on the event stream. The message stays pending until the recipient
// replies, which is what makes it replayable on reconnect.
func (s *Server) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.To == "" || req.Content == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "to and content are required", nil)
		return
	}

	m := &Message{
		ID:         ulid.Make().String(),
		FromUserID: u.ID,
		ToUserID:   req.To,
		Content:    req.Content,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.bus.PublishNew(eventbus.KindChatIncoming, eventbus.Event{
		UserID: m.ToUserID,
		Title:  m.Content,
		Meta:   map[string]string{"messageId": m.ID, "from": m.FromUserID},
	})
	cerr.SetJSONResponse(ctx, map[string]any{"message": m})
}

type replyRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// Reply answers a pending message: the original is acknowledged (delivered)
// and the answer goes out as a new pending turn toward the original sender.
func (s *Server) Reply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	original, err := s.repo.Get(ctx, req.MessageID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if original.ToUserID != u.ID {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "message is addressed to another user", nil)
		return
	}

	original.Status = StatusDelivered
	if err := s.repo.Update(ctx, original); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	reply := &Message{
		ID:         ulid.Make().String(),
		FromUserID: u.ID,
		ToUserID:   original.FromUserID,
		Content:    req.Content,
		ReplyToID:  original.ID,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Create(ctx, reply); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.bus.PublishNew(eventbus.KindChatIncoming, eventbus.Event{
		UserID: reply.ToUserID,
		Title:  reply.Content,
		Meta:   map[string]string{"messageId": reply.ID, "from": reply.FromUserID},
	})
	cerr.SetJSONResponse(ctx, map[string]any{"message": reply})
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	messages, err := s.repo.ListByUser(ctx, u.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"messages": messages})
}

func (s *Server) Unread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	pending, err := s.repo.PendingFor(ctx, u.ID, "")
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"unread": len(pending)})
}
