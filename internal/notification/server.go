package notification

import (
	"encoding/json"
	"net/http"

	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	notifications, err := s.repo.ListByUser(ctx, u.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"notifications": notifications})
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	marked := 0
	for _, id := range req.IDs {
		n, err := s.repo.Get(ctx, id)
		if err != nil || n.UserID != u.ID || n.Read {
			continue
		}
		n.Read = true
		if err := s.repo.Update(ctx, n); err == nil {
			marked++
		}
	}
	cerr.SetJSONResponse(ctx, map[string]any{"marked": marked})
}
