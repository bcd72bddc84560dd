package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

type registerRequest struct {
	Name         string   `json:"name"`
	Emoji        string   `json:"emoji"`
	Capabilities []string `json:"capabilities"`
	IsMain       bool     `json:"isMain"`
}

// Register creates the agent identity for the calling user. One agent per
// user: a second registration is rejected.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "name is required", nil)
		return
	}
	if existing, err := s.repo.GetByUserID(ctx, caller.ID); err == nil && existing != nil {
		cerr.SetNewJSONError(ctx, cerr.AlreadyExists, "agent already registered for this user", nil)
		return
	}

	a := &Agent{
		ID:           ulid.Make().String(),
		UserID:       caller.ID,
		Name:         req.Name,
		Emoji:        req.Emoji,
		Status:       StatusOffline,
		Capabilities: req.Capabilities,
		IsMain:       req.IsMain,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"agent": a})
}

func (s *Server) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agents, err := s.repo.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"agents": agents})
}

type updateStatusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus flips the calling user's agent between online, offline and
// working. Connected event streams report online automatically; this endpoint
// covers explicit changes from the CLI.
func (s *Server) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	switch req.Status {
	case StatusOnline, StatusOffline, StatusWorking:
	default:
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown status", nil)
		return
	}
	a, err := s.repo.GetByUserID(ctx, caller.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	a.Status = req.Status
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"agent": a})
}

// My returns the calling user's agent identity, if registered.
func (s *Server) My(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	a, err := s.repo.GetByUserID(ctx, caller.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"agent": a})
}
