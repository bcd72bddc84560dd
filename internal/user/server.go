package user

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/pkg/cerr"
)

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

type createRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Create registers a user account. Only admins reach this handler; the router
// guards it.
func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "name is required", nil)
		return
	}
	if req.Role == "" {
		req.Role = RoleMember
	}
	if req.Role != RoleAdmin && req.Role != RoleMember {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown role", nil)
		return
	}

	u := &User{
		ID:        ulid.Make().String(),
		Name:      req.Name,
		Email:     req.Email,
		Role:      req.Role,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"user": u})
}

func (s *Server) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := s.repo.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"users": users})
}
