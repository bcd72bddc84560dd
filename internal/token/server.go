package token

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

// CacheInvalidator evicts a revoked token from the auth cache so revocation
// takes effect immediately.
type CacheInvalidator interface {
	Invalidate(hash string)
}

type Server struct {
	repo  Repository
	cache CacheInvalidator
}

func NewServer(repo Repository, cache CacheInvalidator) *Server {
	return &Server{repo: repo, cache: cache}
}

type createRequest struct {
	Name string `json:"name"`
}

// Create mints a token for the calling user. The plaintext secret appears in
// the response and nowhere else.
func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "name is required", nil)
		return
	}

	secret, err := NewSecret()
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}
	t := &APIToken{
		ID:        ulid.Make().String(),
		UserID:    caller.ID,
		Name:      req.Name,
		Hash:      Hash(secret),
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"token": t, "secret": secret})
}

func (s *Server) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	tokens, err := s.repo.ListByUserID(ctx, caller.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"tokens": tokens})
}

func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	id := chi.URLParam(r, "tokenID")
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if t.UserID != caller.ID {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "token belongs to another user", nil)
		return
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.cache.Invalidate(t.Hash)
	cerr.SetJSONResponse(ctx, map[string]any{"revoked": true})
}
