package pushsubscription

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/config"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

type Server struct {
	repo  Repository
	vapid *config.VAPIDEnv
}

func NewServer(repo Repository, vapid *config.VAPIDEnv) *Server {
	return &Server{repo: repo, vapid: vapid}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint and keys are required", nil)
		return
	}

	// Re-registering the same browser replaces the old record.
	if existing, err := s.repo.GetByEndpoint(ctx, req.Endpoint); err == nil {
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}
	sub := &Subscription{
		ID:        ulid.Make().String(),
		UserID:    u.ID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.Keys.P256dh,
		AuthKey:   req.Keys.Auth,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"subscription": sub})
}

// VAPIDKey exposes the public key the browser needs to subscribe.
func (s *Server) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), map[string]any{"publicKey": s.vapid.VAPIDPublicKey})
}
