package step

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
)

type Server struct {
	service *Service
}

func NewServer(service *Service) *Server {
	return &Server{service: service}
}

func caller(r *http.Request) (*user.User, bool) {
	return user.FromContext(r.Context())
}

// Claim races the caller against other claimants for a pending step. A lost
// race is a 409-style conflict the client should treat as "refresh", never
// as a hard failure.
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	st, claimed, err := s.service.Claim(ctx, chi.URLParam(r, "stepID"), u.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !claimed {
		cerr.SetNewJSONError(ctx, cerr.Aborted, "step already handled", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

type submitRequest struct {
	Result     string `json:"result"`
	Summary    string `json:"summary"`
	DurationMs int64  `json:"durationMs"`
}

func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Result == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "result is required", nil)
		return
	}
	st, err := s.service.Submit(ctx, chi.URLParam(r, "stepID"), u.ID, SubmitInput{
		Result:     req.Result,
		Summary:    req.Summary,
		DurationMs: req.DurationMs,
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

func (s *Server) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	st, err := s.service.Approve(ctx, chi.URLParam(r, "stepID"), u.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Reason == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "reason is required", nil)
		return
	}
	st, err := s.service.Reject(ctx, chi.URLParam(r, "stepID"), u.ID, req.Reason)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

type appealRequest struct {
	AppealText string `json:"appealText"`
}

func (s *Server) Appeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req appealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.AppealText == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "appealText is required", nil)
		return
	}
	st, err := s.service.Appeal(ctx, chi.URLParam(r, "stepID"), u.ID, req.AppealText)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

type resolveAppealRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

func (s *Server) ResolveAppeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req resolveAppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	st, err := s.service.ResolveAppeal(ctx, chi.URLParam(r, "stepID"), u.ID, AppealStatus(req.Decision), req.Note)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

type skipRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) Skip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req skipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	st, err := s.service.Skip(ctx, chi.URLParam(r, "stepID"), u.ID, req.Reason)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

// Decompose claims a decompose step, generates the breakdown and submits it
// in one call. The expansion into sibling steps happens on completion.
func (s *Server) Decompose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	st, err := s.service.ExecuteDecompose(ctx, chi.URLParam(r, "stepID"), u.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"step": st})
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subs, err := s.service.Submissions(ctx, chi.URLParam(r, "stepID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"submissions": subs})
}

// MySteps answers "what can I do now" for the calling worker.
func (s *Server) MySteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := caller(r)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	steps, err := s.service.MySteps(ctx, u.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"steps": steps})
}
