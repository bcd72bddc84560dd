package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/auth"
	"github.com/crewline/crewline/internal/config"
	"github.com/crewline/crewline/internal/event"
	"github.com/crewline/crewline/internal/message"
	"github.com/crewline/crewline/internal/notification"
	"github.com/crewline/crewline/internal/pushsubscription"
	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/token"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/clog"
)

type Server struct {
	server *http.Server

	env        *config.BaseEnv
	authware   *auth.Middleware
	taskServer *TaskServer
	stepServer *step.Server
	eventSrv   *event.Server
	chatServer *message.Server
	notifSrv   *notification.Server
	pushSrv    *pushsubscription.Server
	agentSrv   *agent.Server
	userSrv    *user.Server
	tokenSrv   *token.Server
}

func NewServer(
	env *config.BaseEnv,
	authware *auth.Middleware,
	taskServer *TaskServer,
	stepServer *step.Server,
	eventSrv *event.Server,
	chatServer *message.Server,
	notifSrv *notification.Server,
	pushSrv *pushsubscription.Server,
	agentSrv *agent.Server,
	userSrv *user.Server,
	tokenSrv *token.Server,
) *Server {
	return &Server{
		env:        env,
		authware:   authware,
		taskServer: taskServer,
		stepServer: stepServer,
		eventSrv:   eventSrv,
		chatServer: chatServer,
		notifSrv:   notifSrv,
		pushSrv:    pushSrv,
		agentSrv:   agentSrv,
		userSrv:    userSrv,
		tokenSrv:   tokenSrv,
	}
}

// ListenAndServe starts the HTTP server. The provided context becomes the
// base context of every request, so cancelling it on shutdown also ends the
// event streams instead of waiting them out.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
			s.authware.Handler,
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskServer.Create)
			r.Get("/", s.taskServer.List)
			r.Get("/{taskID}", s.taskServer.Get)
		})

		r.Route("/steps/{stepID}", func(r chi.Router) {
			r.Post("/claim", s.stepServer.Claim)
			r.Post("/submit", s.stepServer.Submit)
			r.Post("/approve", s.stepServer.Approve)
			r.Post("/reject", s.stepServer.Reject)
			r.Post("/appeal", s.stepServer.Appeal)
			r.Post("/resolve-appeal", s.stepServer.ResolveAppeal)
			r.Post("/skip", s.stepServer.Skip)
			r.Post("/decompose", s.stepServer.Decompose)
			r.Get("/history", s.stepServer.History)
		})

		r.Get("/my/steps", s.stepServer.MySteps)

		r.Get("/events", s.eventSrv.Stream)
		r.Get("/events/ws", s.eventSrv.StreamWS)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/send", s.chatServer.Send)
			r.Post("/reply", s.chatServer.Reply)
			r.Get("/history", s.chatServer.History)
			r.Get("/unread", s.chatServer.Unread)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.notifSrv.List)
			r.Post("/read", s.notifSrv.MarkRead)
		})

		r.Route("/push", func(r chi.Router) {
			r.Post("/subscriptions", s.pushSrv.Subscribe)
			r.Get("/vapid-key", s.pushSrv.VAPIDKey)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Post("/register", s.agentSrv.Register)
			r.Get("/", s.agentSrv.List)
			r.Get("/my", s.agentSrv.My)
			r.Post("/status", s.agentSrv.UpdateStatus)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(auth.RequireAdmin).Post("/", s.userSrv.Create)
			r.Get("/", s.userSrv.List)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/", s.tokenSrv.Create)
			r.Get("/", s.tokenSrv.List)
			r.Delete("/{tokenID}", s.tokenSrv.Revoke)
		})
	})

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(r), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
