package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewline/crewline/internal/agent"
	agentrepo "github.com/crewline/crewline/internal/agent/repositoryimpl"
	"github.com/crewline/crewline/internal/auth"
	"github.com/crewline/crewline/internal/autoexec"
	"github.com/crewline/crewline/internal/config"
	"github.com/crewline/crewline/internal/event"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/llm"
	"github.com/crewline/crewline/internal/message"
	messagerepo "github.com/crewline/crewline/internal/message/repositoryimpl"
	"github.com/crewline/crewline/internal/notification"
	notificationrepo "github.com/crewline/crewline/internal/notification/repositoryimpl"
	"github.com/crewline/crewline/internal/pushnotification"
	"github.com/crewline/crewline/internal/pushsubscription"
	pushsubrepo "github.com/crewline/crewline/internal/pushsubscription/repositoryimpl"
	"github.com/crewline/crewline/internal/server"
	"github.com/crewline/crewline/internal/step"
	steprepo "github.com/crewline/crewline/internal/step/repositoryimpl"
	taskrepo "github.com/crewline/crewline/internal/task/repositoryimpl"
	"github.com/crewline/crewline/internal/token"
	tokenrepo "github.com/crewline/crewline/internal/token/repositoryimpl"
	"github.com/crewline/crewline/internal/user"
	userrepo "github.com/crewline/crewline/internal/user/repositoryimpl"
	"github.com/crewline/crewline/internal/workflow"
	"github.com/crewline/crewline/pkg/clog"
	"github.com/crewline/crewline/pkg/panicerr"
	"github.com/crewline/crewline/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3(context.Background(), env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocal(env.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	userRepo := userrepo.NewYAMLRepository(store)
	tokenRepo := tokenrepo.NewYAMLRepository(store)
	agentRepo := agentrepo.NewYAMLRepository(store)
	taskRepo := taskrepo.NewYAMLRepository(store)
	stepRepo := steprepo.NewYAMLRepository(store)
	messageRepo := messagerepo.NewYAMLRepository(store)
	notificationRepo := notificationrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Setup step engine
	executorEnv := config.ExecutorEnvFromEnv(env)
	capability, err := llm.New(executorEnv)
	if err != nil {
		slog.Error("failed to create executor capability", "error", err)
		os.Exit(1)
	}
	if capability == nil {
		slog.Info("no executor credentials, automatic execution disabled")
	}
	summaryCapability := capability
	if o, ok := capability.(*llm.OpenAI); ok {
		summaryCapability = o.WithModel(executorEnv.FastModel)
	}

	stepService := step.NewService(stepRepo, taskRepo, agentRepo, bus)
	stepService.SetCapability(capability, executorEnv.Timeout)
	stepService.SetSummarizer(llm.NewSummarizer(summaryCapability))
	stepService.SetAdjuster(workflow.NewAdjuster(capability, stepRepo, 0))
	stepService.SetDecomposer(workflow.NewDecomposer(agentRepo))

	guard := autoexec.NewGuard(executorEnv.Concurrency)
	executor := autoexec.New(stepService, stepRepo, taskRepo, agentRepo, guard, capability, executorEnv.AutoExecuteEnabled, executorEnv.Timeout)
	stepService.SetAutoExecutor(executor)

	// Setup auth
	authware := auth.NewMiddleware(userRepo, tokenRepo, env.APIKey)

	// Setup broadcaster and dispatchers
	broadcaster := event.NewBroadcaster()
	notificationDispatcher := notification.NewDispatcher(notificationRepo, bus)
	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, pushSubRepo)
	pushDispatcher := pushnotification.NewDispatcher(pushSender, bus)

	// Setup servers
	taskServer := server.NewTaskServer(taskRepo, agentRepo, stepRepo, stepService, bus)
	stepServer := step.NewServer(stepService)
	eventServer := event.NewServer(broadcaster, messageRepo, agentRepo)
	chatServer := message.NewServer(messageRepo, bus)
	notificationServer := notification.NewServer(notificationRepo)
	pushServer := pushsubscription.NewServer(pushSubRepo, vapidEnv)
	agentServer := agent.NewServer(agentRepo)
	userServer := user.NewServer(userRepo)
	tokenServer := token.NewServer(tokenRepo, authware)

	srv := server.NewServer(
		config.BaseEnvFromEnv(env),
		authware,
		taskServer,
		stepServer,
		eventServer,
		chatServer,
		notificationServer,
		pushServer,
		agentServer,
		userServer,
		tokenServer,
	)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// A panicking dispatcher should not take the process down; recover it
	// and log like any other background failure.
	background := func(name string, fn func(context.Context)) {
		panicerr.Go(func() error {
			fn(ctx)
			return nil
		}, func(err error) {
			if err != nil {
				slog.Error("background worker failed", "worker", name, "error", err)
			}
		})
	}
	background("broadcaster", func(ctx context.Context) { broadcaster.Dispatch(ctx, bus) })
	background("heartbeat", func(ctx context.Context) { broadcaster.StartHeartbeat(ctx, event.HeartbeatInterval) })
	background("notifications", notificationDispatcher.Start)
	background("push", pushDispatcher.Start)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active streams time to end after their contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	executor.Wait()
}
