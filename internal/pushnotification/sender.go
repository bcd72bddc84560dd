package pushnotification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/crewline/crewline/internal/config"
	"github.com/crewline/crewline/internal/pushsubscription"
)

type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Sender pushes Web Push notifications to a user's registered browsers.
// Everything here is best-effort; a push failure never surfaces past a log
// line.
type Sender struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
}

func NewSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *Sender {
	return &Sender{vapidEnv: vapidEnv, repo: repo}
}

func (s *Sender) Configured() bool {
	return s.vapidEnv.VAPIDPublicKey != "" && s.vapidEnv.VAPIDPrivateKey != ""
}

func (s *Sender) SendToUser(ctx context.Context, userID string, payload *Payload) {
	if !s.Configured() {
		return
	}
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "push: failed to list subscriptions", "user_id", userID, "error", err)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "push: failed to marshal payload", "error", err)
		return
	}
	for _, sub := range subs {
		s.sendToSubscription(ctx, sub, data)
	}
}

func (s *Sender) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}
	resp, err := webpush.SendNotification(data, wpSub, &webpush.Options{
		VAPIDPublicKey:  s.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapidEnv.VAPIDPrivateKey,
		Subscriber:      s.vapidEnv.VAPIDSubject,
		TTL:             86400,
	})
	if err != nil {
		slog.ErrorContext(ctx, "push: failed to send", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		slog.InfoContext(ctx, "push: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			slog.ErrorContext(ctx, "push: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return
	}
	if resp.StatusCode >= 400 {
		slog.WarnContext(ctx, "push: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
