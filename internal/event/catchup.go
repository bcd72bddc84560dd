package event

import (
	"context"
	"log/slog"

	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/message"
)

// replayPending re-sends the caller's unacknowledged chat turns created
// after the resume marker, before live delivery starts. Delivery is
// at-least-once; the replayed events reuse the message id so consumers can
// drop duplicates.
func replayPending(ctx context.Context, messages message.Repository, userID, lastEventID string, c Conn) {
	pending, err := messages.PendingFor(ctx, userID, lastEventID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load catch-up messages", "user_id", userID, "error", err)
		return
	}
	for _, m := range pending {
		ev := eventbus.Event{
			ID:        m.ID,
			Kind:      eventbus.KindChatIncoming,
			UserID:    m.ToUserID,
			Title:     m.Content,
			Meta:      map[string]string{"messageId": m.ID, "from": m.FromUserID},
			CreatedAt: m.CreatedAt,
		}
		if err := c.Send(ev); err != nil {
			return
		}
	}
}
