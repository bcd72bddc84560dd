package message

import "time"

type Status string

const (
	// StatusPending marks a message not yet acknowledged by its recipient.
	// Pending messages are the reconnect catch-up source.
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
)

// Message is one chat turn between a user and a worker.
type Message struct {
	ID         string    `yaml:"id" json:"id"`
	FromUserID string    `yaml:"from_user_id" json:"fromUserId"`
	ToUserID   string    `yaml:"to_user_id" json:"toUserId"`
	Content    string    `yaml:"content" json:"content"`
	ReplyToID  string    `yaml:"reply_to_id,omitempty" json:"replyToId,omitempty"`
	Status     Status    `yaml:"status" json:"status"`
	CreatedAt  time.Time `yaml:"created_at" json:"createdAt"`
}
