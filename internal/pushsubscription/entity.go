package pushsubscription

import "time"

// Subscription is one browser push endpoint registered by a user.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	UserID    string    `yaml:"user_id" json:"userId"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dhKey"`
	AuthKey   string    `yaml:"auth_key" json:"authKey"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}
