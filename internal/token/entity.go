package token

import "time"

// APIToken is a long-lived bearer credential minted for CLI and agent
// processes. Only the SHA-256 hash of the secret is persisted; the plaintext
// ("ta_" prefixed) is shown once at creation.
type APIToken struct {
	ID         string     `yaml:"id" json:"id"`
	UserID     string     `yaml:"user_id" json:"userId"`
	Name       string     `yaml:"name" json:"name"`
	Hash       string     `yaml:"hash" json:"-"`
	CreatedAt  time.Time  `yaml:"created_at" json:"createdAt"`
	LastUsedAt *time.Time `yaml:"last_used_at,omitempty" json:"lastUsedAt,omitempty"`
}
