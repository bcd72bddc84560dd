package user

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type User struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Email     string    `yaml:"email" json:"email"`
	Role      Role      `yaml:"role" json:"role"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}
