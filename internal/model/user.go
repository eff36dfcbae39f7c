// Package model defines the data structures used throughout the application.
//
// JSON tags use snake_case because the browser client reads these names
// directly (button_name, is_admin, tri).
package model

import "time"

// Tier is a user's administrative level, stored in the user.is_admin column.
type Tier int

const (
	TierUser       Tier = 0 // regular account
	TierAdmin      Tier = 1 // moderates buttons and categories
	TierSuperAdmin Tier = 2 // manages users and reads the audit log
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t >= TierUser && t <= TierSuperAdmin
}

// IsAdmin is true for both admin tiers.
func (t Tier) IsAdmin() bool {
	return t == TierAdmin || t == TierSuperAdmin
}

func (t Tier) IsSuperAdmin() bool {
	return t == TierSuperAdmin
}

// DefaultButtonSize is the board tile size (px) given to new accounts.
const DefaultButtonSize = 150

// User is an account row. PasswordHash never leaves the server: the json tag
// hides it from every response that embeds a User.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	BtnSize      int       `json:"btn_size"`
	Avatar       string    `json:"avatar,omitempty"` // stored filename, empty when unset
	ExternalID   string    `json:"-"`                // verifier subject, e.g. "github:583231"
	Tier         Tier      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserWithStats is the admin listing row.
type UserWithStats struct {
	User
	ButtonCount int `json:"button_count"`
}
