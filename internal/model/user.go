package model

import (
	"fmt"
	"time"
)

// User represents an authenticated account at the table.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Roles. Game masters act as the privileged relay for transfers and
// implicitly own every actor.
const (
	RoleGamemaster = "gamemaster"
	RoleAssistant  = "assistant"
	RolePlayer     = "player"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleGamemaster: 3,
		RoleAssistant:  2,
		RolePlayer:     1,
	}
	return levels[role] >= levels[minimum] && levels[minimum] > 0
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleGamemaster || role == RoleAssistant || role == RolePlayer
}

// IsGamemaster reports whether the user is a privileged relay account.
func (u *User) IsGamemaster() bool {
	return u != nil && u.Role == RoleGamemaster
}

// ValidatePassword checks password strength requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}
