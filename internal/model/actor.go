package model

import "time"

// Actor represents an inventory-holding entity: a character, an NPC or a container.
type Actor struct {
	ID                int64                     `json:"id"`
	Name              string                    `json:"name"`
	Type              string                    `json:"type"`
	DefaultPermission PermissionLevel           `json:"default_permission"`
	Ownership         map[int64]PermissionLevel `json:"ownership,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	DeletedAt         *time.Time                `json:"deleted_at,omitempty"`
}

// Actor types.
const (
	ActorTypeCharacter = "character"
	ActorTypeNPC       = "npc"
	ActorTypeContainer = "container"
)

// ValidActorType reports whether t is one of the known actor types.
func ValidActorType(t string) bool {
	return t == ActorTypeCharacter || t == ActorTypeNPC || t == ActorTypeContainer
}

// PermissionLevel is a user's access level on an actor.
type PermissionLevel int

// Permission levels, ordered.
const (
	PermissionNone     PermissionLevel = 0
	PermissionLimited  PermissionLevel = 1
	PermissionObserver PermissionLevel = 2
	PermissionOwner    PermissionLevel = 3
)

// Valid reports whether the level is one of the known levels.
func (p PermissionLevel) Valid() bool {
	return p >= PermissionNone && p <= PermissionOwner
}

func (p PermissionLevel) String() string {
	switch p {
	case PermissionNone:
		return "none"
	case PermissionLimited:
		return "limited"
	case PermissionObserver:
		return "observer"
	case PermissionOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// LevelFor returns the effective permission level of a non-gamemaster user.
// An explicit entry wins over the actor's default level.
func (a *Actor) LevelFor(userID int64) PermissionLevel {
	if level, ok := a.Ownership[userID]; ok {
		return level
	}
	return a.DefaultPermission
}

// HasOwnerPermission reports whether u may write to a's inventory directly.
// Game masters own every actor.
func HasOwnerPermission(u *User, a *Actor) bool {
	if u == nil || a == nil {
		return false
	}
	if u.IsGamemaster() {
		return true
	}
	return a.LevelFor(u.ID) >= PermissionOwner
}
