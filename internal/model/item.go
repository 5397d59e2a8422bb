package model

import (
	"encoding/json"
	"time"
)

// Item is a single inventory entry held by exactly one actor. Stackable items
// carry a quantity; unique items (a named sword, a key) leave it nil.
type Item struct {
	ID            int64           `json:"id"`
	ActorID       int64           `json:"actor_id"`
	Name          string          `json:"name"`
	Quantity      *int            `json:"quantity,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	IconMime      string          `json:"icon_mime,omitempty"`
	RecentlyAdded bool            `json:"recently_added"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Stackable reports whether the item has a quantity.
func (i *Item) Stackable() bool {
	return i.Quantity != nil
}

// Count returns the item's quantity, treating unique items as a single unit.
func (i *Item) Count() int {
	if i.Quantity == nil {
		return 1
	}
	return *i.Quantity
}

// NewItem holds the data needed to create an item on an actor.
type NewItem struct {
	ActorID       int64
	Name          string
	Quantity      *int
	Data          json.RawMessage
	Icon          []byte
	IconMime      string
	RecentlyAdded bool

	// IconFromItemID copies the icon of another item when set.
	IconFromItemID int64
}

// ItemMove is a ledger entry recording an executed move between two actors.
type ItemMove struct {
	ID                int64     `json:"id"`
	ItemID            int64     `json:"item_id"`
	NewItemID         int64     `json:"new_item_id"`
	ItemName          string    `json:"item_name"`
	FromActorID       int64     `json:"from_actor_id"`
	ToActorID         int64     `json:"to_actor_id"`
	Quantity          int       `json:"quantity"`
	TransferRequestID string    `json:"transfer_request_id,omitempty"`
	ExecutedBy        *int64    `json:"executed_by,omitempty"`
	ViaRelay          bool      `json:"via_relay"`
	MovedAt           time.Time `json:"moved_at"`

	// Joined fields (not always populated).
	FromActorName string `json:"from_actor_name,omitempty"`
	ToActorName   string `json:"to_actor_name,omitempty"`
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
