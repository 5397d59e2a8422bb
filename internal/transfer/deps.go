package transfer

import (
	"context"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/relay"
)

// Inventory gives read access to actors and items and runs mutations
// atomically. Lookups return (nil, nil) when the row does not exist.
type Inventory interface {
	Actor(ctx context.Context, id int64) (*model.Actor, error)
	Item(ctx context.Context, id int64) (*model.Item, error)
	WithinTx(ctx context.Context, fn func(tx InventoryTx) error) error
}

// InventoryTx is the transactional view handed to Inventory.WithinTx. A
// transfer request transitioned through it changes together with the items.
type InventoryTx interface {
	TransitionTransferRequest(ctx context.Context, id string, from model.TransferStatus, to model.TransferTransition) (bool, error)
	Actor(ctx context.Context, id int64) (*model.Actor, error)
	Item(ctx context.Context, id int64) (*model.Item, error)
	CreateItem(ctx context.Context, in model.NewItem) (*model.Item, error)
	UpdateItemQuantity(ctx context.Context, id int64, quantity int) error
	DeleteItem(ctx context.Context, id int64) error
	RecordMove(ctx context.Context, m model.ItemMove) error
}

// Directory resolves users and answers permission questions.
type Directory interface {
	User(ctx context.Context, id int64) (*model.User, error)
	HasOwnerPermission(ctx context.Context, userID int64, actor *model.Actor) (bool, error)
	// ActorOwners lists non-gamemaster users with owner permission on actor.
	ActorOwners(ctx context.Context, actor *model.Actor) ([]int64, error)
	// RelayUsers lists the privileged relay accounts.
	RelayUsers(ctx context.Context) ([]int64, error)
}

// Requests persists transfer requests.
type Requests interface {
	CreateTransferRequest(ctx context.Context, t *model.TransferRequest) error
	GetTransferRequest(ctx context.Context, id string) (*model.TransferRequest, error)
	TransitionTransferRequest(ctx context.Context, id string, from model.TransferStatus, to model.TransferTransition) (bool, error)
	ListOpenTransferRequests(ctx context.Context) ([]model.TransferRequest, error)
	ListTransferRequests(ctx context.Context, userID int64) ([]model.TransferRequest, error)
}

// Notifier delivers private notices. Retract deletes the live notices
// correlated to a request, all of them when no kinds are given; retracting
// something already gone is a no-op.
type Notifier interface {
	Send(ctx context.Context, d model.NoticeDraft) (*model.Notice, error)
	Retract(ctx context.Context, correlationID string, kinds ...model.NoticeKind) error
}

// Relay executes operations with game-master privileges.
type Relay interface {
	Ready(ctx context.Context) bool
	Execute(ctx context.Context, op string, payload any) (relay.Result, error)
}

// Settings provides the externally configured transfer policy.
type Settings interface {
	TransferSettings(ctx context.Context) (model.TransferSettings, error)
}
