package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/transfer"
)

// Backend exposes the store to the transfer coordinator.
type Backend struct {
	DB *sql.DB
}

var (
	_ transfer.Inventory = (*Backend)(nil)
	_ transfer.Directory = (*Backend)(nil)
	_ transfer.Requests  = (*Backend)(nil)
	_ transfer.Settings  = (*Backend)(nil)
)

func (b *Backend) Actor(ctx context.Context, id int64) (*model.Actor, error) {
	return GetActor(ctx, b.DB, id)
}

func (b *Backend) Item(ctx context.Context, id int64) (*model.Item, error) {
	return GetItem(ctx, b.DB, id)
}

// WithinTx runs fn in a transaction, committing only if fn succeeds.
func (b *Backend) WithinTx(ctx context.Context, fn func(tx transfer.InventoryTx) error) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(inventoryTx{tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (b *Backend) User(ctx context.Context, id int64) (*model.User, error) {
	u, err := GetUser(ctx, b.DB, id)
	if err != nil || u == nil || u.DeletedAt != nil {
		return nil, err
	}
	return u, nil
}

func (b *Backend) HasOwnerPermission(ctx context.Context, userID int64, actor *model.Actor) (bool, error) {
	u, err := b.User(ctx, userID)
	if err != nil {
		return false, err
	}
	return model.HasOwnerPermission(u, actor), nil
}

func (b *Backend) ActorOwners(ctx context.Context, actor *model.Actor) ([]int64, error) {
	return ListActorOwners(ctx, b.DB, actor.ID)
}

// RelayUsers returns the game masters, who act as the privileged relay.
func (b *Backend) RelayUsers(ctx context.Context) ([]int64, error) {
	return ListUserIDsByRole(ctx, b.DB, model.RoleGamemaster)
}

func (b *Backend) CreateTransferRequest(ctx context.Context, t *model.TransferRequest) error {
	return CreateTransferRequest(ctx, b.DB, t)
}

func (b *Backend) GetTransferRequest(ctx context.Context, id string) (*model.TransferRequest, error) {
	return GetTransferRequest(ctx, b.DB, id)
}

func (b *Backend) TransitionTransferRequest(ctx context.Context, id string, from model.TransferStatus, to model.TransferTransition) (bool, error) {
	return TransitionTransferRequest(ctx, b.DB, id, from, to)
}

func (b *Backend) ListOpenTransferRequests(ctx context.Context) ([]model.TransferRequest, error) {
	return ListOpenTransferRequests(ctx, b.DB)
}

func (b *Backend) ListTransferRequests(ctx context.Context, userID int64) ([]model.TransferRequest, error) {
	return ListTransferRequests(ctx, b.DB, userID)
}

func (b *Backend) TransferSettings(ctx context.Context) (model.TransferSettings, error) {
	return GetTransferSettings(ctx, b.DB)
}

type inventoryTx struct {
	tx *sql.Tx
}

func (t inventoryTx) Actor(ctx context.Context, id int64) (*model.Actor, error) {
	return GetActor(ctx, t.tx, id)
}

func (t inventoryTx) Item(ctx context.Context, id int64) (*model.Item, error) {
	return GetItem(ctx, t.tx, id)
}

func (t inventoryTx) TransitionTransferRequest(ctx context.Context, id string, from model.TransferStatus, to model.TransferTransition) (bool, error) {
	return TransitionTransferRequest(ctx, t.tx, id, from, to)
}

func (t inventoryTx) CreateItem(ctx context.Context, in model.NewItem) (*model.Item, error) {
	return CreateItem(ctx, t.tx, in)
}

func (t inventoryTx) UpdateItemQuantity(ctx context.Context, id int64, quantity int) error {
	return UpdateItemQuantity(ctx, t.tx, id, quantity)
}

func (t inventoryTx) DeleteItem(ctx context.Context, id int64) error {
	return DeleteItem(ctx, t.tx, id)
}

func (t inventoryTx) RecordMove(ctx context.Context, m model.ItemMove) error {
	return RecordMove(ctx, t.tx, m)
}
