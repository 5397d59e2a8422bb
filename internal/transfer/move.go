package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/relay"
)

// OpMoveItem is the relay operation that executes a move with elevated rights.
const OpMoveItem = "transfer.move-item"

// Move is the inventory mutation of a transfer. It is also the relay payload.
// From and Stage are the request state the move was decided on; the move
// only runs if the stored request is still in that status.
type Move struct {
	RequestID     string               `json:"request_id"`
	ItemID        int64                `json:"item_id"`
	SourceActorID int64                `json:"source_actor_id"`
	TargetActorID int64                `json:"target_actor_id"`
	Quantity      int                  `json:"quantity"`
	HasQuantity   bool                 `json:"has_quantity"`
	ExecutedBy    int64                `json:"executed_by"`
	From          model.TransferStatus `json:"from"`
	Stage         model.TransferStage  `json:"stage"`
	At            time.Time            `json:"at"`
}

func moveFor(req *model.TransferRequest, executedBy int64, at time.Time) Move {
	return Move{
		RequestID:     req.ID,
		ItemID:        req.ItemID,
		SourceActorID: req.SourceActorID,
		TargetActorID: req.TargetActorID,
		Quantity:      req.Quantity,
		HasQuantity:   req.HasQuantity,
		ExecutedBy:    executedBy,
		From:          req.Status,
		Stage:         req.Stage,
		At:            at,
	}
}

// completion is the transition the move commits together with the items.
func (m Move) completion() model.TransferTransition {
	to := model.TransferTransition{
		Status: model.TransferCompleted,
		Stage:  m.Stage,
		At:     m.At,
	}
	if m.ExecutedBy != 0 {
		by := m.ExecutedBy
		to.ResolvedBy = &by
	}
	return to
}

// executeMove clones the item onto the target, tags the clone as recently
// added, then decrements or deletes the source item, all in one transaction.
// The same transaction completes the request, so a request resolved
// elsewhere fails with ErrStaleAction and moves nothing.
func (c *Coordinator) executeMove(ctx context.Context, m Move, viaRelay bool) (*model.Item, error) {
	var created *model.Item
	err := c.inventory.WithinTx(ctx, func(tx InventoryTx) error {
		ok, err := tx.TransitionTransferRequest(ctx, m.RequestID, m.From, m.completion())
		if err != nil {
			return fmt.Errorf("completing transfer request: %w", err)
		}
		if !ok {
			return ErrStaleAction
		}

		item, err := tx.Item(ctx, m.ItemID)
		if err != nil {
			return fmt.Errorf("loading item: %w", err)
		}
		if item == nil || item.ActorID != m.SourceActorID {
			return fmt.Errorf("%w: item %d is no longer held by actor %d", ErrNotFound, m.ItemID, m.SourceActorID)
		}

		target, err := tx.Actor(ctx, m.TargetActorID)
		if err != nil {
			return fmt.Errorf("loading target actor: %w", err)
		}
		if target == nil {
			return fmt.Errorf("%w: actor %d", ErrNotFound, m.TargetActorID)
		}

		moved := item.Count()
		clone := model.NewItem{
			ActorID:        target.ID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			Data:           append(json.RawMessage(nil), item.Data...),
			RecentlyAdded:  true,
			IconFromItemID: item.ID,
		}
		if m.HasQuantity {
			if !item.Stackable() || *item.Quantity < m.Quantity {
				return fmt.Errorf("%w: have %d, need %d", ErrInvalidTransfer, item.Count(), m.Quantity)
			}
			clone.Quantity = model.IntPtr(m.Quantity)
			moved = m.Quantity
		}

		created, err = tx.CreateItem(ctx, clone)
		if err != nil {
			return fmt.Errorf("creating item on target: %w", err)
		}

		if m.HasQuantity && m.Quantity < *item.Quantity {
			err = tx.UpdateItemQuantity(ctx, item.ID, *item.Quantity-m.Quantity)
		} else {
			err = tx.DeleteItem(ctx, item.ID)
		}
		if err != nil {
			return fmt.Errorf("updating source item: %w", err)
		}

		var executedBy *int64
		if m.ExecutedBy != 0 {
			executedBy = &m.ExecutedBy
		}
		return tx.RecordMove(ctx, model.ItemMove{
			ItemID:            item.ID,
			NewItemID:         created.ID,
			ItemName:          item.Name,
			FromActorID:       m.SourceActorID,
			ToActorID:         target.ID,
			Quantity:          moved,
			TransferRequestID: m.RequestID,
			ExecutedBy:        executedBy,
			ViaRelay:          viaRelay,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("item moved", "transfer", m.RequestID, "item", created.Name,
		"from", m.SourceActorID, "to", m.TargetActorID, "relay", viaRelay)
	return created, nil
}

// RelayHandler returns the handler serving OpMoveItem on the privileged relay.
func (c *Coordinator) RelayHandler() relay.Handler {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var m Move
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decoding move: %w", err)
		}
		return c.executeMove(ctx, m, true)
	}
}

// moveAs executes m directly when the user owns both actors and through the
// relay otherwise.
func (c *Coordinator) moveAs(ctx context.Context, userID int64, source, target *model.Actor, m Move) error {
	direct, err := c.ownsBoth(ctx, userID, source, target)
	if err != nil {
		return err
	}
	if direct {
		_, err := c.executeMove(ctx, m, false)
		return err
	}

	if !c.relay.Ready(ctx) {
		return ErrRelayUnavailable
	}
	res, err := c.relay.Execute(ctx, OpMoveItem, m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	if !res.Success {
		if cur, err := c.requests.GetTransferRequest(ctx, m.RequestID); err == nil && cur != nil && cur.Status != m.From {
			return ErrStaleAction
		}
		return fmt.Errorf("%w: %s", ErrRelayFailed, res.Error)
	}
	return nil
}
