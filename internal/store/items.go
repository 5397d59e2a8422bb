package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/erazemk/squire/internal/model"
)

const itemColumns = `id, actor_id, name, quantity, data, icon_mime, recently_added, created_at, updated_at`

// CreateItem creates an item on an actor.
func CreateItem(ctx context.Context, db DBTX, in model.NewItem) (*model.Item, error) {
	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	var data, iconMime sql.NullString
	if len(in.Data) > 0 {
		data = sql.NullString{String: string(in.Data), Valid: true}
	}
	if in.IconMime != "" {
		iconMime = sql.NullString{String: in.IconMime, Valid: true}
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO items (actor_id, name, quantity, data, icon, icon_mime, recently_added)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ActorID, in.Name, in.Quantity, data, in.Icon, iconMime, in.RecentlyAdded,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	if in.IconFromItemID != 0 && len(in.Icon) == 0 {
		if _, err := db.ExecContext(ctx,
			`UPDATE items SET (icon, icon_mime) = (SELECT icon, icon_mime FROM items WHERE id = ?)
			 WHERE id = ?`, in.IconFromItemID, id,
		); err != nil {
			return nil, fmt.Errorf("copying item icon: %w", err)
		}
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID.
func GetItem(ctx context.Context, db DBTX, id int64) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var quantity sql.NullInt64
	var data, iconMime sql.NullString
	var recentlyAdded int
	if err := row.Scan(&item.ID, &item.ActorID, &item.Name, &quantity, &data, &iconMime,
		&recentlyAdded, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	if quantity.Valid {
		item.Quantity = model.IntPtr(int(quantity.Int64))
	}
	if data.Valid && data.String != "" {
		item.Data = json.RawMessage(data.String)
	}
	item.IconMime = iconMime.String
	item.RecentlyAdded = recentlyAdded != 0
	return item, nil
}

// ListActorItems returns the items held by an actor.
func ListActorItems(ctx context.Context, db DBTX, actorID int64) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE actor_id = ? ORDER BY name, id`, actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing actor items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItemQuantity sets a stackable item's quantity.
func UpdateItemQuantity(ctx context.Context, db DBTX, id int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	result, err := db.ExecContext(ctx,
		`UPDATE items SET quantity = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		quantity, id,
	)
	if err != nil {
		return fmt.Errorf("updating item quantity: %w", err)
	}
	return requireAffected(result)
}

// DeleteItem removes an item from its actor.
func DeleteItem(ctx context.Context, db DBTX, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return requireAffected(result)
}

// MarkItemSeen clears the recently-added flag.
func MarkItemSeen(ctx context.Context, db DBTX, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET recently_added = 0 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("marking item seen: %w", err)
	}
	return nil
}

// SetItemIcon sets an item's icon data.
func SetItemIcon(ctx context.Context, db DBTX, id int64, icon []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET icon = ?, icon_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		icon, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item icon: %w", err)
	}
	return requireAffected(result)
}

// GetItemIcon returns an item's icon data and MIME type.
func GetItemIcon(ctx context.Context, db DBTX, id int64) ([]byte, string, error) {
	var icon []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT icon, icon_mime FROM items WHERE id = ?`, id,
	).Scan(&icon, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item icon: %w", err)
	}
	return icon, mime.String, nil
}

// RecordMove appends an entry to the item move ledger.
func RecordMove(ctx context.Context, db DBTX, m model.ItemMove) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO item_moves (item_id, new_item_id, item_name, from_actor_id, to_actor_id,
		                         quantity, transfer_request_id, executed_by, via_relay)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ItemID, m.NewItemID, m.ItemName, m.FromActorID, m.ToActorID,
		m.Quantity, m.TransferRequestID, m.ExecutedBy, m.ViaRelay,
	)
	if err != nil {
		return fmt.Errorf("recording item move: %w", err)
	}
	return nil
}

// ListActorMoves returns the move history of an actor, newest first.
func ListActorMoves(ctx context.Context, db DBTX, actorID int64) ([]model.ItemMove, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT m.id, m.item_id, m.new_item_id, m.item_name, m.from_actor_id, m.to_actor_id,
		        m.quantity, COALESCE(m.transfer_request_id, ''), m.executed_by, m.via_relay, m.moved_at,
		        fa.name AS from_actor_name, ta.name AS to_actor_name
		 FROM item_moves m
		 JOIN actors fa ON fa.id = m.from_actor_id
		 JOIN actors ta ON ta.id = m.to_actor_id
		 WHERE m.from_actor_id = ? OR m.to_actor_id = ?
		 ORDER BY m.moved_at DESC, m.id DESC`, actorID, actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing actor moves: %w", err)
	}
	defer rows.Close()

	var moves []model.ItemMove
	for rows.Next() {
		var m model.ItemMove
		var viaRelay int
		if err := rows.Scan(&m.ID, &m.ItemID, &m.NewItemID, &m.ItemName, &m.FromActorID, &m.ToActorID,
			&m.Quantity, &m.TransferRequestID, &m.ExecutedBy, &viaRelay, &m.MovedAt,
			&m.FromActorName, &m.ToActorName); err != nil {
			return nil, fmt.Errorf("scanning item move: %w", err)
		}
		m.ViaRelay = viaRelay != 0
		moves = append(moves, m)
	}
	return moves, rows.Err()
}
