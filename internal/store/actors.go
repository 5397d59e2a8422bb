package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/squire/internal/model"
)

// CreateActor creates a new actor.
func CreateActor(ctx context.Context, db DBTX, name, actorType string, defaultPermission model.PermissionLevel) (*model.Actor, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO actors (name, type, default_permission) VALUES (?, ?, ?)`,
		name, actorType, int(defaultPermission),
	)
	if err != nil {
		return nil, fmt.Errorf("creating actor: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting actor id: %w", err)
	}

	return GetActor(ctx, db, id)
}

// GetActor returns a non-deleted actor by ID, including its ownership map.
func GetActor(ctx context.Context, db DBTX, id int64) (*model.Actor, error) {
	a := &model.Actor{}
	var defaultPermission int
	err := db.QueryRowContext(ctx,
		`SELECT id, name, type, default_permission, created_at, deleted_at
		 FROM actors WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&a.ID, &a.Name, &a.Type, &defaultPermission, &a.CreatedAt, &a.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting actor: %w", err)
	}
	a.DefaultPermission = model.PermissionLevel(defaultPermission)

	ownership, err := getOwnership(ctx, db, id)
	if err != nil {
		return nil, err
	}
	a.Ownership = ownership
	return a, nil
}

func getOwnership(ctx context.Context, db DBTX, actorID int64) (map[int64]model.PermissionLevel, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id, level FROM actor_ownership WHERE actor_id = ?`, actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting actor ownership: %w", err)
	}
	defer rows.Close()

	ownership := make(map[int64]model.PermissionLevel)
	for rows.Next() {
		var userID int64
		var level int
		if err := rows.Scan(&userID, &level); err != nil {
			return nil, fmt.Errorf("scanning actor ownership: %w", err)
		}
		ownership[userID] = model.PermissionLevel(level)
	}
	return ownership, rows.Err()
}

// ListActors returns all non-deleted actors, optionally filtered by type.
// Ownership maps are not populated.
func ListActors(ctx context.Context, db DBTX, actorType string) ([]model.Actor, error) {
	query := `SELECT id, name, type, default_permission, created_at, deleted_at
	          FROM actors WHERE deleted_at IS NULL`
	var args []any
	if actorType != "" {
		query += ` AND type = ?`
		args = append(args, actorType)
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing actors: %w", err)
	}
	defer rows.Close()

	var actors []model.Actor
	for rows.Next() {
		var a model.Actor
		var defaultPermission int
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &defaultPermission, &a.CreatedAt, &a.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning actor: %w", err)
		}
		a.DefaultPermission = model.PermissionLevel(defaultPermission)
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// UpdateActor updates an actor's name and default permission.
func UpdateActor(ctx context.Context, db DBTX, id int64, name string, defaultPermission model.PermissionLevel) error {
	result, err := db.ExecContext(ctx,
		`UPDATE actors SET name = ?, default_permission = ? WHERE id = ? AND deleted_at IS NULL`,
		name, int(defaultPermission), id,
	)
	if err != nil {
		return fmt.Errorf("updating actor: %w", err)
	}
	return requireAffected(result)
}

// SetOwnership sets a user's explicit permission level on an actor.
func SetOwnership(ctx context.Context, db DBTX, actorID, userID int64, level model.PermissionLevel) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO actor_ownership (actor_id, user_id, level) VALUES (?, ?, ?)
		 ON CONFLICT (actor_id, user_id) DO UPDATE SET level = excluded.level`,
		actorID, userID, int(level),
	)
	if err != nil {
		return fmt.Errorf("setting actor ownership: %w", err)
	}
	return nil
}

// DeleteActor soft-deletes an actor. Fails if the actor still holds items.
func DeleteActor(ctx context.Context, db DBTX, id int64) error {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE actor_id = ?`, id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking actor items: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("cannot delete actor: still holds %d items", count)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE actors SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting actor: %w", err)
	}
	return nil
}

// ListActorOwners returns the non-gamemaster users whose effective permission
// on the actor is owner, either explicitly or through the actor's default.
func ListActorOwners(ctx context.Context, db DBTX, actorID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT u.id
		 FROM users u
		 JOIN actors a ON a.id = ?
		 LEFT JOIN actor_ownership o ON o.actor_id = a.id AND o.user_id = u.id
		 WHERE u.deleted_at IS NULL AND u.role != ?
		   AND COALESCE(o.level, a.default_permission) >= ?
		 ORDER BY u.id`,
		actorID, model.RoleGamemaster, int(model.PermissionOwner),
	)
	if err != nil {
		return nil, fmt.Errorf("listing actor owners: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning owner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
