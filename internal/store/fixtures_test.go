package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/erazemk/squire/internal/model"
)

// table is a small campaign used across store tests.
type table struct {
	gm, alice, bob int64
	aria, brom     int64
}

func seedTable(t *testing.T, database *sql.DB) table {
	t.Helper()
	ctx := context.Background()

	gm, err := CreateUser(ctx, database, "gm", "hash", model.RoleGamemaster)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	alice, _ := CreateUser(ctx, database, "alice", "hash", model.RolePlayer)
	bob, _ := CreateUser(ctx, database, "bob", "hash", model.RolePlayer)

	aria, err := CreateActor(ctx, database, "Aria", model.ActorTypeCharacter, model.PermissionNone)
	if err != nil {
		t.Fatalf("CreateActor: %v", err)
	}
	brom, _ := CreateActor(ctx, database, "Brom", model.ActorTypeCharacter, model.PermissionNone)

	if err := SetOwnership(ctx, database, aria.ID, alice.ID, model.PermissionOwner); err != nil {
		t.Fatalf("SetOwnership: %v", err)
	}
	SetOwnership(ctx, database, brom.ID, bob.ID, model.PermissionOwner)

	return table{gm: gm.ID, alice: alice.ID, bob: bob.ID, aria: aria.ID, brom: brom.ID}
}
