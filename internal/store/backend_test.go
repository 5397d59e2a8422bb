package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/erazemk/squire/internal/clock"
	"github.com/erazemk/squire/internal/db"
	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/notify"
	"github.com/erazemk/squire/internal/relay"
	"github.com/erazemk/squire/internal/store"
	"github.com/erazemk/squire/internal/transfer"
)

// newCoordinator wires a coordinator to database the way the server does.
func newCoordinator(t *testing.T, database *sql.DB, notices *notify.Service, clk clock.Clock) *transfer.Coordinator {
	t.Helper()
	backend := &store.Backend{DB: database}
	rel := relay.New(nil)
	coord := transfer.New(transfer.Deps{
		Inventory: backend,
		Directory: backend,
		Requests:  backend,
		Notifier:  notices,
		Relay:     rel,
		Settings:  backend,
	}, transfer.WithClock(clk))
	rel.Register(transfer.OpMoveItem, coord.RelayHandler())
	t.Cleanup(coord.Stop)
	return coord
}

// TestBackendRunsTransfer drives a full handshake against sqlite.
func TestBackendRunsTransfer(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	gm, _ := store.CreateUser(ctx, database, "gm", "hash", model.RoleGamemaster)
	alice, _ := store.CreateUser(ctx, database, "alice", "hash", model.RolePlayer)
	bob, _ := store.CreateUser(ctx, database, "bob", "hash", model.RolePlayer)
	aria, _ := store.CreateActor(ctx, database, "Aria", model.ActorTypeCharacter, model.PermissionNone)
	brom, _ := store.CreateActor(ctx, database, "Brom", model.ActorTypeCharacter, model.PermissionNone)
	store.SetOwnership(ctx, database, aria.ID, alice.ID, model.PermissionOwner)
	store.SetOwnership(ctx, database, brom.ID, bob.ID, model.PermissionOwner)
	arrows, err := store.CreateItem(ctx, database, model.NewItem{ActorID: aria.ID, Name: "Arrows", Quantity: model.IntPtr(5)})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	store.SetItemIcon(ctx, database, arrows.ID, []byte("png"), "image/png")

	if err := store.SetTransferSettings(ctx, database, model.TransferSettings{ApprovalRequired: true, TimeoutSeconds: 60}); err != nil {
		t.Fatalf("SetTransferSettings: %v", err)
	}

	clk := clock.NewManual(time.Now().UTC())
	notices := notify.NewService(database, nil, clk)
	coord := newCoordinator(t, database, notices, clk)

	req, err := coord.Initiate(ctx, transfer.InitiateInput{
		UserID: alice.ID, SourceActorID: aria.ID, TargetActorID: brom.ID,
		ItemID: arrows.ID, Quantity: 2, HasQuantity: true,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if req.Stage != model.StageAwaitingApproval {
		t.Fatalf("expected awaiting approval, got %s", req.Stage)
	}

	gmNotices, _ := notices.ListForUser(ctx, gm.ID)
	if len(gmNotices) != 1 || gmNotices[0].Kind != model.NoticeApprovalRequest {
		t.Fatalf("expected one approval request for the gm, got %v", gmNotices)
	}

	if _, err := coord.Approve(ctx, gm.ID, req.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	bobNotices, _ := notices.ListForUser(ctx, bob.ID)
	if len(bobNotices) != 1 || bobNotices[0].Kind != model.NoticeTransferRequest {
		t.Fatalf("expected one transfer request for bob, got %v", bobNotices)
	}

	done, err := coord.Accept(ctx, bob.ID, req.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if done.Status != model.TransferCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}

	stored, _ := store.GetTransferRequest(ctx, database, req.ID)
	if stored.Status != model.TransferCompleted || stored.ResolvedBy == nil || *stored.ResolvedBy != bob.ID {
		t.Errorf("unexpected stored request %+v", stored)
	}

	src, _ := store.GetItem(ctx, database, arrows.ID)
	if src == nil || *src.Quantity != 3 {
		t.Errorf("expected 3 arrows left on Aria, got %+v", src)
	}
	items, _ := store.ListActorItems(ctx, database, brom.ID)
	if len(items) != 1 || *items[0].Quantity != 2 || !items[0].RecentlyAdded {
		t.Fatalf("expected 2 recently added arrows on Brom, got %+v", items)
	}
	if items[0].IconMime != "image/png" {
		t.Errorf("expected icon to travel with the item, got %q", items[0].IconMime)
	}

	moves, _ := store.ListActorMoves(ctx, database, brom.ID)
	if len(moves) != 1 || !moves[0].ViaRelay || moves[0].TransferRequestID != req.ID {
		t.Errorf("unexpected move ledger %+v", moves)
	}

	for _, u := range []*model.User{alice, bob, gm} {
		live, _ := notices.ListForUser(ctx, u.ID)
		if len(live) != 1 || live[0].Kind != model.NoticeCompleted {
			t.Errorf("expected only a completed notice for %s, got %v", u.Username, live)
		}
	}

	if _, err := coord.Accept(ctx, bob.ID, req.ID); err == nil {
		t.Error("expected second accept to be refused")
	}
}

// TestBackendAcceptOnTwoInstancesMovesOnce accepts the same request on two
// coordinators sharing one database. The second accept must not move the
// item again.
func TestBackendAcceptOnTwoInstancesMovesOnce(t *testing.T) {
	first, second := db.NewSharedTestDB(t)
	ctx := context.Background()

	alice, _ := store.CreateUser(ctx, first, "alice", "hash", model.RolePlayer)
	bob, _ := store.CreateUser(ctx, first, "bob", "hash", model.RolePlayer)
	store.CreateUser(ctx, first, "gm", "hash", model.RoleGamemaster)
	aria, _ := store.CreateActor(ctx, first, "Aria", model.ActorTypeCharacter, model.PermissionNone)
	brom, _ := store.CreateActor(ctx, first, "Brom", model.ActorTypeCharacter, model.PermissionNone)
	store.SetOwnership(ctx, first, aria.ID, alice.ID, model.PermissionOwner)
	store.SetOwnership(ctx, first, brom.ID, bob.ID, model.PermissionOwner)
	arrows, err := store.CreateItem(ctx, first, model.NewItem{ActorID: aria.ID, Name: "Arrows", Quantity: model.IntPtr(5)})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := store.SetTransferSettings(ctx, first, model.TransferSettings{ApprovalRequired: false, TimeoutSeconds: 60}); err != nil {
		t.Fatalf("SetTransferSettings: %v", err)
	}

	clk := clock.NewManual(time.Now().UTC())
	a := newCoordinator(t, first, notify.NewService(first, nil, clk), clk)
	b := newCoordinator(t, second, notify.NewService(second, nil, clk), clk)

	req, err := a.Initiate(ctx, transfer.InitiateInput{
		UserID: alice.ID, SourceActorID: aria.ID, TargetActorID: brom.ID,
		ItemID: arrows.ID, Quantity: 2, HasQuantity: true,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if open, err := b.Restore(ctx); err != nil || open != 1 {
		t.Fatalf("Restore on second instance: open=%d err=%v", open, err)
	}

	if _, err := a.Accept(ctx, bob.ID, req.ID); err != nil {
		t.Fatalf("Accept on first instance: %v", err)
	}
	if _, err := b.Accept(ctx, bob.ID, req.ID); !errors.Is(err, transfer.ErrStaleAction) {
		t.Fatalf("expected stale action on second instance, got %v", err)
	}

	src, _ := store.GetItem(ctx, first, arrows.ID)
	if src == nil || *src.Quantity != 3 {
		t.Errorf("expected 3 arrows left on Aria, got %+v", src)
	}
	items, _ := store.ListActorItems(ctx, first, brom.ID)
	if len(items) != 1 || *items[0].Quantity != 2 {
		t.Errorf("expected one stack of 2 arrows on Brom, got %+v", items)
	}
	moves, _ := store.ListActorMoves(ctx, first, brom.ID)
	if len(moves) != 1 {
		t.Errorf("expected one recorded move, got %d", len(moves))
	}
	stored, _ := store.GetTransferRequest(ctx, first, req.ID)
	if stored.Status != model.TransferCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
}
