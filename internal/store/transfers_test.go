package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/squire/internal/db"
	"github.com/erazemk/squire/internal/model"
)

func newRequest(id string, tb table, at time.Time) *model.TransferRequest {
	return &model.TransferRequest{
		ID:             id,
		SourceActorID:  tb.aria,
		TargetActorID:  tb.brom,
		ItemID:         1,
		ItemName:       "Arrows",
		Quantity:       2,
		HasQuantity:    true,
		SourceUserID:   tb.alice,
		Status:         model.TransferPending,
		Stage:          model.StageAwaitingAcceptance,
		TimeoutSeconds: 60,
		Timestamp:      at,
	}
}

func TestCreateAndGetTransferRequest(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	tb := seedTable(t, database)
	at := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	if err := CreateTransferRequest(ctx, database, newRequest("req-1", tb, at)); err != nil {
		t.Fatalf("CreateTransferRequest: %v", err)
	}

	got, err := GetTransferRequest(ctx, database, "req-1")
	if err != nil {
		t.Fatalf("GetTransferRequest: %v", err)
	}
	if got.Status != model.TransferPending || got.Stage != model.StageAwaitingAcceptance {
		t.Errorf("unexpected state %s/%s", got.Status, got.Stage)
	}
	if !got.HasQuantity || got.Quantity != 2 {
		t.Errorf("unexpected quantity %d (has=%v)", got.Quantity, got.HasQuantity)
	}
	if !got.Timestamp.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, got.Timestamp)
	}
	if got.ResolvedAt != nil {
		t.Error("expected open request to have no resolved_at")
	}

	missing, err := GetTransferRequest(ctx, database, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestTransitionTransferRequestIsCompareAndSet(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	tb := seedTable(t, database)
	at := time.Now().UTC()
	CreateTransferRequest(ctx, database, newRequest("req-1", tb, at))

	ok, err := TransitionTransferRequest(ctx, database, "req-1", model.TransferPending, model.TransferTransition{
		Status:     model.TransferCompleted,
		Stage:      model.StageAwaitingAcceptance,
		ResolvedBy: &tb.bob,
		At:         at.Add(time.Second),
	})
	if err != nil || !ok {
		t.Fatalf("expected first transition to apply, got (%v, %v)", ok, err)
	}

	ok, err = TransitionTransferRequest(ctx, database, "req-1", model.TransferPending, model.TransferTransition{
		Status: model.TransferExpired,
		Stage:  model.StageAwaitingAcceptance,
		At:     at.Add(2 * time.Second),
	})
	if err != nil || ok {
		t.Fatalf("expected second transition to be refused, got (%v, %v)", ok, err)
	}

	got, _ := GetTransferRequest(ctx, database, "req-1")
	if got.Status != model.TransferCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.ResolvedAt == nil || got.ResolvedBy == nil || *got.ResolvedBy != tb.bob {
		t.Errorf("expected resolution by bob, got %+v", got)
	}
}

func TestTransitionRecordsFailure(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	tb := seedTable(t, database)
	CreateTransferRequest(ctx, database, newRequest("req-1", tb, time.Now().UTC()))

	TransitionTransferRequest(ctx, database, "req-1", model.TransferPending, model.TransferTransition{
		Status:  model.TransferFailed,
		Stage:   model.StageAwaitingAcceptance,
		Failure: "privileged relay unavailable",
		At:      time.Now(),
	})

	got, _ := GetTransferRequest(ctx, database, "req-1")
	if got.Failure != "privileged relay unavailable" {
		t.Errorf("expected failure reason, got %q", got.Failure)
	}
}

func TestListOpenAndVisibleTransferRequests(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	tb := seedTable(t, database)
	at := time.Now().UTC()

	CreateTransferRequest(ctx, database, newRequest("req-1", tb, at))
	CreateTransferRequest(ctx, database, newRequest("req-2", tb, at.Add(time.Second)))
	TransitionTransferRequest(ctx, database, "req-2", model.TransferPending, model.TransferTransition{
		Status: model.TransferRejected, Stage: model.StageAwaitingAcceptance, At: at,
	})

	open, err := ListOpenTransferRequests(ctx, database)
	if err != nil {
		t.Fatalf("ListOpenTransferRequests: %v", err)
	}
	if len(open) != 1 || open[0].ID != "req-1" {
		t.Errorf("expected only req-1 open, got %v", open)
	}

	all, _ := ListTransferRequests(ctx, database, 0)
	if len(all) != 2 {
		t.Errorf("expected 2 requests, got %d", len(all))
	}

	mine, _ := ListTransferRequests(ctx, database, tb.alice)
	if len(mine) != 2 {
		t.Errorf("expected alice to see her 2 requests, got %d", len(mine))
	}

	// Bob sees a request only once he is notified about it.
	bobs, _ := ListTransferRequests(ctx, database, tb.bob)
	if len(bobs) != 0 {
		t.Errorf("expected bob to see nothing yet, got %d", len(bobs))
	}
	CreateNotice(ctx, database, model.NoticeDraft{
		CorrelationID: "req-1", Kind: model.NoticeTransferRequest,
		Title: "Incoming transfer", Body: "Aria offers 2× Arrows to Brom.",
		Recipients: []int64{tb.bob},
	})
	bobs, _ = ListTransferRequests(ctx, database, tb.bob)
	if len(bobs) != 1 || bobs[0].ID != "req-1" {
		t.Errorf("expected bob to see req-1, got %v", bobs)
	}
}
