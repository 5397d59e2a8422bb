package notify

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/squire/internal/clock"
	"github.com/erazemk/squire/internal/db"
	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newService(t *testing.T) (*Service, *recorder, *sql.DB, []int64) {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()

	var users []int64
	for _, name := range []string{"gm", "alice", "bob"} {
		role := model.RolePlayer
		if name == "gm" {
			role = model.RoleGamemaster
		}
		u, err := store.CreateUser(ctx, database, name, "hash", role)
		require.NoError(t, err)
		users = append(users, u.ID)
	}

	rec := &recorder{}
	return NewService(database, rec, clock.NewManual(time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC))), rec, database, users
}

func TestSendPersistsAndPublishes(t *testing.T) {
	svc, rec, _, users := newService(t)
	ctx := context.Background()

	n, err := svc.Send(ctx, model.NoticeDraft{
		CorrelationID: "req-1",
		Kind:          model.NoticeTransferRequest,
		Title:         "Incoming transfer",
		Body:          "Aria offers Sword to Brom.",
		Actions:       []string{model.ActionAccept, model.ActionReject},
		Recipients:    []int64{users[2]},
	})
	require.NoError(t, err)
	assert.NotZero(t, n.ID)

	listed, err := svc.ListForUser(ctx, users[2])
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, n.ID, listed[0].ID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, EventNotice, rec.events[0].Type)
	assert.Equal(t, []int64{users[2]}, rec.events[0].Recipients)
	assert.Equal(t, n.ID, rec.events[0].Notice.ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, rec, _, users := newService(t)
	ctx := context.Background()

	n, err := svc.Send(ctx, model.NoticeDraft{
		CorrelationID: "req-1", Kind: model.NoticeWaiting,
		Title: "Waiting", Body: "Waiting.", Recipients: []int64{users[1]},
	})
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = svc.Delete(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, []string{EventNotice, EventRetracted}, rec.types())

	got, err := svc.Get(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)))
}

func TestRetractByCorrelationAndKind(t *testing.T) {
	svc, rec, _, users := newService(t)
	ctx := context.Background()

	send := func(corr string, kind model.NoticeKind, to int64) {
		_, err := svc.Send(ctx, model.NoticeDraft{
			CorrelationID: corr, Kind: kind, Title: string(kind), Body: string(kind),
			Recipients: []int64{to},
		})
		require.NoError(t, err)
	}
	send("req-1", model.NoticeWaiting, users[1])
	send("req-1", model.NoticeApprovalRequest, users[0])
	send("req-1", model.NoticeTransferRequest, users[2])
	send("req-2", model.NoticeWaiting, users[1])

	require.NoError(t, svc.Retract(ctx, "req-1", model.NoticeWaiting, model.NoticeApprovalRequest))

	alice, _ := svc.ListForUser(ctx, users[1])
	require.Len(t, alice, 1)
	assert.Equal(t, "req-2", alice[0].CorrelationID)

	bob, _ := svc.ListForUser(ctx, users[2])
	assert.Len(t, bob, 1, "other kinds stay")

	require.NoError(t, svc.Retract(ctx, "req-1"))
	bob, _ = svc.ListForUser(ctx, users[2])
	assert.Empty(t, bob)

	// Retracting again is a no-op.
	before := len(rec.types())
	require.NoError(t, svc.Retract(ctx, "req-1"))
	assert.Len(t, rec.types(), before)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return ErrHubBusy }

func TestPublishFailureDoesNotFailSend(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	u, err := store.CreateUser(ctx, database, "alice", "hash", model.RolePlayer)
	require.NoError(t, err)

	svc := NewService(database, failingPublisher{}, nil)
	n, err := svc.Send(ctx, model.NoticeDraft{
		CorrelationID: "req-1", Kind: model.NoticeWaiting,
		Title: "Waiting", Body: "Waiting.", Recipients: []int64{u.ID},
	})
	require.NoError(t, err)
	assert.NotZero(t, n.ID)
}
