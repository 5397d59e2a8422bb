package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erazemk/squire/internal/clock"
	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/relay"
)

// world is an in-memory table: users, actors, items, transfer requests and
// the notices sent about them.
type world struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	actors   map[int64]*model.Actor
	items    map[int64]*model.Item
	nextItem int64
	moves    []model.ItemMove
	requests map[string]*model.TransferRequest
	settings model.TransferSettings

	notices    []*model.Notice
	nextNotice int64

	failMove error
}

func newWorld() *world {
	return &world{
		users:    make(map[int64]*model.User),
		actors:   make(map[int64]*model.Actor),
		items:    make(map[int64]*model.Item),
		requests: make(map[string]*model.TransferRequest),
		settings: model.TransferSettings{TimeoutSeconds: 60},
	}
}

func (w *world) addUser(id int64, name, role string) {
	w.users[id] = &model.User{ID: id, Username: name, Role: role}
}

func (w *world) addActor(id int64, name string, owners ...int64) {
	a := &model.Actor{ID: id, Name: name, Type: model.ActorTypeCharacter, Ownership: map[int64]model.PermissionLevel{}}
	for _, o := range owners {
		a.Ownership[o] = model.PermissionOwner
	}
	w.actors[id] = a
}

func (w *world) addItem(id, actorID int64, name string, quantity *int) {
	w.items[id] = &model.Item{ID: id, ActorID: actorID, Name: name, Quantity: quantity, Data: json.RawMessage(`{"weight":3}`)}
	if id >= w.nextItem {
		w.nextItem = id
	}
}

func (w *world) itemsOf(actorID int64) []model.Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Item
	for _, it := range w.items {
		if it.ActorID == actorID {
			out = append(out, *it)
		}
	}
	return out
}

// Inventory

func (w *world) Actor(_ context.Context, id int64) (*model.Actor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (w *world) Item(_ context.Context, id int64) (*model.Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (w *world) WithinTx(ctx context.Context, fn func(tx InventoryTx) error) error {
	if w.failMove != nil {
		return w.failMove
	}

	w.mu.Lock()
	saved := make(map[int64]model.Item, len(w.items))
	for id, it := range w.items {
		saved[id] = *it
	}
	savedRequests := make(map[string]model.TransferRequest, len(w.requests))
	for id, req := range w.requests {
		savedRequests[id] = *req
	}
	savedMoves := len(w.moves)
	w.mu.Unlock()

	if err := fn(worldTx{w}); err != nil {
		w.mu.Lock()
		w.items = make(map[int64]*model.Item, len(saved))
		for id, it := range saved {
			w.items[id] = &it
		}
		w.requests = make(map[string]*model.TransferRequest, len(savedRequests))
		for id, req := range savedRequests {
			w.requests[id] = &req
		}
		w.moves = w.moves[:savedMoves]
		w.mu.Unlock()
		return err
	}
	return nil
}

type worldTx struct{ w *world }

func (t worldTx) Actor(ctx context.Context, id int64) (*model.Actor, error) {
	return t.w.Actor(ctx, id)
}

func (t worldTx) Item(ctx context.Context, id int64) (*model.Item, error) {
	return t.w.Item(ctx, id)
}

func (t worldTx) TransitionTransferRequest(ctx context.Context, id string, from model.TransferStatus, to model.TransferTransition) (bool, error) {
	return t.w.TransitionTransferRequest(ctx, id, from, to)
}

func (t worldTx) CreateItem(_ context.Context, in model.NewItem) (*model.Item, error) {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	t.w.nextItem++
	it := &model.Item{
		ID:            t.w.nextItem,
		ActorID:       in.ActorID,
		Name:          in.Name,
		Quantity:      in.Quantity,
		Data:          in.Data,
		RecentlyAdded: in.RecentlyAdded,
	}
	t.w.items[it.ID] = it
	cp := *it
	return &cp, nil
}

func (t worldTx) UpdateItemQuantity(_ context.Context, id int64, quantity int) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	it, ok := t.w.items[id]
	if !ok {
		return errors.New("no such item")
	}
	it.Quantity = model.IntPtr(quantity)
	return nil
}

func (t worldTx) DeleteItem(_ context.Context, id int64) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if _, ok := t.w.items[id]; !ok {
		return errors.New("no such item")
	}
	delete(t.w.items, id)
	return nil
}

func (t worldTx) RecordMove(_ context.Context, m model.ItemMove) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	t.w.moves = append(t.w.moves, m)
	return nil
}

// Directory

func (w *world) User(_ context.Context, id int64) (*model.User, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (w *world) HasOwnerPermission(ctx context.Context, userID int64, a *model.Actor) (bool, error) {
	u, _ := w.User(ctx, userID)
	return model.HasOwnerPermission(u, a), nil
}

func (w *world) ActorOwners(_ context.Context, a *model.Actor) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int64
	for id, u := range w.users {
		if !u.IsGamemaster() && a.LevelFor(id) >= model.PermissionOwner {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (w *world) RelayUsers(_ context.Context) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int64
	for id, u := range w.users {
		if u.IsGamemaster() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Requests

func (w *world) CreateTransferRequest(_ context.Context, t *model.TransferRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *t
	w.requests[t.ID] = &cp
	return nil
}

func (w *world) GetTransferRequest(_ context.Context, id string) (*model.TransferRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (w *world) TransitionTransferRequest(_ context.Context, id string, from model.TransferStatus, to model.TransferTransition) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.requests[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to.Status
	t.Stage = to.Stage
	if to.Status.Terminal() {
		at := to.At
		t.ResolvedAt = &at
		t.ResolvedBy = to.ResolvedBy
		t.Failure = to.Failure
	}
	return true, nil
}

func (w *world) ListOpenTransferRequests(_ context.Context) ([]model.TransferRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.TransferRequest
	for _, t := range w.requests {
		if !t.Status.Terminal() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (w *world) ListTransferRequests(_ context.Context, userID int64) ([]model.TransferRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.TransferRequest
	for _, t := range w.requests {
		if userID == 0 || t.SourceUserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

// Settings

func (w *world) TransferSettings(_ context.Context) (model.TransferSettings, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings, nil
}

// Notifier

func (w *world) Send(_ context.Context, d model.NoticeDraft) (*model.Notice, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextNotice++
	n := &model.Notice{
		ID:            w.nextNotice,
		CorrelationID: d.CorrelationID,
		Kind:          d.Kind,
		Title:         d.Title,
		Body:          d.Body,
		Actions:       d.Actions,
		Recipients:    d.Recipients,
	}
	w.notices = append(w.notices, n)
	cp := *n
	return &cp, nil
}

func (w *world) Retract(_ context.Context, correlationID string, kinds ...model.NoticeKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for _, n := range w.notices {
		if n.CorrelationID != correlationID || n.DeletedAt != nil {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, n.Kind) {
			continue
		}
		n.DeletedAt = &now
	}
	return nil
}

// sent returns every notice of the given kind, live or retracted.
func (w *world) sent(kind model.NoticeKind) []model.Notice {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Notice
	for _, n := range w.notices {
		if n.Kind == kind {
			out = append(out, *n)
		}
	}
	return out
}

// live returns notices that have not been retracted.
func (w *world) live() []model.Notice {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Notice
	for _, n := range w.notices {
		if n.DeletedAt == nil {
			out = append(out, *n)
		}
	}
	return out
}

// inbox counts how many notices of kind a user received.
func (w *world) inbox(userID int64, kind model.NoticeKind) int {
	count := 0
	for _, n := range w.sent(kind) {
		for _, r := range n.Recipients {
			if r == userID {
				count++
			}
		}
	}
	return count
}

const (
	gm      int64 = 1
	alice   int64 = 2
	bob     int64 = 3
	charlie int64 = 4
)

const (
	aliceHero int64 = 10
	bobHero   int64 = 20
	chest     int64 = 30
)

const (
	sword   int64 = 100
	arrows  int64 = 101
	shield  int64 = 102
	potions int64 = 103
)

var epoch = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

type fixture struct {
	w      *world
	clock  *clock.Manual
	relay  *relay.Relay
	online bool
	c      *Coordinator
}

// newFixture builds a table with a game master, two players who each own a
// character, and a chest owned by nobody.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	w := newWorld()
	w.addUser(gm, "gm", model.RoleGamemaster)
	w.addUser(alice, "alice", model.RolePlayer)
	w.addUser(bob, "bob", model.RolePlayer)
	w.addUser(charlie, "charlie", model.RolePlayer)
	w.addActor(aliceHero, "Aria", alice)
	w.addActor(bobHero, "Brom", bob)
	w.addActor(chest, "Chest")
	w.addItem(sword, aliceHero, "Sword", nil)
	w.addItem(arrows, aliceHero, "Arrows", model.IntPtr(5))
	w.addItem(shield, aliceHero, "Shield", nil)
	w.addItem(potions, bobHero, "Potion", model.IntPtr(3))

	f := &fixture{w: w, clock: clock.NewManual(epoch), online: true}
	f.relay = relay.New(relay.PresenceFunc(func(context.Context) bool { return f.online }))

	n := 0
	f.c = New(Deps{
		Inventory: w,
		Directory: w,
		Requests:  w,
		Notifier:  w,
		Relay:     f.relay,
		Settings:  w,
	}, WithClock(f.clock), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}))
	f.relay.Register(OpMoveItem, f.c.RelayHandler())
	t.Cleanup(f.c.Stop)
	return f
}

func (f *fixture) initiate(t *testing.T, user, from, to, item int64, quantity int, hasQuantity bool) *model.TransferRequest {
	t.Helper()
	req, err := f.c.Initiate(context.Background(), InitiateInput{
		UserID:        user,
		SourceActorID: from,
		TargetActorID: to,
		ItemID:        item,
		Quantity:      quantity,
		HasQuantity:   hasQuantity,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) status(t *testing.T, id string) model.TransferStatus {
	t.Helper()
	req, err := f.c.Get(context.Background(), id)
	require.NoError(t, err)
	return req.Status
}
