// Package transfer coordinates moving items between actors' inventories.
//
// A user who owns both actors moves items directly. Anyone else goes through
// a handshake of private notices: optionally a game master approves, then an
// owner of the receiving actor accepts or rejects. Every handshake is bounded
// by a timeout and ends in exactly one outcome: completed, rejected, expired
// or failed. Mutations the deciding user may not perform run on the
// privileged relay.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/erazemk/squire/internal/clock"
	"github.com/erazemk/squire/internal/model"
)

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Inventory Inventory
	Directory Directory
	Requests  Requests
	Notifier  Notifier
	Relay     Relay
	Settings  Settings
}

// Coordinator runs item transfers.
type Coordinator struct {
	inventory Inventory
	directory Directory
	requests  Requests
	notifier  Notifier
	relay     Relay
	settings  Settings
	clock     clock.Clock
	newID     func() string

	mu     sync.Mutex
	active map[string]*entry
}

// entry is the in-memory state of an open handshake. busy is taken
// synchronously before any call that can block, so a second action on the
// same request is rejected instead of running twice.
type entry struct {
	req       model.TransferRequest
	timer     clock.Timer
	busy      bool
	expireDue bool
	done      bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the system clock.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithIDGenerator overrides how request ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(co *Coordinator) {
		if fn != nil {
			co.newID = fn
		}
	}
}

// New creates a Coordinator.
func New(d Deps, opts ...Option) *Coordinator {
	c := &Coordinator{
		inventory: d.Inventory,
		directory: d.Directory,
		requests:  d.Requests,
		notifier:  d.Notifier,
		relay:     d.Relay,
		settings:  d.Settings,
		clock:     clock.NewSystem(),
		newID:     newRequestID,
		active:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newRequestID returns a UUIDv7, which sorts by creation time.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// InitiateInput describes a transfer a user wants to make.
type InitiateInput struct {
	UserID        int64
	SourceActorID int64
	TargetActorID int64
	ItemID        int64
	Quantity      int
	HasQuantity   bool
}

// Initiate starts a transfer. If the user owns both actors the item moves
// immediately and the returned request is completed. Otherwise a handshake
// starts and the returned request is pending.
func (c *Coordinator) Initiate(ctx context.Context, in InitiateInput) (*model.TransferRequest, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidTransfer)
	}
	if in.SourceActorID == in.TargetActorID {
		return nil, fmt.Errorf("%w: cannot transfer to the same actor", ErrInvalidTransfer)
	}

	user, err := c.directory.User(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, in.UserID)
	}

	source, err := c.inventory.Actor(ctx, in.SourceActorID)
	if err != nil {
		return nil, fmt.Errorf("loading source actor: %w", err)
	}
	target, err := c.inventory.Actor(ctx, in.TargetActorID)
	if err != nil {
		return nil, fmt.Errorf("loading target actor: %w", err)
	}
	if source == nil || target == nil {
		return nil, fmt.Errorf("%w: actor", ErrNotFound)
	}

	item, err := c.inventory.Item(ctx, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("loading item: %w", err)
	}
	if item == nil || item.ActorID != source.ID {
		return nil, fmt.Errorf("%w: item %d on actor %d", ErrNotFound, in.ItemID, source.ID)
	}

	quantity := in.Quantity
	if in.HasQuantity {
		if !item.Stackable() {
			return nil, fmt.Errorf("%w: %s has no quantity", ErrInvalidTransfer, item.Name)
		}
		if quantity > *item.Quantity {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInvalidTransfer, *item.Quantity, quantity)
		}
	} else {
		quantity = item.Count()
	}

	settings, err := c.settings.TransferSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading transfer settings: %w", err)
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = model.DefaultTransferSettings.TimeoutSeconds
	}

	req := &model.TransferRequest{
		ID:               c.newID(),
		SourceActorID:    source.ID,
		TargetActorID:    target.ID,
		ItemID:           item.ID,
		ItemName:         item.Name,
		Quantity:         quantity,
		HasQuantity:      in.HasQuantity,
		SourceUserID:     user.ID,
		Status:           model.TransferPending,
		Stage:            model.StagePending,
		ApprovalRequired: settings.ApprovalRequired,
		TimeoutSeconds:   settings.TimeoutSeconds,
		Timestamp:        c.clock.Now(),
	}
	if err := c.requests.CreateTransferRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("saving transfer request: %w", err)
	}

	direct, err := c.ownsBoth(ctx, user.ID, source, target)
	if err != nil {
		return nil, err
	}

	slog.Info("transfer initiated", "transfer", req.ID, "user", user.Username,
		"item", req.ItemName, "quantity", req.Quantity, "from", source.Name, "to", target.Name,
		"direct", direct)

	if direct {
		return c.completeDirect(ctx, user, req)
	}
	return c.startHandshake(ctx, req)
}

func (c *Coordinator) ownsBoth(ctx context.Context, userID int64, source, target *model.Actor) (bool, error) {
	src, err := c.directory.HasOwnerPermission(ctx, userID, source)
	if err != nil {
		return false, fmt.Errorf("checking source permission: %w", err)
	}
	if !src {
		return false, nil
	}
	tgt, err := c.directory.HasOwnerPermission(ctx, userID, target)
	if err != nil {
		return false, fmt.Errorf("checking target permission: %w", err)
	}
	return tgt, nil
}

func (c *Coordinator) completeDirect(ctx context.Context, user *model.User, req *model.TransferRequest) (*model.TransferRequest, error) {
	e := &entry{req: *req, busy: true}

	m := moveFor(req, user.ID, c.clock.Now())
	if _, err := c.executeMove(ctx, m, false); err != nil {
		return nil, c.abandon(ctx, e, user.ID, err)
	}
	c.settle(ctx, e, m.completion())

	title, body := completedText(c.describe(ctx, &e.req))
	if err := c.notify(ctx, &e.req, model.NoticeCompleted, title, body, c.completionAudience(ctx, &e.req)); err != nil {
		slog.Error("failed to send completion notice", "transfer", e.req.ID, "error", err)
	}

	out := c.snapshot(e)
	return &out, nil
}

func (c *Coordinator) startHandshake(ctx context.Context, req *model.TransferRequest) (*model.TransferRequest, error) {
	e := &entry{req: *req, busy: true}
	c.mu.Lock()
	c.active[req.ID] = e
	c.arm(e)
	c.mu.Unlock()

	p := c.describe(ctx, req)
	title, body := waitingText(p, req.ApprovalRequired)
	if err := c.notify(ctx, req, model.NoticeWaiting, title, body, []int64{req.SourceUserID}); err != nil {
		return nil, c.abandon(ctx, e, req.SourceUserID, err)
	}

	if req.ApprovalRequired {
		if err := c.requestApproval(ctx, e, p); err != nil {
			return nil, c.abandon(ctx, e, req.SourceUserID, err)
		}
	} else {
		if err := c.requestAcceptance(ctx, e, p, model.TransferPending); err != nil {
			return nil, c.abandon(ctx, e, req.SourceUserID, err)
		}
	}

	out := c.snapshot(e)
	c.release(e)
	return &out, nil
}

func (c *Coordinator) requestApproval(ctx context.Context, e *entry, p parties) error {
	relays, err := c.directory.RelayUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing relay users: %w", err)
	}
	if len(relays) == 0 {
		return fmt.Errorf("%w: no game master can approve transfers", ErrRelayUnavailable)
	}

	if err := c.setStage(ctx, e, model.TransferPending, model.StageAwaitingApproval); err != nil {
		return err
	}
	title, body := approvalRequestText(p)
	return c.notify(ctx, &e.req, model.NoticeApprovalRequest, title, body, relays,
		model.ActionApprove, model.ActionDeny)
}

func (c *Coordinator) requestAcceptance(ctx context.Context, e *entry, p parties, status model.TransferStatus) error {
	receivers, err := c.receivers(ctx, &e.req)
	if err != nil {
		return err
	}
	if len(receivers) == 0 {
		return fmt.Errorf("%w: nobody can accept transfers into %s", ErrRelayUnavailable, p.Target)
	}

	if err := c.setStage(ctx, e, status, model.StageAwaitingAcceptance); err != nil {
		return err
	}
	title, body := transferRequestText(p)
	return c.notify(ctx, &e.req, model.NoticeTransferRequest, title, body, receivers,
		model.ActionAccept, model.ActionReject)
}

// setStage records a non-terminal transition of a claimed entry.
func (c *Coordinator) setStage(ctx context.Context, e *entry, status model.TransferStatus, stage model.TransferStage) error {
	ok, err := c.requests.TransitionTransferRequest(ctx, e.req.ID, e.req.Status, model.TransferTransition{
		Status: status,
		Stage:  stage,
		At:     c.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("updating transfer request: %w", err)
	}
	if !ok {
		return ErrStaleAction
	}

	c.mu.Lock()
	e.req.Status = status
	e.req.Stage = stage
	c.mu.Unlock()
	return nil
}

// Get returns a transfer request by id.
func (c *Coordinator) Get(ctx context.Context, id string) (*model.TransferRequest, error) {
	req, err := c.requests.GetTransferRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading transfer request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: transfer request %s", ErrNotFound, id)
	}
	return req, nil
}

// List returns the transfer requests visible to a user. Game masters see all.
func (c *Coordinator) List(ctx context.Context, userID int64) ([]model.TransferRequest, error) {
	user, err := c.directory.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if user.IsGamemaster() {
		userID = 0
	}
	return c.requests.ListTransferRequests(ctx, userID)
}

// Stop cancels every expiry timer. Open requests stay persisted and are
// picked up again by Restore.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.active {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.active, id)
	}
}

func (c *Coordinator) snapshot(e *entry) model.TransferRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.req
}
