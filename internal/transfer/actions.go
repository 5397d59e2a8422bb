package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/erazemk/squire/internal/model"
)

// Approve lets a game master pass a transfer on to the receiver.
func (c *Coordinator) Approve(ctx context.Context, userID int64, id string) (*model.TransferRequest, error) {
	e, err := c.claimAt(ctx, id, model.StageAwaitingApproval)
	if err != nil {
		return nil, err
	}
	if c.expireIfDue(ctx, e) {
		return nil, ErrTransferExpired
	}
	if _, err := c.requireGamemaster(ctx, userID); err != nil {
		c.release(e)
		return nil, err
	}

	if err := c.notifier.Retract(ctx, id, model.NoticeApprovalRequest, model.NoticeWaiting); err != nil {
		slog.Warn("failed to retract approval notices", "transfer", id, "error", err)
	}

	p := c.describe(ctx, &e.req)
	title, body := approvedText(p)
	if err := c.notify(ctx, &e.req, model.NoticeWaiting, title, body, []int64{e.req.SourceUserID}); err != nil {
		return nil, c.abandon(ctx, e, userID, err)
	}
	if err := c.requestAcceptance(ctx, e, p, model.TransferApproved); err != nil {
		return nil, c.abandon(ctx, e, userID, err)
	}

	slog.Info("transfer approved", "transfer", id, "by", userID)
	out := c.snapshot(e)
	c.release(e)
	return &out, nil
}

// Deny lets a game master reject a transfer before the receiver sees it.
func (c *Coordinator) Deny(ctx context.Context, userID int64, id string) (*model.TransferRequest, error) {
	e, err := c.claimAt(ctx, id, model.StageAwaitingApproval)
	if err != nil {
		return nil, err
	}
	if c.expireIfDue(ctx, e) {
		return nil, ErrTransferExpired
	}
	if _, err := c.requireGamemaster(ctx, userID); err != nil {
		c.release(e)
		return nil, err
	}

	if err := c.finish(ctx, e, model.TransferTransition{
		Status:     model.TransferRejected,
		Stage:      e.req.Stage,
		ResolvedBy: &userID,
	}); err != nil {
		return nil, err
	}

	title, body := deniedText(c.describe(ctx, &e.req))
	if err := c.notify(ctx, &e.req, model.NoticeRejected, title, body, []int64{e.req.SourceUserID}); err != nil {
		slog.Error("failed to send denial notice", "transfer", id, "error", err)
	}

	slog.Info("transfer denied", "transfer", id, "by", userID)
	out := c.snapshot(e)
	return &out, nil
}

// Accept lets an owner of the target actor take the item. The move runs
// through the relay when the accepting user cannot write both inventories.
func (c *Coordinator) Accept(ctx context.Context, userID int64, id string) (*model.TransferRequest, error) {
	e, err := c.claimAt(ctx, id, model.StageAwaitingAcceptance)
	if err != nil {
		return nil, err
	}
	if c.expireIfDue(ctx, e) {
		return nil, ErrTransferExpired
	}

	source, target, err := c.authorizeReceiver(ctx, e, userID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			c.release(e)
			return nil, err
		}
		return nil, c.abandon(ctx, e, userID, err)
	}

	m := moveFor(&e.req, userID, c.clock.Now())
	if err := c.moveAs(ctx, userID, source, target, m); err != nil {
		if errors.Is(err, ErrStaleAction) {
			c.forget(e)
			return nil, err
		}
		return nil, c.abandon(ctx, e, userID, err)
	}
	c.settle(ctx, e, m.completion())

	title, body := completedText(c.describe(ctx, &e.req))
	if err := c.notify(ctx, &e.req, model.NoticeCompleted, title, body, c.partyAudience(ctx, &e.req)); err != nil {
		slog.Error("failed to send completion notice", "transfer", id, "error", err)
	}

	slog.Info("transfer accepted", "transfer", id, "by", userID)
	out := c.snapshot(e)
	return &out, nil
}

// Reject lets an owner of the target actor decline the item.
func (c *Coordinator) Reject(ctx context.Context, userID int64, id string) (*model.TransferRequest, error) {
	e, err := c.claimAt(ctx, id, model.StageAwaitingAcceptance)
	if err != nil {
		return nil, err
	}
	if c.expireIfDue(ctx, e) {
		return nil, ErrTransferExpired
	}

	if _, _, err := c.authorizeReceiver(ctx, e, userID); err != nil {
		c.release(e)
		return nil, err
	}

	if err := c.finish(ctx, e, model.TransferTransition{
		Status:     model.TransferRejected,
		Stage:      e.req.Stage,
		ResolvedBy: &userID,
	}); err != nil {
		return nil, err
	}

	p := c.describe(ctx, &e.req)
	decider := fmt.Sprintf("user #%d", userID)
	if u, err := c.directory.User(ctx, userID); err == nil && u != nil {
		decider = u.Username
	}
	title, body := rejectedText(p, decider)
	if err := c.notify(ctx, &e.req, model.NoticeRejected, title, body, []int64{e.req.SourceUserID, userID}); err != nil {
		slog.Error("failed to send rejection notice", "transfer", id, "error", err)
	}

	slog.Info("transfer rejected", "transfer", id, "by", userID)
	out := c.snapshot(e)
	return &out, nil
}

func (c *Coordinator) requireGamemaster(ctx context.Context, userID int64) (*model.User, error) {
	user, err := c.directory.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsGamemaster() {
		return nil, fmt.Errorf("%w: only a game master can decide on approvals", ErrForbidden)
	}
	return user, nil
}

// authorizeReceiver checks that userID may answer for the target actor.
func (c *Coordinator) authorizeReceiver(ctx context.Context, e *entry, userID int64) (*model.Actor, *model.Actor, error) {
	source, err := c.inventory.Actor(ctx, e.req.SourceActorID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading source actor: %w", err)
	}
	target, err := c.inventory.Actor(ctx, e.req.TargetActorID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading target actor: %w", err)
	}
	if source == nil || target == nil {
		return nil, nil, fmt.Errorf("%w: actor", ErrNotFound)
	}

	ok, err := c.directory.HasOwnerPermission(ctx, userID, target)
	if err != nil {
		return nil, nil, fmt.Errorf("checking target permission: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: user %d does not own %s", ErrForbidden, userID, target.Name)
	}
	return source, target, nil
}

// claimAt marks the request busy if it is open and at the given stage.
func (c *Coordinator) claimAt(ctx context.Context, id string, stage model.TransferStage) (*entry, error) {
	e, err := c.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.req.Stage != stage {
		c.release(e)
		return nil, ErrStaleAction
	}
	return e, nil
}

func (c *Coordinator) claim(ctx context.Context, id string) (*entry, error) {
	c.mu.Lock()
	e, ok := c.active[id]
	c.mu.Unlock()

	if !ok {
		var err error
		if e, err = c.load(ctx, id); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e.busy || e.done || e.req.Status.Terminal() {
		return nil, ErrStaleAction
	}
	e.busy = true
	return e, nil
}

// load brings a persisted open request into memory and arms its timer.
func (c *Coordinator) load(ctx context.Context, id string) (*entry, error) {
	req, err := c.requests.GetTransferRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading transfer request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: transfer request %s", ErrNotFound, id)
	}
	if req.Status.Terminal() {
		return nil, ErrStaleAction
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.active[id]; ok {
		return e, nil
	}
	e := &entry{req: *req}
	c.active[id] = e
	c.arm(e)
	return e, nil
}

// release frees a claimed entry. An expiry that fired while the entry was
// busy runs now.
func (c *Coordinator) release(e *entry) {
	c.mu.Lock()
	e.busy = false
	due := e.expireDue && !e.done
	e.expireDue = false
	if due {
		e.busy = true
	}
	c.mu.Unlock()

	if due {
		c.expire(context.Background(), e)
	}
}

// finish records a terminal transition of a claimed entry and retracts every
// notice of the request. It fails with ErrStaleAction when the request was
// already resolved elsewhere.
func (c *Coordinator) finish(ctx context.Context, e *entry, to model.TransferTransition) error {
	if to.At.IsZero() {
		to.At = c.clock.Now()
	}
	ok, err := c.requests.TransitionTransferRequest(ctx, e.req.ID, e.req.Status, to)
	if err != nil {
		c.release(e)
		return fmt.Errorf("updating transfer request: %w", err)
	}

	if !ok {
		c.retire(e, to)
		return ErrStaleAction
	}
	c.settle(ctx, e, to)
	return nil
}

// settle retires an entry whose terminal transition is already stored and
// retracts every notice of the request.
func (c *Coordinator) settle(ctx context.Context, e *entry, to model.TransferTransition) {
	c.retire(e, to)
	if err := c.notifier.Retract(ctx, e.req.ID); err != nil {
		slog.Warn("failed to retract transfer notices", "transfer", e.req.ID, "error", err)
	}
}

// forget drops an entry that was resolved by another coordinator.
func (c *Coordinator) forget(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop(e)
}

// drop stops the timer of e and removes it from the registry. c.mu must be held.
func (c *Coordinator) drop(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.done = true
	e.busy = false
	e.expireDue = false
	if cur, ok := c.active[e.req.ID]; ok && cur == e {
		delete(c.active, e.req.ID)
	}
}

// retire drops a resolved entry and records its final state.
func (c *Coordinator) retire(e *entry, to model.TransferTransition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop(e)
	e.req.Status = to.Status
	e.req.Stage = to.Stage
	e.req.ResolvedBy = to.ResolvedBy
	e.req.Failure = to.Failure
	at := to.At
	e.req.ResolvedAt = &at
}

// abandon fails a claimed request. The acting user learns about it from the
// returned error; the sender and the decider get a notice unless they are
// the acting user.
func (c *Coordinator) abandon(ctx context.Context, e *entry, actingUserID int64, cause error) error {
	slog.Warn("transfer failed", "transfer", e.req.ID, "error", cause)

	var resolvedBy *int64
	if actingUserID != 0 {
		resolvedBy = &actingUserID
	}
	if err := c.finish(ctx, e, model.TransferTransition{
		Status:     model.TransferFailed,
		Stage:      e.req.Stage,
		ResolvedBy: resolvedBy,
		Failure:    cause.Error(),
	}); err != nil {
		if errors.Is(err, ErrStaleAction) {
			return cause
		}
		return errors.Join(cause, err)
	}

	recipients := without(audience([]int64{e.req.SourceUserID}), []int64{actingUserID})
	if len(recipients) > 0 {
		title, body := failedText(c.describe(ctx, &e.req), cause)
		if err := c.notify(ctx, &e.req, model.NoticeFailed, title, body, recipients); err != nil {
			slog.Error("failed to send failure notice", "transfer", e.req.ID, "error", err)
		}
	}
	return cause
}
