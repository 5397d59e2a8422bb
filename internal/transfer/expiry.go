package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/squire/internal/model"
)

// arm schedules the expiry of e for the first instant past its deadline.
// c.mu must be held.
func (c *Coordinator) arm(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	d := e.req.Deadline().Sub(c.clock.Now()) + time.Nanosecond
	if d < 0 {
		d = 0
	}
	id := e.req.ID
	e.timer = c.clock.AfterFunc(d, func() { c.onTimer(id) })
}

func (c *Coordinator) onTimer(id string) {
	c.mu.Lock()
	e, ok := c.active[id]
	if !ok || e.done {
		c.mu.Unlock()
		return
	}
	if !e.req.ExpiredAt(c.clock.Now()) {
		c.arm(e)
		c.mu.Unlock()
		return
	}
	if e.busy {
		e.expireDue = true
		c.mu.Unlock()
		return
	}
	e.busy = true
	c.mu.Unlock()

	c.expire(context.Background(), e)
}

// expireIfDue expires a claimed entry whose deadline has passed. It reports
// whether it did; the claim is consumed either way it returns true.
func (c *Coordinator) expireIfDue(ctx context.Context, e *entry) bool {
	if !e.req.ExpiredAt(c.clock.Now()) {
		return false
	}
	c.expire(ctx, e)
	return true
}

// expire resolves a claimed entry as expired and tells every party.
func (c *Coordinator) expire(ctx context.Context, e *entry) {
	err := c.finish(ctx, e, model.TransferTransition{
		Status: model.TransferExpired,
		Stage:  e.req.Stage,
	})
	if err != nil {
		slog.Warn("failed to expire transfer", "transfer", e.req.ID, "error", err)
		return
	}

	title, body := expiredText(c.describe(ctx, &e.req))
	if err := c.notify(ctx, &e.req, model.NoticeExpired, title, body, c.partyAudience(ctx, &e.req)); err != nil {
		slog.Error("failed to send expiry notice", "transfer", e.req.ID, "error", err)
	}
	slog.Info("transfer expired", "transfer", e.req.ID)
}

// Restore loads open requests from storage after a restart. Requests past
// their deadline expire immediately; the rest get their timers back. It
// returns how many requests are still open.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	open, err := c.requests.ListOpenTransferRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing open transfer requests: %w", err)
	}

	now := c.clock.Now()
	restored, expired := 0, 0
	for _, req := range open {
		c.mu.Lock()
		if _, ok := c.active[req.ID]; ok {
			c.mu.Unlock()
			continue
		}
		e := &entry{req: req}
		c.active[req.ID] = e
		if req.ExpiredAt(now) {
			e.busy = true
			c.mu.Unlock()
			c.expire(ctx, e)
			expired++
			continue
		}
		c.arm(e)
		c.mu.Unlock()
		restored++
	}

	slog.Info("restored open transfers", "open", restored, "expired", expired)
	return restored, nil
}

// ExpireOverdue expires every open request past its deadline and returns
// how many it expired. Requests busy with another action are skipped.
func (c *Coordinator) ExpireOverdue(ctx context.Context) (int, error) {
	open, err := c.requests.ListOpenTransferRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing open transfer requests: %w", err)
	}

	now := c.clock.Now()
	n := 0
	for _, req := range open {
		if !req.ExpiredAt(now) {
			continue
		}
		e, err := c.claim(ctx, req.ID)
		if err != nil {
			continue
		}
		c.expire(ctx, e)
		n++
	}
	return n, nil
}
