// Package notify delivers private notices to users.
//
// Notices are persisted first; live delivery over websockets (and across
// instances through redis) is best effort on top of that. A client that
// missed an event catches up by listing its notices.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/erazemk/squire/internal/clock"
	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/store"
)

// Event types pushed to connected clients.
const (
	EventNotice    = "notice"
	EventRetracted = "retracted"
)

// Event is a change to someone's notices.
type Event struct {
	Type       string        `json:"type"`
	Notice     *model.Notice `json:"notice,omitempty"`
	NoticeID   int64         `json:"notice_id,omitempty"`
	Recipients []int64       `json:"recipients"`
	At         time.Time     `json:"at"`
}

// Publisher pushes events toward connected clients.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Service stores notices and publishes changes to them.
type Service struct {
	db    *sql.DB
	pub   Publisher
	clock clock.Clock
}

// NewService creates a Service. A nil publisher discards events.
func NewService(db *sql.DB, pub Publisher, c clock.Clock) *Service {
	if pub == nil {
		pub = Discard
	}
	if c == nil {
		c = clock.NewSystem()
	}
	return &Service{db: db, pub: pub, clock: c}
}

// Send stores a notice for its recipients and publishes it.
func (s *Service) Send(ctx context.Context, d model.NoticeDraft) (*model.Notice, error) {
	n, err := store.CreateNotice(ctx, s.db, d)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{
		Type:       EventNotice,
		Notice:     n,
		NoticeID:   n.ID,
		Recipients: n.Recipients,
		At:         n.CreatedAt,
	})
	slog.Debug("notice sent", "notice", n.ID, "kind", n.Kind, "transfer", n.CorrelationID, "recipients", n.Recipients)
	return n, nil
}

// Get returns a notice by id, including deleted ones.
func (s *Service) Get(ctx context.Context, id int64) (*model.Notice, error) {
	return store.GetNotice(ctx, s.db, id)
}

// ListForUser returns the live notices addressed to a user.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]model.Notice, error) {
	return store.ListNoticesForUser(ctx, s.db, userID)
}

// Delete removes a notice. Deleting a notice that is already gone is a
// no-op; the returned bool reports whether this call removed it.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	n, err := store.GetNotice(ctx, s.db, id)
	if err != nil {
		return false, err
	}
	if n == nil || n.DeletedAt != nil {
		return false, nil
	}
	return s.delete(ctx, n)
}

func (s *Service) delete(ctx context.Context, n *model.Notice) (bool, error) {
	now := s.clock.Now()
	deleted, err := store.DeleteNotice(ctx, s.db, n.ID, now)
	if err != nil || !deleted {
		return false, err
	}

	s.publish(ctx, Event{
		Type:       EventRetracted,
		NoticeID:   n.ID,
		Recipients: n.Recipients,
		At:         now,
	})
	return true, nil
}

// Retract deletes the live notices correlated to a transfer request,
// optionally only those of the given kinds.
func (s *Service) Retract(ctx context.Context, correlationID string, kinds ...model.NoticeKind) error {
	live, err := store.ListLiveNotices(ctx, s.db, correlationID)
	if err != nil {
		return fmt.Errorf("retracting notices: %w", err)
	}
	for i := range live {
		if len(kinds) > 0 && !slices.Contains(kinds, live[i].Kind) {
			continue
		}
		if _, err := s.delete(ctx, &live[i]); err != nil {
			return fmt.Errorf("retracting notice %d: %w", live[i].ID, err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish notice event", "type", ev.Type, "notice", ev.NoticeID, "error", err)
	}
}
