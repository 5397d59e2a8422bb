package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/squire/internal/model"
)

// CreateNotice stores a notice and its recipients in one transaction.
func CreateNotice(ctx context.Context, db *sql.DB, d model.NoticeDraft) (*model.Notice, error) {
	if len(d.Recipients) == 0 {
		return nil, fmt.Errorf("notice has no recipients")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO notices (correlation_id, kind, title, body, actions) VALUES (?, ?, ?, ?, ?)`,
		d.CorrelationID, string(d.Kind), d.Title, d.Body, strings.Join(d.Actions, ","),
	)
	if err != nil {
		return nil, fmt.Errorf("creating notice: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting notice id: %w", err)
	}

	for _, userID := range d.Recipients {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO notice_recipients (notice_id, user_id) VALUES (?, ?)`,
			id, userID,
		); err != nil {
			return nil, fmt.Errorf("adding notice recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing notice: %w", err)
	}
	return GetNotice(ctx, db, id)
}

// GetNotice returns a notice by ID, including deleted ones.
func GetNotice(ctx context.Context, db DBTX, id int64) (*model.Notice, error) {
	n := &model.Notice{}
	var kind, actions string
	err := db.QueryRowContext(ctx,
		`SELECT id, correlation_id, kind, title, body, actions, created_at, deleted_at
		 FROM notices WHERE id = ?`, id,
	).Scan(&n.ID, &n.CorrelationID, &kind, &n.Title, &n.Body, &actions, &n.CreatedAt, &n.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting notice: %w", err)
	}
	n.Kind = model.NoticeKind(kind)
	n.Actions = splitActions(actions)

	recipients, err := noticeRecipients(ctx, db, id)
	if err != nil {
		return nil, err
	}
	n.Recipients = recipients
	return n, nil
}

func noticeRecipients(ctx context.Context, db DBTX, noticeID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM notice_recipients WHERE notice_id = ? ORDER BY user_id`, noticeID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting notice recipients: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning notice recipient: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func splitActions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// ListNoticesForUser returns the live notices addressed to a user, oldest first.
func ListNoticesForUser(ctx context.Context, db DBTX, userID int64) ([]model.Notice, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT n.id FROM notices n
		 JOIN notice_recipients r ON r.notice_id = n.id
		 WHERE r.user_id = ? AND n.deleted_at IS NULL
		 ORDER BY n.created_at, n.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notices: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	return getNotices(ctx, db, ids)
}

// ListLiveNotices returns the live notices correlated to a transfer request.
func ListLiveNotices(ctx context.Context, db DBTX, correlationID string) ([]model.Notice, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id FROM notices WHERE correlation_id = ? AND deleted_at IS NULL ORDER BY id`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing correlated notices: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	return getNotices(ctx, db, ids)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getNotices(ctx context.Context, db DBTX, ids []int64) ([]model.Notice, error) {
	notices := make([]model.Notice, 0, len(ids))
	for _, id := range ids {
		n, err := GetNotice(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			notices = append(notices, *n)
		}
	}
	return notices, nil
}

// DeleteNotice marks a notice deleted. Deleting a notice that is already gone
// is not an error; the returned bool reports whether this call deleted it.
func DeleteNotice(ctx context.Context, db DBTX, id int64, at time.Time) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE notices SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("deleting notice: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting notice: %w", err)
	}
	return n == 1, nil
}
