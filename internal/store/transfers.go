package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/squire/internal/model"
)

const transferColumns = `id, source_actor_id, target_actor_id, item_id, item_name, quantity, has_quantity,
	source_user_id, status, stage, approval_required, timeout_seconds, created_at,
	resolved_at, resolved_by, COALESCE(failure, '')`

// CreateTransferRequest persists a newly minted transfer request.
func CreateTransferRequest(ctx context.Context, db DBTX, t *model.TransferRequest) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transfer_requests (id, source_actor_id, target_actor_id, item_id, item_name,
		                                quantity, has_quantity, source_user_id, status, stage,
		                                approval_required, timeout_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SourceActorID, t.TargetActorID, t.ItemID, t.ItemName,
		t.Quantity, t.HasQuantity, t.SourceUserID, string(t.Status), string(t.Stage),
		t.ApprovalRequired, t.TimeoutSeconds, t.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating transfer request: %w", err)
	}
	return nil
}

// GetTransferRequest returns a transfer request by ID.
func GetTransferRequest(ctx context.Context, db DBTX, id string) (*model.TransferRequest, error) {
	t, err := scanTransferRequest(db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfer_requests WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer request: %w", err)
	}
	return t, nil
}

func scanTransferRequest(row rowScanner) (*model.TransferRequest, error) {
	t := &model.TransferRequest{}
	var status, stage string
	var hasQuantity, approvalRequired int
	if err := row.Scan(&t.ID, &t.SourceActorID, &t.TargetActorID, &t.ItemID, &t.ItemName,
		&t.Quantity, &hasQuantity, &t.SourceUserID, &status, &stage, &approvalRequired,
		&t.TimeoutSeconds, &t.Timestamp, &t.ResolvedAt, &t.ResolvedBy, &t.Failure); err != nil {
		return nil, err
	}
	t.Status = model.TransferStatus(status)
	t.Stage = model.TransferStage(stage)
	t.HasQuantity = hasQuantity != 0
	t.ApprovalRequired = approvalRequired != 0
	return t, nil
}

// TransitionTransferRequest moves a request from one status to another. It is
// a compare-and-set: it reports false without changing anything if the request
// is no longer in the expected status.
func TransitionTransferRequest(ctx context.Context, db DBTX, id string, from model.TransferStatus, u model.TransferTransition) (bool, error) {
	var resolvedAt *time.Time
	if u.Status.Terminal() {
		at := u.At.UTC()
		resolvedAt = &at
	}

	var failure sql.NullString
	if u.Failure != "" {
		failure = sql.NullString{String: u.Failure, Valid: true}
	}

	result, err := db.ExecContext(ctx,
		`UPDATE transfer_requests
		 SET status = ?, stage = ?, resolved_at = ?, resolved_by = ?, failure = ?
		 WHERE id = ? AND status = ?`,
		string(u.Status), string(u.Stage), resolvedAt, u.ResolvedBy, failure, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("updating transfer request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating transfer request: %w", err)
	}
	return n == 1, nil
}

// ListOpenTransferRequests returns requests that have not reached a terminal status.
func ListOpenTransferRequests(ctx context.Context, db DBTX) ([]model.TransferRequest, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfer_requests
		 WHERE status IN ('pending', 'approved')
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing open transfer requests: %w", err)
	}
	defer rows.Close()

	return scanTransferRequests(rows)
}

// ListTransferRequests returns transfer requests visible to a user: those the
// user started and those the user was notified about. A userID of 0 lists all.
func ListTransferRequests(ctx context.Context, db DBTX, userID int64) ([]model.TransferRequest, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_requests`
	var args []any
	if userID > 0 {
		query += ` WHERE source_user_id = ? OR id IN (
		               SELECT n.correlation_id FROM notices n
		               JOIN notice_recipients r ON r.notice_id = n.id
		               WHERE r.user_id = ?)`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfer requests: %w", err)
	}
	defer rows.Close()

	return scanTransferRequests(rows)
}

func scanTransferRequests(rows *sql.Rows) ([]model.TransferRequest, error) {
	var requests []model.TransferRequest
	for rows.Next() {
		t, err := scanTransferRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer request: %w", err)
		}
		requests = append(requests, *t)
	}
	return requests, rows.Err()
}
