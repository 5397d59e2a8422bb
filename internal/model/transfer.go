package model

import "time"

// TransferStatus is the lifecycle status of a transfer request.
type TransferStatus string

// Transfer statuses. Completed, rejected, expired and failed are terminal.
const (
	TransferPending   TransferStatus = "pending"
	TransferApproved  TransferStatus = "approved"
	TransferRejected  TransferStatus = "rejected"
	TransferCompleted TransferStatus = "completed"
	TransferExpired   TransferStatus = "expired"
	TransferFailed    TransferStatus = "failed"
)

// Terminal reports whether no further action can change the status.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferRejected, TransferCompleted, TransferExpired, TransferFailed:
		return true
	}
	return false
}

// TransferStage is the point of the handshake a request is waiting at.
type TransferStage string

// Handshake stages.
const (
	StagePending            TransferStage = "pending"
	StageAwaitingApproval   TransferStage = "awaiting-approval"
	StageAwaitingAcceptance TransferStage = "awaiting-acceptance"
)

// TransferRequest is the correlation record of one transfer attempt.
type TransferRequest struct {
	ID               string         `json:"id"`
	SourceActorID    int64          `json:"source_actor_id"`
	TargetActorID    int64          `json:"target_actor_id"`
	ItemID           int64          `json:"item_id"`
	ItemName         string         `json:"item_name"`
	Quantity         int            `json:"quantity"`
	HasQuantity      bool           `json:"has_quantity"`
	SourceUserID     int64          `json:"source_user_id"`
	Status           TransferStatus `json:"status"`
	Stage            TransferStage  `json:"stage"`
	ApprovalRequired bool           `json:"approval_required"`
	TimeoutSeconds   int            `json:"timeout_seconds"`
	Timestamp        time.Time      `json:"timestamp"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy       *int64         `json:"resolved_by,omitempty"`
	Failure          string         `json:"failure,omitempty"`
}

// Deadline returns the instant after which the request is expired.
func (t *TransferRequest) Deadline() time.Time {
	return t.Timestamp.Add(time.Duration(t.TimeoutSeconds) * time.Second)
}

// ExpiredAt reports whether the request has outlived its timeout at now.
func (t *TransferRequest) ExpiredAt(now time.Time) bool {
	return now.Sub(t.Timestamp) > time.Duration(t.TimeoutSeconds)*time.Second
}

// TransferSettings is the runtime transfer policy.
type TransferSettings struct {
	ApprovalRequired bool `json:"approval_required"`
	TimeoutSeconds   int  `json:"timeout_seconds"`
}

// DefaultTransferSettings is used until a game master changes the policy.
var DefaultTransferSettings = TransferSettings{
	ApprovalRequired: false,
	TimeoutSeconds:   300,
}

// TransferTransition describes a status change of a transfer request.
type TransferTransition struct {
	Status     TransferStatus
	Stage      TransferStage
	ResolvedBy *int64
	Failure    string
	At         time.Time
}
