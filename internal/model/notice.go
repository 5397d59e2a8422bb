package model

import "time"

// NoticeKind classifies a notice within a transfer handshake.
type NoticeKind string

// Notice kinds.
const (
	NoticeWaiting         NoticeKind = "waiting"
	NoticeApprovalRequest NoticeKind = "approval-request"
	NoticeTransferRequest NoticeKind = "transfer-request"
	NoticeCompleted       NoticeKind = "completed"
	NoticeRejected        NoticeKind = "rejected"
	NoticeExpired         NoticeKind = "expired"
	NoticeFailed          NoticeKind = "failed"
)

// Actions a notice can offer to its recipients.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
	ActionAccept  = "accept"
	ActionReject  = "reject"
)

// Notice is a private message delivered to a set of users.
type Notice struct {
	ID            int64      `json:"id"`
	CorrelationID string     `json:"correlation_id"`
	Kind          NoticeKind `json:"kind"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Actions       []string   `json:"actions,omitempty"`
	Recipients    []int64    `json:"recipients"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// NoticeDraft is a notice that has not been delivered yet.
type NoticeDraft struct {
	CorrelationID string
	Kind          NoticeKind
	Title         string
	Body          string
	Actions       []string
	Recipients    []int64
}
