package transfer

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidTransfer  = errors.New("invalid transfer")
	ErrForbidden        = errors.New("not allowed to act on this transfer")
	ErrStaleAction      = errors.New("transfer request is no longer actionable")
	ErrTransferExpired  = errors.New("transfer request expired")
	ErrRelayUnavailable = errors.New("privileged relay unavailable")
	ErrRelayFailed      = errors.New("privileged relay operation failed")
)
