// Package relay executes named operations with game-master privileges on
// behalf of users who lack write permission themselves.
//
// A relay only serves requests while a privileged account is present, the
// same way a table needs a connected game master to act on players' behalf.
// Callers must inspect Result.Success: a nil error only means the operation
// was delivered and run.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrUnavailable is returned when no privileged account can serve the request.
	ErrUnavailable = errors.New("relay unavailable")
	// ErrUnknownOperation is returned for operations nobody registered.
	ErrUnknownOperation = errors.New("unknown relay operation")
)

// DefaultTimeout bounds a single relayed operation.
const DefaultTimeout = 10 * time.Second

// Handler runs a relayed operation. The returned value is encoded into Result.Data.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Result is the outcome of a relayed operation.
type Result struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Presence reports whether a privileged account is available.
type Presence interface {
	RelayOnline(ctx context.Context) bool
}

// PresenceFunc adapts a function to Presence.
type PresenceFunc func(ctx context.Context) bool

// RelayOnline calls f.
func (f PresenceFunc) RelayOnline(ctx context.Context) bool {
	return f(ctx)
}

// Always is a Presence that is always online.
var Always Presence = PresenceFunc(func(context.Context) bool { return true })

// Relay dispatches named operations to registered handlers.
type Relay struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	presence Presence
	timeout  time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a relay gated on presence. A nil presence means Always.
func New(presence Presence, opts ...Option) *Relay {
	if presence == nil {
		presence = Always
	}
	r := &Relay{
		handlers: make(map[string]Handler),
		presence: presence,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds op to h, replacing any previous handler.
func (r *Relay) Register(op string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = h
}

// Ready reports whether the relay can currently serve requests.
func (r *Relay) Ready(ctx context.Context) bool {
	return r.presence.RelayOnline(ctx)
}

// Execute runs op with payload. The payload crosses the relay boundary as
// JSON, so handlers never share memory with the caller.
func (r *Relay) Execute(ctx context.Context, op string, payload any) (Result, error) {
	if !r.Ready(ctx) {
		return Result{}, ErrUnavailable
	}

	r.mu.RLock()
	h, ok := r.handlers[op]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encoding relay payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res := r.run(ctx, op, h, raw)
	slog.Debug("relay operation finished", "op", op, "success", res.Success,
		"duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (r *Relay) run(ctx context.Context, op string, h Handler, raw json.RawMessage) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("relay handler panicked", "op", op, "panic", p)
			res = Result{Error: fmt.Sprintf("relay handler panicked: %v", p)}
		}
	}()

	out, err := h(ctx, raw)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if err := ctx.Err(); err != nil {
		return Result{Error: err.Error()}
	}

	if out == nil {
		return Result{Success: true}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return Result{Error: fmt.Sprintf("encoding relay result: %v", err)}
	}
	return Result{Success: true, Data: data}
}
