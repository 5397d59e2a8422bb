package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPayload struct {
	Value int `json:"value"`
}

func TestExecuteRunsRegisteredHandler(t *testing.T) {
	r := New(nil)
	r.Register("double", func(_ context.Context, raw json.RawMessage) (any, error) {
		var p echoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return echoPayload{Value: p.Value * 2}, nil
	})

	res, err := r.Execute(context.Background(), "double", echoPayload{Value: 21})
	require.NoError(t, err)
	require.True(t, res.Success)

	var out echoPayload
	require.NoError(t, json.Unmarshal(res.Data, &out))
	assert.Equal(t, 42, out.Value)
}

func TestExecuteUnavailableWithoutPresence(t *testing.T) {
	online := false
	r := New(PresenceFunc(func(context.Context) bool { return online }))
	r.Register("noop", func(context.Context, json.RawMessage) (any, error) { return nil, nil })

	assert.False(t, r.Ready(context.Background()))
	_, err := r.Execute(context.Background(), "noop", nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	online = true
	res, err := r.Execute(context.Background(), "noop", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Data)
}

func TestExecuteUnknownOperation(t *testing.T) {
	r := New(Always)
	_, err := r.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestExecuteHandlerErrorIsReportedInResult(t *testing.T) {
	r := New(Always)
	r.Register("fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("item is gone")
	})

	res, err := r.Execute(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "item is gone", res.Error)
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := New(Always)
	r.Register("boom", func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})

	res, err := r.Execute(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestExecuteTimeout(t *testing.T) {
	r := New(Always, WithTimeout(10*time.Millisecond))
	r.Register("slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := r.Execute(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "deadline exceeded")
}
