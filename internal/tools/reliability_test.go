package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sony/gobreaker"
)

func TestReliabilityWrapper_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	h := HandlerFunc(func(context.Context, Call) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, &ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("busy")}
		}
		return "ok", nil
	})

	w := NewReliabilityWrapper("flaky", h, ReliabilityConfig{}, nil)
	res, err := w.Execute(context.Background(), Call{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 3, attempts)
}

func TestReliabilityWrapper_OpensBreaker(t *testing.T) {
	h := HandlerFunc(func(context.Context, Call) (any, error) {
		return nil, &ThrottleError{RetryAfter: time.Microsecond, Cause: errors.New("down")}
	})
	w := NewReliabilityWrapper("down", h, ReliabilityConfig{Attempts: 1, CBTimeout: time.Hour}, nil)

	for i := 0; i < 6; i++ {
		_, err := w.Execute(context.Background(), Call{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, w.State())

	_, err := w.Execute(context.Background(), Call{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
