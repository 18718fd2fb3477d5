package apikit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransactionMonitor(t *testing.T) {
	tm := newTransactionMonitor()
	tm.recordTransaction(10*time.Millisecond, true)
	tm.recordTransaction(30*time.Millisecond, false)
	tm.recordTransaction(20*time.Millisecond, true)

	m := tm.getMetrics()
	assert.Equal(t, int64(3), m.TotalTransactions)
	assert.Equal(t, int64(2), m.SuccessfulTransactions)
	assert.Equal(t, int64(1), m.FailedTransactions)
	assert.Equal(t, 20*time.Millisecond, m.AverageDuration)
	assert.Equal(t, 30*time.Millisecond, m.MaxDuration)
	assert.Equal(t, 10*time.Millisecond, m.MinDuration)
	assert.InDelta(t, 1.0/3.0, m.FailureRate(), 0.0001)

	// Too few transactions to judge.
	assert.True(t, tm.healthy())

	for i := 0; i < 10; i++ {
		tm.recordTransaction(time.Millisecond, true)
	}
	assert.False(t, tm.healthy())

	tm.reset()
	assert.Equal(t, TransactionMetrics{}.TotalTransactions, tm.getMetrics().TotalTransactions)
	assert.Zero(t, TransactionMetrics{}.FailureRate())
}

func TestTransactionMonitor_Thresholds(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		failures int
		duration time.Duration
		want     bool
	}{
		{"under both thresholds", 21, 1, time.Millisecond, true},
		{"failure rate at 5 percent", 20, 1, time.Millisecond, false},
		{"average at one second", 10, 0, time.Second, false},
		{"average under one second", 10, 0, time.Second - time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTransactionMonitor()
			for i := 0; i < tt.total; i++ {
				tm.recordTransaction(tt.duration, i >= tt.failures)
			}
			assert.Equal(t, tt.want, tm.healthy())
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("pq: deadlock detected"), true},
		{errors.New("Connection refused"), true},
		{errors.New("could not serialize access due to concurrent update"), true},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{errors.New("duplicate key value violates unique constraint"), false},
		{ErrNotFound, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTransientError(tt.err), "%v", tt.err)
	}
}

func TestRetryTransient(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := retryTransient(ctx, 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = retryTransient(ctx, 3, time.Millisecond, func() error {
		attempts++
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = retryTransient(ctx, 2, time.Millisecond, func() error {
		attempts++
		return errors.New("connection reset")
	})
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, 2, attempts)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = retryTransient(cancelled, 3, time.Hour, func() error { return errors.New("timeout") })
	assert.ErrorIs(t, err, context.Canceled)
}
