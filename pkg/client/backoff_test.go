package client

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestComputeBackoffWithRand(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 1000, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name     string
		attempt  int
		random   float64
		expected time.Duration
	}{
		{"first attempt", 1, 0, 100 * time.Millisecond},
		{"zero attempt treated as first", 0, 0, 100 * time.Millisecond},
		{"third attempt", 3, 0, 400 * time.Millisecond},
		{"jitter adds up to half", 2, 1, 300 * time.Millisecond},
		{"clamped to max", 10, 0.5, 1000 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeBackoffWithRand(policy, tt.attempt, tt.random))
		})
	}
}

func TestComputeBackoff_StaysInRange(t *testing.T) {
	policy := DefaultBackoff()
	for attempt := 1; attempt < 20; attempt++ {
		d := ComputeBackoff(policy, attempt)
		assert.GreaterOrEqual(t, d, 250*time.Millisecond)
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestSleepWithContext(t *testing.T) {
	mock := clock.NewMock()
	done := make(chan error, 1)
	go func() { done <- SleepWithContext(context.Background(), mock, time.Second) }()

	assert.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepWithContext(ctx, mock, time.Hour), context.Canceled)
	assert.ErrorIs(t, SleepWithContext(ctx, mock, 0), context.Canceled)
	assert.NoError(t, SleepWithContext(context.Background(), mock, 0))
}
