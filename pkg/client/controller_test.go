package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookCall struct {
	action string
	fc     FeatureContext
}

type recordingHooks struct {
	mu        sync.Mutex
	calls     []hookCall
	failOn    FeatureContext
	panicOn   FeatureContext
	failError error
}

func (h *recordingHooks) Activate(_ context.Context, fc FeatureContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fc == h.panicOn {
		panic("hook exploded")
	}
	if fc == h.failOn {
		return h.failError
	}
	h.calls = append(h.calls, hookCall{"activate", fc})
	return nil
}

func (h *recordingHooks) Deactivate(_ context.Context, fc FeatureContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{"deactivate", fc})
	return nil
}

func (h *recordingHooks) snapshot() []hookCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hookCall(nil), h.calls...)
}

func newController(t *testing.T) (*ContextController, *clock.Mock, *recordingHooks) {
	t.Helper()
	mock := clock.NewMock()
	hooks := &recordingHooks{}
	return NewContextController(ControllerConfig{Clock: mock, Hooks: hooks}), mock, hooks
}

// switchAsync runs SwitchContext in the background and advances the mock
// clock until it returns.
func switchAsync(c *ContextController, fc FeatureContext, opts SwitchOptions) <-chan SwitchResult {
	out := make(chan SwitchResult, 1)
	go func() { out <- c.SwitchContext(context.Background(), fc, opts) }()
	return out
}

func awaitResult(t *testing.T, mock *clock.Mock, ch <-chan SwitchResult, step time.Duration) SwitchResult {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case r := <-ch:
			return r
		case <-deadline:
			t.Fatal("switch did not complete")
		default:
			mock.Add(step)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestContextMetrics_ActiveTime(t *testing.T) {
	c, mock, _ := newController(t)
	ctx := context.Background()

	require.NoError(t, c.ActivateContext(ctx, ContextChat, PriorityHigh))
	mock.Add(500 * time.Millisecond)
	require.NoError(t, c.DeactivateContext(ctx, ContextChat))

	m := c.ContextMetrics(ContextChat)
	assert.Equal(t, 500*time.Millisecond, m.ActiveTime)
	assert.Equal(t, 0, m.ReconnectCount)

	st, ok := c.State(ContextChat)
	require.True(t, ok)
	assert.False(t, st.Active)
	assert.Equal(t, mock.Now(), st.LastActive)
}

func TestContextMetrics_ReconnectCountAndOpenInterval(t *testing.T) {
	c, mock, _ := newController(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, c.ActivateContext(ctx, ContextPost, PriorityMedium))
		mock.Add(time.Second)
		require.NoError(t, c.DeactivateContext(ctx, ContextPost))
	}
	m := c.ContextMetrics(ContextPost)
	assert.Equal(t, 1, m.ReconnectCount)
	assert.Equal(t, 2*time.Second, m.ActiveTime)

	require.NoError(t, c.ActivateContext(ctx, ContextPost, PriorityMedium))
	mock.Add(300 * time.Millisecond)
	m = c.ContextMetrics(ContextPost)
	assert.Equal(t, 2300*time.Millisecond, m.ActiveTime)
	assert.Equal(t, 2, m.ReconnectCount)

	assert.Equal(t, ContextMetrics{}, c.ContextMetrics(ContextMarketplace))
}

func TestActivate_ResetsReconnectAttempts(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()

	require.NoError(t, c.ActivateContext(ctx, ContextChat, PriorityHigh))
	c.RecordReconnect(ContextChat)
	c.RecordReconnect(ContextChat)
	st, _ := c.State(ContextChat)
	assert.Equal(t, 2, st.ReconnectAttempts)

	require.NoError(t, c.ActivateContext(ctx, ContextChat, PriorityHigh))
	st, _ = c.State(ContextChat)
	assert.Equal(t, 0, st.ReconnectAttempts)
}

func TestPlanSwitch(t *testing.T) {
	c, _, _ := newController(t)

	plan := c.PlanSwitch(ContextMarketplace, SwitchOptions{})
	assert.Equal(t, PriorityLow, plan.Priority)
	assert.Equal(t, 5*time.Second, plan.Delay)

	plan = c.PlanSwitch(ContextChat, SwitchOptions{})
	assert.Equal(t, PriorityHigh, plan.Priority)
	assert.Zero(t, plan.Delay)

	custom := 30 * time.Second
	plan = c.PlanSwitch(ContextNotification, SwitchOptions{Priority: PriorityLow, Delay: &custom})
	assert.Equal(t, PriorityLow, plan.Priority)
	assert.Equal(t, custom, plan.Delay)

	override := NewContextController(ControllerConfig{
		Throttle:   map[Priority]time.Duration{PriorityMedium: 2 * time.Second},
		Priorities: map[FeatureContext]Priority{ContextPost: PriorityMedium},
	})
	assert.Equal(t, 2*time.Second, override.PlanSwitch(ContextPost, SwitchOptions{}).Delay)
}

func TestSwitchContext_DeactivatesPrevious(t *testing.T) {
	c, mock, hooks := newController(t)

	r := awaitResult(t, mock, switchAsync(c, ContextChat, SwitchOptions{}), 100*time.Millisecond)
	require.True(t, r.Success, "err: %v", r.Err)
	assert.Equal(t, FeatureContext(""), r.From)

	r = awaitResult(t, mock, switchAsync(c, ContextPost, SwitchOptions{}), 100*time.Millisecond)
	require.True(t, r.Success, "err: %v", r.Err)
	assert.Equal(t, ContextChat, r.From)
	assert.Equal(t, ContextPost, c.Current())
	assert.Equal(t, time.Second, r.Delay)

	assert.Equal(t, []hookCall{
		{"activate", ContextChat},
		{"deactivate", ContextChat},
		{"activate", ContextPost},
	}, hooks.snapshot())
	assert.Equal(t, 1, c.ContextMetrics(ContextPost).SwitchCount)

	chat, _ := c.State(ContextChat)
	assert.False(t, chat.Active)
}

func TestSwitchContext_SelfSwitchStillThrottles(t *testing.T) {
	c, mock, _ := newController(t)
	ctx := context.Background()
	require.NoError(t, c.ActivateContext(ctx, ContextMarketplace, PriorityLow))

	ch := switchAsync(c, ContextMarketplace, SwitchOptions{})
	time.Sleep(20 * time.Millisecond)
	mock.Add(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("switch completed before the LOW throttle elapsed")
	default:
	}

	r := awaitResult(t, mock, ch, 500*time.Millisecond)
	require.True(t, r.Success)
	assert.Equal(t, 5*time.Second, r.Delay)
	st, _ := c.State(ContextMarketplace)
	assert.True(t, st.Active)
}

func TestSwitchContext_NewerRequestSupersedes(t *testing.T) {
	c, mock, _ := newController(t)

	older := switchAsync(c, ContextMarketplace, SwitchOptions{})
	// let the older switch start throttling
	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.switchSeq == 1
	}, time.Second, time.Millisecond)

	newer := switchAsync(c, ContextChat, SwitchOptions{})

	r := <-older
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrSwitchSuperseded)

	r = awaitResult(t, mock, newer, 100*time.Millisecond)
	assert.True(t, r.Success)
	assert.Equal(t, ContextChat, c.Current())
	_, known := c.State(ContextMarketplace)
	assert.False(t, known)
	assert.Equal(t, 1, c.ContextMetrics(ContextMarketplace).ErrorCount)
}

func TestSwitchContext_HookFailureIsReported(t *testing.T) {
	c, mock, hooks := newController(t)
	hooks.failOn = ContextNotification
	hooks.failError = errors.New("not connected")
	hooks.panicOn = ContextPost

	r := awaitResult(t, mock, switchAsync(c, ContextNotification, SwitchOptions{}), 100*time.Millisecond)
	assert.False(t, r.Success)
	assert.ErrorContains(t, r.Err, "not connected")

	r = awaitResult(t, mock, switchAsync(c, ContextPost, SwitchOptions{}), 100*time.Millisecond)
	assert.False(t, r.Success)
	assert.ErrorContains(t, r.Err, "panicked")

	assert.Equal(t, FeatureContext(""), c.Current())
	assert.Equal(t, 2, c.ContextMetrics(ContextNotification).ErrorCount)
	assert.Equal(t, 1, c.ContextMetrics(ContextPost).ErrorCount)
}

func TestSwitchContext_CancelledContext(t *testing.T) {
	c, _, _ := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := c.SwitchContext(ctx, ContextMarketplace, SwitchOptions{})
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, context.Canceled)
}

func TestMaxLogEntries(t *testing.T) {
	c := NewContextController(ControllerConfig{Clock: clock.NewMock(), MaxLogEntries: 3})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, c.ActivateContext(ctx, ContextChat, PriorityHigh))
		require.NoError(t, c.DeactivateContext(ctx, ContextChat))
	}
	log := c.Log()
	require.Len(t, log, 3)
	assert.Equal(t, ActionDeactivate, log[2].Action)
}

func TestClose_DeactivatesActiveContexts(t *testing.T) {
	c, _, hooks := newController(t)
	ctx := context.Background()
	require.NoError(t, c.ActivateContext(ctx, ContextChat, PriorityHigh))
	require.NoError(t, c.ActivateContext(ctx, ContextNotification, PriorityMedium))

	require.NoError(t, c.Close(ctx))

	var deactivated []FeatureContext
	for _, call := range hooks.snapshot() {
		if call.action == "deactivate" {
			deactivated = append(deactivated, call.fc)
		}
	}
	assert.ElementsMatch(t, []FeatureContext{ContextChat, ContextNotification}, deactivated)
	assert.Empty(t, c.Log())
	assert.NoError(t, c.Close(ctx))
	assert.ErrorIs(t, c.ActivateContext(ctx, ContextChat, PriorityHigh), ErrControllerClosed)

	r := c.SwitchContext(ctx, ContextChat, SwitchOptions{})
	assert.ErrorIs(t, r.Err, ErrControllerClosed)
}
