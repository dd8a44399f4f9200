package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// FeatureContext is a logical real-time channel of the application.
type FeatureContext string

const (
	ContextChat         FeatureContext = "chat"
	ContextPost         FeatureContext = "post"
	ContextMarketplace  FeatureContext = "marketplace"
	ContextNotification FeatureContext = "notification"
)

// FeatureRoom is the server room backing a feature context.
func FeatureRoom(fc FeatureContext) string {
	return "feature:" + string(fc)
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Action is the kind of an activity log entry.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
	ActionSwitch     Action = "switch"
	ActionError      Action = "error"
)

var (
	// ErrSwitchSuperseded is returned by a throttled switch that a newer
	// SwitchContext call replaced.
	ErrSwitchSuperseded = errors.New("context switch superseded by a newer request")
	ErrControllerClosed = errors.New("context controller closed")
)

type ContextState struct {
	Active            bool
	Priority          Priority
	LastActive        time.Time
	ReconnectAttempts int
}

// ActivityEntry is one record of the append-only activity log.
type ActivityEntry struct {
	Context   FeatureContext
	Action    Action
	Timestamp time.Time
	Details   map[string]interface{}
}

// ContextMetrics are derived from the activity log on demand.
type ContextMetrics struct {
	ActiveTime     time.Duration
	SwitchCount    int
	ErrorCount     int
	ReconnectCount int
}

// ContextHooks are notified when a context becomes active or inactive.
type ContextHooks interface {
	Activate(ctx context.Context, fc FeatureContext) error
	Deactivate(ctx context.Context, fc FeatureContext) error
}

// ControllerConfig tunes a ContextController. Zero values use defaults.
type ControllerConfig struct {
	// Throttle maps a priority to the delay applied before a switch commits.
	Throttle map[Priority]time.Duration
	// Priorities is the configured priority of each context; unknown
	// contexts default to MEDIUM.
	Priorities map[FeatureContext]Priority
	// MaxLogEntries caps the activity log, dropping the oldest entries.
	// 0 keeps everything.
	MaxLogEntries int
	Clock         clock.Clock
	Hooks         ContextHooks
}

func DefaultThrottle() map[Priority]time.Duration {
	return map[Priority]time.Duration{
		PriorityHigh:   0,
		PriorityMedium: time.Second,
		PriorityLow:    5 * time.Second,
	}
}

// SwitchOptions override what PlanSwitch would otherwise look up.
type SwitchOptions struct {
	Priority Priority
	// Delay, when set, replaces the throttle table entry.
	Delay   *time.Duration
	Details map[string]interface{}
}

// SwitchPlan is the decision phase of a switch.
type SwitchPlan struct {
	From     FeatureContext
	To       FeatureContext
	Priority Priority
	Delay    time.Duration
}

// SwitchResult is returned by SwitchContext; callers check Success.
type SwitchResult struct {
	Success  bool
	From     FeatureContext
	To       FeatureContext
	Priority Priority
	Delay    time.Duration
	Err      error
}

// ContextController tracks which feature contexts are active and throttles
// switches between them by priority.
type ContextController struct {
	mu      sync.Mutex
	states  map[FeatureContext]*ContextState
	log     []ActivityEntry
	current FeatureContext
	closed  bool

	switchSeq     uint64
	pendingCancel context.CancelCauseFunc

	throttle   map[Priority]time.Duration
	priorities map[FeatureContext]Priority
	maxLog     int
	clock      clock.Clock
	hooks      ContextHooks
}

func NewContextController(cfg ControllerConfig) *ContextController {
	throttle := DefaultThrottle()
	for p, d := range cfg.Throttle {
		throttle[p] = d
	}
	priorities := map[FeatureContext]Priority{
		ContextChat:         PriorityHigh,
		ContextNotification: PriorityMedium,
		ContextPost:         PriorityMedium,
		ContextMarketplace:  PriorityLow,
	}
	for fc, p := range cfg.Priorities {
		priorities[fc] = p
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &ContextController{
		states:     make(map[FeatureContext]*ContextState),
		throttle:   throttle,
		priorities: priorities,
		maxLog:     cfg.MaxLogEntries,
		clock:      cfg.Clock,
		hooks:      cfg.Hooks,
	}
}

// appendLocked requires c.mu.
func (c *ContextController) appendLocked(fc FeatureContext, action Action, details map[string]interface{}) {
	c.log = append(c.log, ActivityEntry{
		Context:   fc,
		Action:    action,
		Timestamp: c.clock.Now(),
		Details:   details,
	})
	if c.maxLog > 0 && len(c.log) > c.maxLog {
		drop := len(c.log) - c.maxLog
		c.log = append(c.log[:0:0], c.log[drop:]...)
	}
}

func (c *ContextController) recordError(fc FeatureContext, err error, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["error"] = err.Error()

	c.mu.Lock()
	c.appendLocked(fc, ActionError, details)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"context": fc,
		"error":   err.Error(),
	}).Warn("context operation failed")
}

// ActivateContext marks fc active with priority and resets its reconnect
// attempts.
func (c *ContextController) ActivateContext(ctx context.Context, fc FeatureContext, priority Priority) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrControllerClosed
	}

	if c.hooks != nil {
		if err := c.hooks.Activate(ctx, fc); err != nil {
			err = fmt.Errorf("activating %s: %w", fc, err)
			c.recordError(fc, err, nil)
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[fc] = &ContextState{
		Active:     true,
		Priority:   priority,
		LastActive: c.clock.Now(),
	}
	c.appendLocked(fc, ActionActivate, map[string]interface{}{"priority": priority})
	return nil
}

// DeactivateContext marks fc inactive. Unknown or inactive contexts are left
// alone.
func (c *ContextController) DeactivateContext(ctx context.Context, fc FeatureContext) error {
	c.mu.Lock()
	st, ok := c.states[fc]
	active := ok && st.Active
	c.mu.Unlock()
	if !active {
		return nil
	}

	if c.hooks != nil {
		if err := c.hooks.Deactivate(ctx, fc); err != nil {
			err = fmt.Errorf("deactivating %s: %w", fc, err)
			c.recordError(fc, err, nil)
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[fc]; ok && st.Active {
		st.Active = false
		st.LastActive = c.clock.Now()
		c.appendLocked(fc, ActionDeactivate, nil)
	}
	return nil
}

// PlanSwitch decides priority and throttle delay for a switch to fc without
// changing any state.
func (c *ContextController) PlanSwitch(fc FeatureContext, opts SwitchOptions) SwitchPlan {
	c.mu.Lock()
	defer c.mu.Unlock()

	priority := opts.Priority
	if priority == "" {
		priority = c.priorityLocked(fc)
	}
	delay, ok := c.throttle[priority]
	if !ok {
		delay = c.throttle[PriorityMedium]
	}
	if opts.Delay != nil {
		delay = *opts.Delay
	}
	return SwitchPlan{From: c.current, To: fc, Priority: priority, Delay: delay}
}

func (c *ContextController) priorityLocked(fc FeatureContext) Priority {
	if st, ok := c.states[fc]; ok && st.Priority != "" {
		return st.Priority
	}
	if p, ok := c.priorities[fc]; ok {
		return p
	}
	return PriorityMedium
}

// SwitchContext waits the planned throttle delay, deactivates the previous
// context when it differs and activates fc. A newer call cancels one that is
// still waiting. Failures are logged and returned in the result; the switch
// never panics.
func (c *ContextController) SwitchContext(ctx context.Context, fc FeatureContext, opts SwitchOptions) (result SwitchResult) {
	plan := c.PlanSwitch(fc, opts)
	result = SwitchResult{From: plan.From, To: plan.To, Priority: plan.Priority, Delay: plan.Delay}

	fail := func(err error) SwitchResult {
		details := map[string]interface{}{
			"from":     string(result.From),
			"to":       string(result.To),
			"priority": string(result.Priority),
		}
		c.recordError(fc, err, details)
		result.Success = false
		result.Err = err
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			result = fail(fmt.Errorf("context switch panicked: %v", r))
		}
	}()

	waitCtx, seq, err := c.beginSwitch(ctx)
	if err != nil {
		return fail(err)
	}

	if err := SleepWithContext(waitCtx, c.clock, plan.Delay); err != nil {
		if cause := context.Cause(waitCtx); cause != nil {
			err = cause
		}
		return fail(err)
	}
	if !c.commitSwitch(seq) {
		return fail(ErrSwitchSuperseded)
	}

	// the current context may have moved while we were waiting
	c.mu.Lock()
	from := c.current
	c.mu.Unlock()
	result.From = from

	if from != "" && from != fc {
		if err := c.DeactivateContext(ctx, from); err != nil {
			return fail(err)
		}
	}
	if err := c.ActivateContext(ctx, fc, plan.Priority); err != nil {
		return fail(err)
	}

	result.Success = true
	c.mu.Lock()
	c.current = fc
	c.appendLocked(fc, ActionSwitch, map[string]interface{}{
		"from":     string(from),
		"to":       string(fc),
		"priority": string(plan.Priority),
		"delay_ms": plan.Delay.Milliseconds(),
		"details":  opts.Details,
	})
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"from":     from,
		"to":       fc,
		"priority": plan.Priority,
		"delay_ms": plan.Delay.Milliseconds(),
	}).Debug("context switched")
	return result
}

// beginSwitch registers a throttling switch and supersedes the previous one.
func (c *ContextController) beginSwitch(ctx context.Context) (context.Context, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, ErrControllerClosed
	}
	if c.pendingCancel != nil {
		c.pendingCancel(ErrSwitchSuperseded)
	}
	waitCtx, cancel := context.WithCancelCause(ctx)
	c.switchSeq++
	c.pendingCancel = cancel
	return waitCtx, c.switchSeq, nil
}

// commitSwitch reports whether seq is still the latest request and, if so,
// stops it from being superseded.
func (c *ContextController) commitSwitch(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.switchSeq != seq || c.closed {
		return false
	}
	if c.pendingCancel != nil {
		c.pendingCancel(nil)
		c.pendingCancel = nil
	}
	return true
}

// RecordReconnect counts a reconnect of fc's channel.
func (c *ContextController) RecordReconnect(fc FeatureContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[fc]; ok {
		st.ReconnectAttempts++
	}
}

// ContextMetrics derives fc's metrics from the activity log. An activation
// without a matching deactivation counts up to now.
func (c *ContextController) ContextMetrics(fc FeatureContext) ContextMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		m           ContextMetrics
		openSince   time.Time
		open        bool
		activations int
	)
	for _, e := range c.log {
		if e.Context != fc {
			continue
		}
		switch e.Action {
		case ActionActivate:
			activations++
			if !open {
				openSince, open = e.Timestamp, true
			}
		case ActionDeactivate:
			if open {
				m.ActiveTime += e.Timestamp.Sub(openSince)
				open = false
			}
		case ActionSwitch:
			m.SwitchCount++
		case ActionError:
			m.ErrorCount++
		}
	}
	if open {
		m.ActiveTime += c.clock.Now().Sub(openSince)
	}
	if activations > 1 {
		m.ReconnectCount = activations - 1
	}
	return m
}

func (c *ContextController) Current() FeatureContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *ContextController) State(fc FeatureContext) (ContextState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[fc]
	if !ok {
		return ContextState{}, false
	}
	return *st, true
}

// Log returns a copy of the activity log.
func (c *ContextController) Log() []ActivityEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ActivityEntry(nil), c.log...)
}

// Close cancels a waiting switch, deactivates every active context so the
// log stays balanced, logs the final metrics and clears all state.
func (c *ContextController) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.pendingCancel != nil {
		c.pendingCancel(ErrControllerClosed)
		c.pendingCancel = nil
	}
	var active []FeatureContext
	for fc, st := range c.states {
		if st.Active {
			active = append(active, fc)
		}
	}
	c.mu.Unlock()

	var errs error
	for _, fc := range active {
		errs = multierr.Append(errs, c.DeactivateContext(ctx, fc))
	}

	c.mu.Lock()
	known := make([]FeatureContext, 0, len(c.states))
	for fc := range c.states {
		known = append(known, fc)
	}
	c.mu.Unlock()
	for _, fc := range known {
		m := c.ContextMetrics(fc)
		logrus.WithFields(logrus.Fields{
			"context":         fc,
			"active_ms":       m.ActiveTime.Milliseconds(),
			"switches":        m.SwitchCount,
			"errors":          m.ErrorCount,
			"reconnect_count": m.ReconnectCount,
		}).Debug("context metrics at close")
	}

	c.mu.Lock()
	c.states = make(map[FeatureContext]*ContextState)
	c.log = nil
	c.current = ""
	c.mu.Unlock()
	return errs
}
