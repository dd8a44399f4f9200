package client

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ErrNoSignal is returned by a Sampler that has nothing to report.
var ErrNoSignal = errors.New("no network signal available")

type EffectiveType string

const (
	EffectiveFast   EffectiveType = "fast"
	EffectiveMedium EffectiveType = "medium"
	EffectiveSlow   EffectiveType = "slow"
)

// NetworkState is one connectivity sample. Downlink figures are in Mbit/s.
type NetworkState struct {
	Online        bool
	Type          string
	EffectiveType EffectiveType
	Downlink      float64
	DownlinkMax   float64
	RTT           time.Duration
	SaveData      bool
}

// NetworkMetrics are normalized to [0, 1] and always derived from a state.
type NetworkMetrics struct {
	Bandwidth   float64
	Latency     float64
	Reliability float64
	Stability   float64
}

// NetworkPolicy is what the monitor asks of the controller and client.
type NetworkPolicy struct {
	Priority       Priority
	Throttle       time.Duration
	AutoReconnect  bool
	KeepAlive      bool
	BackgroundSync bool
	Backoff        BackoffPolicy
	Target         FeatureContext
}

// FastWiFiBaseline is assumed when no signal is available.
func FastWiFiBaseline() NetworkState {
	return NetworkState{
		Online:        true,
		Type:          "wifi",
		EffectiveType: EffectiveFast,
		Downlink:      10,
		DownlinkMax:   10,
		RTT:           50 * time.Millisecond,
	}
}

func connectionTypeScore(t string) float64 {
	switch t {
	case "wifi":
		return 1.0
	case "4g":
		return 0.8
	case "3g":
		return 0.6
	case "2g":
		return 0.3
	default:
		return 0.1
	}
}

func latencyScore(rtt time.Duration) float64 {
	return math.Max(0, 1-float64(rtt)/float64(time.Second))
}

// Score is the unweighted mean of the connection type, speed, latency and
// online scores.
func Score(s NetworkState) float64 {
	online := 0.0
	if s.Online {
		online = 1
	}
	speed := math.Min(math.Max(s.Downlink, 0)/10, 1)
	return (connectionTypeScore(s.Type) + speed + latencyScore(s.RTT) + online) / 4
}

func DeriveMetrics(s NetworkState) NetworkMetrics {
	m := NetworkMetrics{
		Latency:   latencyScore(s.RTT),
		Stability: 0.7,
	}
	if s.DownlinkMax > 0 {
		m.Bandwidth = math.Min(math.Max(s.Downlink, 0)/s.DownlinkMax, 1)
	}
	if s.Online {
		m.Reliability = 1
	}
	if s.Type == "wifi" {
		m.Stability = 1
	}
	return m
}

// DerivePolicy maps a state to priority, throttle and reconnect behavior.
// Online states target chat; offline states target notification.
func DerivePolicy(s NetworkState) NetworkPolicy {
	if !s.Online {
		return NetworkPolicy{
			Priority: PriorityLow,
			Throttle: 30 * time.Second,
			Backoff:  ConservativeBackoff(),
			Target:   ContextNotification,
		}
	}

	score := Score(s)
	switch {
	case s.SaveData || score < 0.3:
		return NetworkPolicy{
			Priority:      PriorityLow,
			Throttle:      10 * time.Second,
			AutoReconnect: true,
			Backoff:       ConservativeBackoff(),
			Target:        ContextChat,
		}
	case score < 0.7:
		return NetworkPolicy{
			Priority:      PriorityMedium,
			Throttle:      5 * time.Second,
			AutoReconnect: true,
			KeepAlive:     true,
			Backoff:       DefaultBackoff(),
			Target:        ContextChat,
		}
	default:
		return NetworkPolicy{
			Priority:       PriorityHigh,
			AutoReconnect:  true,
			KeepAlive:      true,
			BackgroundSync: true,
			Backoff:        DefaultBackoff(),
			Target:         ContextChat,
		}
	}
}

// Sampler reports the current connectivity.
type Sampler interface {
	Sample(ctx context.Context) (NetworkState, error)
}

// StaticSampler always reports State; a nil receiver reports ErrNoSignal.
type StaticSampler struct {
	mu    sync.Mutex
	state *NetworkState
}

func NewStaticSampler(s NetworkState) *StaticSampler {
	return &StaticSampler{state: &s}
}

// Set replaces the reported state.
func (s *StaticSampler) Set(state NetworkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
}

func (s *StaticSampler) Sample(context.Context) (NetworkState, error) {
	if s == nil {
		return NetworkState{}, ErrNoSignal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return NetworkState{}, ErrNoSignal
	}
	return *s.state, nil
}

// Pinger measures a round trip to the server.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// RTTSampler derives a state from a ping round trip. Connection type and
// downlink are not observable from a ping and come from Link.
type RTTSampler struct {
	Pinger  Pinger
	Link    NetworkState
	Timeout time.Duration
}

func (s *RTTSampler) Sample(ctx context.Context) (NetworkState, error) {
	if s == nil || s.Pinger == nil {
		return NetworkState{}, ErrNoSignal
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := s.Link
	if state.Type == "" {
		state.Type = "unknown"
	}
	rtt, err := s.Pinger.Ping(ctx)
	if err != nil {
		state.Online = false
		state.RTT = 0
		state.EffectiveType = EffectiveSlow
		return state, nil
	}
	state.Online = true
	state.RTT = rtt
	switch {
	case rtt < 150*time.Millisecond:
		state.EffectiveType = EffectiveFast
	case rtt < 600*time.Millisecond:
		state.EffectiveType = EffectiveMedium
	default:
		state.EffectiveType = EffectiveSlow
	}
	return state, nil
}

// Switcher is the part of ContextController the monitor drives.
type Switcher interface {
	SwitchContext(ctx context.Context, fc FeatureContext, opts SwitchOptions) SwitchResult
}

// NetworkMonitor turns samples into a policy and steers the controller
// toward the policy's target context.
type NetworkMonitor struct {
	mu        sync.Mutex
	state     NetworkState
	metrics   NetworkMetrics
	policy    NetworkPolicy
	hasPolicy bool
	listeners []func(NetworkPolicy)

	switcher Switcher
	sampler  Sampler
	clock    clock.Clock
}

// NewNetworkMonitor starts from the fast wifi baseline. sampler may be nil.
func NewNetworkMonitor(switcher Switcher, sampler Sampler, clk clock.Clock) *NetworkMonitor {
	if clk == nil {
		clk = clock.New()
	}
	baseline := FastWiFiBaseline()
	return &NetworkMonitor{
		state:    baseline,
		metrics:  DeriveMetrics(baseline),
		policy:   DerivePolicy(baseline),
		switcher: switcher,
		sampler:  sampler,
		clock:    clk,
	}
}

// OnPolicy registers fn to be called with every changed policy.
func (m *NetworkMonitor) OnPolicy(fn func(NetworkPolicy)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *NetworkMonitor) State() NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *NetworkMonitor) Metrics() NetworkMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

func (m *NetworkMonitor) Policy() NetworkPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Update records state and, when the policy changed, starts a switch toward
// its target. The returned channel yields that switch's result; it is nil
// when nothing changed.
func (m *NetworkMonitor) Update(ctx context.Context, state NetworkState) <-chan SwitchResult {
	policy := DerivePolicy(state)

	m.mu.Lock()
	changed := !m.hasPolicy || policy != m.policy
	m.state = state
	m.metrics = DeriveMetrics(state)
	m.policy = policy
	m.hasPolicy = true
	listeners := append([]func(NetworkPolicy){}, m.listeners...)
	m.mu.Unlock()

	if !changed {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"online":    state.Online,
		"type":      state.Type,
		"score":     Score(state),
		"priority":  policy.Priority,
		"target":    policy.Target,
		"reconnect": policy.AutoReconnect,
	}).Info("network policy changed")

	for _, fn := range listeners {
		fn(policy)
	}

	if m.switcher == nil {
		return nil
	}
	out := make(chan SwitchResult, 1)
	delay := policy.Throttle
	go func() {
		out <- m.switcher.SwitchContext(ctx, policy.Target, SwitchOptions{
			Priority: policy.Priority,
			Delay:    &delay,
			Details: map[string]interface{}{
				"reason":     "network",
				"keep_alive": policy.KeepAlive,
				"score":      Score(state),
			},
		})
	}()
	return out
}

// sample falls back to the baseline when the sampler has no signal.
func (m *NetworkMonitor) sample(ctx context.Context) NetworkState {
	if m.sampler == nil {
		return FastWiFiBaseline()
	}
	state, err := m.sampler.Sample(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSignal) {
			logrus.WithError(err).Debug("network sample failed")
		}
		return FastWiFiBaseline()
	}
	return state
}

// Run samples every interval until ctx ends.
func (m *NetworkMonitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	m.Update(ctx, m.sample(ctx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Update(ctx, m.sample(ctx))
		}
	}
}
