package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// Close causes.
const (
	CauseCooldown = "cooldown"
	CauseManual   = "manual"
)

// Breaker halts new trades after loss conditions. It opens on Trip and
// closes again when the cooldown elapses or on a manual Reset.
type Breaker struct {
	mu       sync.Mutex
	state    types.BreakerState
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Config holds circuit breaker configuration.
type Config struct {
	Cooldown time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
	Initial  *types.BreakerState // restored state, nil starts CLOSED
}

// Status holds current circuit breaker status for the status view.
type Status struct {
	State             types.BreakerStatus `json:"state"`
	Reason            string              `json:"reason,omitempty"`
	OpenedAt          *time.Time          `json:"opened_at,omitempty"`
	CooldownRemaining time.Duration       `json:"cooldown_remaining"`
	Trips             int                 `json:"trips"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (breaker *Breaker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	breaker = &Breaker{
		state:    types.BreakerState{Status: types.BreakerClosed},
		cooldown: cfg.Cooldown,
		now:      now,
		logger:   cfg.Logger,
	}
	if cfg.Initial != nil && cfg.Initial.Status != "" {
		breaker.state = *cfg.Initial
	}

	breaker.publish()

	return breaker, nil
}

// Trip opens the breaker. It returns false if the breaker was already open.
func (b *Breaker) Trip(reason string) (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Status == types.BreakerOpen {
		return false
	}

	b.state.Status = types.BreakerOpen
	b.state.Reason = reason
	b.state.OpenedAt = b.now()
	b.state.Trips++
	b.publish()
	StateChangesTotal.WithLabelValues(string(types.BreakerOpen), reason).Inc()

	b.logger.Warn("circuit-breaker-opened",
		zap.String("reason", reason),
		zap.Duration("cooldown", b.cooldown),
		zap.Int("trips", b.state.Trips))

	return true
}

// Poll closes the breaker if its cooldown has elapsed and reports whether
// that happened.
func (b *Breaker) Poll() (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Status != types.BreakerOpen {
		return false
	}
	if b.now().Sub(b.state.OpenedAt) < b.cooldown {
		return false
	}

	b.closeLocked(CauseCooldown)
	return true
}

// Reset forces the breaker closed. It returns false if it was not open.
func (b *Breaker) Reset() (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Status != types.BreakerOpen {
		return false
	}

	b.closeLocked(CauseManual)
	return true
}

func (b *Breaker) closeLocked(cause string) {
	openFor := b.now().Sub(b.state.OpenedAt)
	reason := b.state.Reason

	b.state.Status = types.BreakerClosed
	b.state.Reason = ""
	b.state.OpenedAt = time.Time{}
	b.publish()
	StateChangesTotal.WithLabelValues(string(types.BreakerClosed), cause).Inc()

	b.logger.Info("circuit-breaker-closed",
		zap.String("cause", cause),
		zap.String("open-reason", reason),
		zap.Duration("open-for", openFor))
}

// IsOpen reports whether trading is currently blocked. It does not apply
// the cooldown; call Poll first for that.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Status == types.BreakerOpen
}

// State returns the persistable breaker state.
func (b *Breaker) State() types.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetStatus returns current circuit breaker status.
func (b *Breaker) GetStatus() (status Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	status = Status{
		State:  b.state.Status,
		Reason: b.state.Reason,
		Trips:  b.state.Trips,
	}
	if b.state.Status == types.BreakerOpen {
		openedAt := b.state.OpenedAt
		status.OpenedAt = &openedAt
		remaining := b.cooldown - b.now().Sub(openedAt)
		if remaining > 0 {
			status.CooldownRemaining = remaining
		}
	}

	return status
}

func (b *Breaker) publish() {
	if b.state.Status == types.BreakerOpen {
		BreakerOpen.Set(1)
	} else {
		BreakerOpen.Set(0)
	}
	BreakerTrips.Set(float64(b.state.Trips))
}
