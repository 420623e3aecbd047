package websocket

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReconnectConfig holds the configuration for exponential backoff reconnection.
type ReconnectConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = up to 20% added
}

// ReconnectManager retries a connect function with jittered exponential
// backoff.
type ReconnectManager struct {
	config  ReconnectConfig
	logger  *zap.Logger
	jitter  func() float64 // in [0, 1)
	mu      sync.Mutex
	current time.Duration
}

// NewReconnectManager creates a reconnection manager. Zero values fall back
// to 1s initial delay, 30s cap and a multiplier of 2.
func NewReconnectManager(cfg ReconnectConfig, logger *zap.Logger) *ReconnectManager {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}

	return &ReconnectManager{
		config:  cfg,
		logger:  logger,
		jitter:  rand.Float64,
		current: cfg.InitialDelay,
	}
}

// Reconnect calls connect until it succeeds or ctx ends, waiting a growing
// delay before each attempt.
func (rm *ReconnectManager) Reconnect(ctx context.Context, connect func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		delay := rm.nextDelay()
		rm.logger.Info("attempting-reconnection",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		ReconnectAttemptsTotal.Inc()
		err := connect(ctx)
		if err == nil {
			rm.Reset()
			rm.logger.Info("reconnection-successful", zap.Int("attempts", attempt))
			return nil
		}

		ReconnectFailuresTotal.Inc()
		rm.logger.Warn("reconnection-failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// Reset restores the initial delay.
func (rm *ReconnectManager) Reset() {
	rm.mu.Lock()
	rm.current = rm.config.InitialDelay
	rm.mu.Unlock()
}

// nextDelay returns the jittered current delay and grows the base for the
// following attempt.
func (rm *ReconnectManager) nextDelay() time.Duration {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delay := time.Duration(float64(rm.current) * (1 + rm.jitter()*rm.config.JitterPercent))

	next := time.Duration(float64(rm.current) * rm.config.BackoffMultiplier)
	if next > rm.config.MaxDelay {
		next = rm.config.MaxDelay
	}
	rm.current = next

	return delay
}
