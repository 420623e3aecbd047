package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mselser95/binary-arb/internal/execution"
	"github.com/mselser95/binary-arb/internal/risk"
	"go.uber.org/zap"
)

// Command is an operator command.
type Command string

const (
	Pause        Command = "pause"
	Resume       Command = "resume"
	CancelAll    Command = "cancel-all"
	ResetBreaker Command = "reset-circuit-breaker"
	Status       Command = "status"
)

// Commands lists every supported command.
var Commands = []Command{Pause, Resume, CancelAll, ResetBreaker, Status}

// ParseCommand maps a command name to a Command.
func ParseCommand(name string) (Command, error) {
	cmd := Command(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Commands {
		if cmd == known {
			return cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", name)
}

// Executor is the execution side of the control surface.
type Executor interface {
	Pause(reason string) bool
	Resume() bool
	CancelAll() int
	Status() execution.Status
}

// RiskControl is the risk side of the control surface.
type RiskControl interface {
	Reset() bool
	Status() risk.Status
}

// Snapshot is the combined state returned by the status command.
type Snapshot struct {
	Execution execution.Status `json:"execution"`
	Risk      risk.Status      `json:"risk"`
	At        time.Time        `json:"at"`
}

// Result is the outcome of a command.
type Result struct {
	Command  Command   `json:"command"`
	Changed  bool      `json:"changed"`
	Message  string    `json:"message"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Dispatcher maps commands onto the controller and the risk manager.
type Dispatcher struct {
	exec   Executor
	risk   RiskControl
	logger *zap.Logger
	now    func() time.Time
}

// Config holds dispatcher configuration.
type Config struct {
	Executor Executor
	Risk     RiskControl
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(cfg *Config) (*Dispatcher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Executor == nil || cfg.Risk == nil {
		return nil, fmt.Errorf("executor and risk control are required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{exec: cfg.Executor, risk: cfg.Risk, logger: cfg.Logger, now: now}, nil
}

// Execute runs one command.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execute %s: %w", cmd, err)
	}

	res := &Result{Command: cmd}
	switch cmd {
	case Pause:
		res.Changed = d.exec.Pause("operator")
		res.Message = "admission paused"
		if !res.Changed {
			res.Message = "admission already paused"
		}
	case Resume:
		res.Changed = d.exec.Resume()
		res.Message = "admission resumed"
		if !res.Changed {
			res.Message = "admission was not paused"
		}
	case CancelAll:
		n := d.exec.CancelAll()
		res.Changed = n > 0
		res.Message = fmt.Sprintf("cancel requested for %d open cycles", n)
	case ResetBreaker:
		res.Changed = d.risk.Reset()
		res.Message = "circuit breaker reset"
		if !res.Changed {
			res.Message = "circuit breaker was closed"
		}
	case Status:
		res.Snapshot = &Snapshot{
			Execution: d.exec.Status(),
			Risk:      d.risk.Status(),
			At:        d.now(),
		}
		res.Message = "ok"
	default:
		CommandsTotal.WithLabelValues(string(cmd), "unknown").Inc()
		return nil, fmt.Errorf("unknown command %q", cmd)
	}

	CommandsTotal.WithLabelValues(string(cmd), "ok").Inc()
	if cmd != Status {
		d.logger.Info("control-command-executed",
			zap.String("command", string(cmd)),
			zap.Bool("changed", res.Changed),
			zap.String("message", res.Message))
	}

	return res, nil
}
