package control

import (
	"context"
	"testing"

	"github.com/mselser95/binary-arb/internal/execution"
	"github.com/mselser95/binary-arb/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeExecutor struct {
	paused   bool
	canceled int
	open     int
}

func (f *fakeExecutor) Pause(string) bool {
	changed := !f.paused
	f.paused = true
	return changed
}

func (f *fakeExecutor) Resume() bool {
	changed := f.paused
	f.paused = false
	return changed
}

func (f *fakeExecutor) CancelAll() int {
	f.canceled += f.open
	return f.open
}

func (f *fakeExecutor) Status() execution.Status {
	return execution.Status{Paused: f.paused}
}

type fakeRisk struct{ open bool }

func (f *fakeRisk) Reset() bool {
	changed := f.open
	f.open = false
	return changed
}

func (f *fakeRisk) Status() risk.Status {
	return risk.Status{ConsecutiveLosses: 2}
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range Commands {
		got, err := ParseCommand(" " + string(cmd) + " ")
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}

	got, err := ParseCommand("PAUSE")
	require.NoError(t, err)
	assert.Equal(t, Pause, got)

	_, err = ParseCommand("shutdown")
	assert.ErrorContains(t, err, "unknown command")
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(&Config{})
	assert.ErrorContains(t, err, "logger cannot be nil")

	_, err = NewDispatcher(&Config{Logger: zaptest.NewLogger(t)})
	assert.Error(t, err)
}

func TestExecute(t *testing.T) {
	exec := &fakeExecutor{open: 2}
	rk := &fakeRisk{open: true}
	d, err := NewDispatcher(&Config{Executor: exec, Risk: rk, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		cmd     Command
		changed bool
		message string
	}{
		{Pause, true, "admission paused"},
		{Pause, false, "admission already paused"},
		{Resume, true, "admission resumed"},
		{Resume, false, "admission was not paused"},
		{CancelAll, true, "cancel requested for 2 open cycles"},
		{ResetBreaker, true, "circuit breaker reset"},
		{ResetBreaker, false, "circuit breaker was closed"},
	}

	for _, tt := range tests {
		res, err := d.Execute(ctx, tt.cmd)
		require.NoError(t, err, tt.cmd)
		assert.Equal(t, tt.changed, res.Changed, tt.cmd)
		assert.Equal(t, tt.message, res.Message, tt.cmd)
		assert.Nil(t, res.Snapshot)
	}
	assert.Equal(t, 2, exec.canceled)
}

func TestExecute_Status(t *testing.T) {
	d, err := NewDispatcher(&Config{Executor: &fakeExecutor{paused: true}, Risk: &fakeRisk{}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	res, err := d.Execute(context.Background(), Status)
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Snapshot.Execution.Paused)
	assert.Equal(t, 2, res.Snapshot.Risk.ConsecutiveLosses)
	assert.False(t, res.Snapshot.At.IsZero())
}

func TestExecute_Errors(t *testing.T) {
	d, err := NewDispatcher(&Config{Executor: &fakeExecutor{}, Risk: &fakeRisk{}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = d.Execute(context.Background(), Command("reboot"))
	assert.ErrorContains(t, err, "unknown command")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Execute(ctx, Pause)
	assert.ErrorIs(t, err, context.Canceled)
}
