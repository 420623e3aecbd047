package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/mselser95/binary-arb/internal/control"
	"github.com/mselser95/binary-arb/internal/risk"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine, risk and open cycle status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	var snap control.Snapshot
	err := newAPIClient(apiURL).get(ctx, "/api/status", &snap)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	renderStatus(cmd.OutOrStdout(), &snap)
	return nil
}

func renderStatus(w io.Writer, snap *control.Snapshot) {
	exec := snap.Execution
	rs := snap.Risk

	admission := "open"
	if exec.Paused {
		admission = "paused"
		if exec.PauseReason != "" {
			admission += " (" + exec.PauseReason + ")"
		}
	}
	breaker := string(rs.Breaker.State)
	if rs.Breaker.Reason != "" {
		breaker += " (" + rs.Breaker.Reason + ")"
	}
	if rs.Breaker.CooldownRemaining > 0 {
		breaker += ", cooldown " + rs.Breaker.CooldownRemaining.Round(time.Second).String()
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("Admission", admission)
	table.Append("Circuit breaker", breaker)
	table.Append("Open cycles", strconv.Itoa(len(exec.Open)))
	table.Append("Cycles closed/aborted", fmt.Sprintf("%d/%d", exec.Stats.CyclesClosed, exec.Stats.CyclesAborted))
	table.Append("Fill rate", fmt.Sprintf("%.1f%%", exec.FillRate*100))
	table.Append("Avg submit latency", fmt.Sprintf("%.0fms", exec.AvgSubmitLatencyMS))
	table.Append("Session PnL", fmt.Sprintf("$%.4f", rs.SessionPnL))
	table.Append("Daily PnL ("+rs.Day+")", fmt.Sprintf("$%.4f", rs.DailyPnL))
	table.Append("Exposure", fmt.Sprintf("$%.2f / $%.2f", rs.OpenExposure, rs.MaxExposure))
	table.Append("Loss streak", strconv.Itoa(rs.ConsecutiveLosses))
	table.Render()

	if len(rs.Rejections) > 0 {
		codes := make([]string, 0, len(rs.Rejections))
		for code := range rs.Rejections {
			codes = append(codes, string(code))
		}
		sort.Strings(codes)
		fmt.Fprint(w, "Rejections:")
		for _, code := range codes {
			fmt.Fprintf(w, " %s=%d", code, rs.Rejections[risk.RejectCode(code)])
		}
		fmt.Fprintln(w)
	}

	if len(exec.Open) > 0 {
		fmt.Fprintln(w, "Open cycles:")
		renderCycles(w, exec.Open)
	}

	for _, alert := range exec.Alerts {
		fmt.Fprintf(w, "ALERT %s [%s] cycle %s: %s\n",
			alert.At.Format(time.RFC3339), alert.Kind, alert.CycleID, alert.Message)
	}
}

func renderCycles(w io.Writer, cycles []*types.Cycle) {
	table := tablewriter.NewWriter(w)
	table.Header("Cycle", "Market", "Dir", "State", "Size", "Yes", "No", "Edge", "PnL", "Reason")

	for _, c := range cycles {
		pnl := "-"
		if c.RealizedPnL != nil {
			pnl = fmt.Sprintf("%.4f", *c.RealizedPnL)
		}
		table.Append(
			shortID(c.ID),
			c.MarketID,
			string(c.Direction),
			string(c.State),
			fmt.Sprintf("%.2f", c.Size),
			fmt.Sprintf("%.3f", c.YesPrice),
			fmt.Sprintf("%.3f", c.NoPrice),
			fmt.Sprintf("%.4f", c.Edge),
			pnl,
			string(c.AbortReason),
		)
	}

	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
