package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/mselser95/binary-arb/pkg/httpserver"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List tracked markets with their top of book",
	Args:  cobra.NoArgs,
	RunE:  runMarkets,
}

//nolint:gochecknoglobals // Cobra boilerplate
var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List recent cycles, newest first",
	Args:  cobra.NoArgs,
	RunE:  runCycles,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd, cyclesCmd)
	cyclesCmd.Flags().IntP("limit", "l", 20, "maximum number of cycles to show")
}

func runMarkets(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	var resp httpserver.MarketsResponse
	err := newAPIClient(apiURL).get(ctx, "/api/markets", &resp)
	if err != nil {
		return fmt.Errorf("markets: %w", err)
	}

	renderMarkets(cmd.OutOrStdout(), &resp)
	return nil
}

func renderMarkets(w io.Writer, resp *httpserver.MarketsResponse) {
	table := tablewriter.NewWriter(w)
	table.Header("Market", "Slug", "Status", "Yes bid/ask", "No bid/ask", "Ask sum", "Bid sum", "Age")

	for _, m := range resp.Markets {
		age := "-"
		if m.Error == "" || m.Stale {
			age = (time.Duration(m.AgeMS) * time.Millisecond).String()
		}
		if m.Stale {
			age += " (stale)"
		}
		table.Append(
			m.MarketID,
			truncate(m.Slug, 40),
			string(m.Status),
			fmt.Sprintf("%.3f / %.3f", m.Yes.BestBidPrice, m.Yes.BestAskPrice),
			fmt.Sprintf("%.3f / %.3f", m.No.BestBidPrice, m.No.BestAskPrice),
			fmt.Sprintf("%.3f", m.AskSum),
			fmt.Sprintf("%.3f", m.BidSum),
			age,
		)
	}

	table.Render()
	fmt.Fprintf(w, "%d markets tracked\n", resp.Count)
}

func runCycles(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	var resp httpserver.CyclesResponse
	err := newAPIClient(apiURL).get(ctx, "/api/cycles?"+url.Values{"limit": {strconv.Itoa(limit)}}.Encode(), &resp)
	if err != nil {
		return fmt.Errorf("cycles: %w", err)
	}

	if resp.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no cycles recorded")
		return nil
	}
	renderCycles(cmd.OutOrStdout(), resp.Cycles)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
