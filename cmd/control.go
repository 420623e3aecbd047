package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/binary-arb/internal/control"
	"github.com/spf13/cobra"
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(
		newControlCmd(control.Pause, "Stop admitting new cycles; open cycles continue"),
		newControlCmd(control.Resume, "Resume admitting new cycles"),
		newControlCmd(control.CancelAll, "Cancel the open orders of every open cycle"),
		newControlCmd(control.ResetBreaker, "Close the circuit breaker and clear the loss streak"),
	)
}

func newControlCmd(command control.Command, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   string(command),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			res, err := sendCommand(ctx, newAPIClient(apiURL), command)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	if command == control.ResetBreaker {
		c.Aliases = []string{"reset-breaker"}
	}
	return c
}

func sendCommand(ctx context.Context, client *apiClient, command control.Command) (*control.Result, error) {
	var res control.Result
	err := client.post(ctx, "/api/control/"+string(command), &res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return &res, nil
}
