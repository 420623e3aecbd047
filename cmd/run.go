package cmd

import (
	"fmt"

	"github.com/mselser95/binary-arb/internal/app"
	"github.com/mselser95/binary-arb/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the arbitrage engine",
	Long: `Starts the arbitrage engine, which will:
1. Discover binary markets from the Gamma API
2. Subscribe to their order books via WebSocket
3. Detect combined-price gaps on every book update (or on an interval)
4. Open hedged cycles, paper or live, subject to the risk manager
5. Persist cycles and resume unfinished ones after a restart

Use --paused to start with admission paused.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("paused", false, "start with cycle admission paused")
	runCmd.Flags().String("mode", "", "execution mode override: paper or live")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if paused, _ := cmd.Flags().GetBool("paused"); paused {
		cfg.StartPaused = true
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.ExecutionMode = mode
		if err = cfg.Validate(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("config-loaded",
		zap.String("execution-mode", cfg.ExecutionMode),
		zap.String("storage-mode", cfg.StorageMode),
		zap.Bool("start-paused", cfg.StartPaused))

	application, err := app.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
