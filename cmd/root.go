package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	configFile string
	envFile    string
	apiURL     string
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "binary-arb",
	Short: "Binary prediction market arbitrage engine",
	Long: `Binary prediction market arbitrage engine.

Tracks the YES and NO order books of binary markets, detects combined-price
gaps (asks summing below 1, or bids summing above 1), and executes both legs
as one hedged cycle under a risk manager with a circuit breaker.

"run" starts the engine. The remaining commands talk to a running engine
through its HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultAPIURL(), "base URL of a running engine's HTTP API")
}

func defaultAPIURL() string {
	if url := os.Getenv("BINARY_ARB_API"); url != "" {
		return url
	}
	return "http://localhost:8080"
}
