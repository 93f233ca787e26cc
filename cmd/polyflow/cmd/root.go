package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "polyflow",
	Short: "A prediction-market trading decision engine",
	Long: `Polyflow scans binary prediction markets for mispriced outcome pairs,
filters candidate trades through portfolio-level risk limits, and executes
the survivors with all-or-nothing multi-leg semantics.

It provides tools for:
  - Running the live or paper trading engine
  - One-shot market scans for arbitrage candidates
  - Querying the execution journal
  - Generating a starter configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
