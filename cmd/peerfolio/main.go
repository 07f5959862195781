// Command peerfolio is the operations CLI for the portfolio valuation
// engine: value portfolios, build performance series, rank the leaderboard,
// mutate lots and run the diagnostics server, all against the same cache and
// provider stack the application uses.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "peerfolio"
	version = "v1.0.0"
)

var (
	flagConfig string
	flagJSON   bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Portfolio valuation engine CLI",
		Version: version,
		Long: `peerfolio values user portfolios from recorded lots and live or
historical market prices, with read-through caching at every layer.

Subcommands run one engine operation each; 'monitor' serves the
read-only diagnostics endpoints.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to engine.yaml (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Force JSON output even on a TTY")

	rootCmd.AddCommand(
		newValueCmd(),
		newSeriesCmd(),
		newLeaderboardCmd(),
		newLotsCmd(),
		newInvalidateCmd(),
		newMonitorCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
