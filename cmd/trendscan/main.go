// trendscan is the daily trend-following decision engine: one scan per day
// over a sleeve-partitioned universe, producing an action card, a persisted
// run snapshot and updated stop state.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "trendscan"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily trend-following decision engine",
		Version: version,
		Long: `trendscan runs one decision pass per day: classify every instrument in the
universe, manage stops on held positions, aggregate portfolio risk and emit
an action card. It never places orders.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level, _ := cmd.Flags().GetString("log-level")
			if lvl, err := zerolog.ParseLevel(level); err == nil {
				zerolog.SetGlobalLevel(lvl)
			}
		},
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config (defaults when empty)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
