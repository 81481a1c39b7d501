package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/fusebench/internal/telemetry"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""

	metricsFile string
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fusebench",
		Short: "fusebench: compare reads through a remote filesystem mount with direct downloads",
		Long: "fusebench times copying the same files through a mounted project and through the " +
			"platform download tool, locally or as jobs across several instance types.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", "", "config file (default $XDG_CONFIG_HOME/fusebench/config.yaml)")
	cmd.PersistentFlags().StringVar(&metricsFile, "metrics", "", "write copy and API timing summaries as JSON to this file")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		level, err := zerolog.ParseLevel(levelStr)
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		telemetry.InitGlobal(metricsFile != "" || level <= zerolog.DebugLevel)
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStreamCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fusebench %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger
func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        colorable.NewColorableStderr(),
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
		TimeFormat: time.RFC3339,
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Main entry point
func main() {
	setupLogger()
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)
	err := root.Execute()
	if ferr := telemetry.GetGlobal().Flush(metricsFile); ferr != nil {
		log.Warn().Err(ferr).Msg("failed to write metrics")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
