package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ratingcast/internal/config"
	"ratingcast/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "ratingcast",
	Short: "Fetch, model and plot warehouse rating tables",
	Long: "ratingcast caches warehouse tables locally, fits an ordinal model of their rating\n" +
		"column, writes the predictions back and plots true against predicted ratings by year.\n" +
		"Every stage is skipped when its artifact already exists.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.configPath, "config", "c", config.DefaultPath, "Configuration file (.ini, .yaml or .json)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text, json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(rootFlags.logLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(rootFlags.logFormat)
	if err != nil {
		return err
	}
	logging.Init(level, format, cmd.ErrOrStderr())
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ratingcast version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ratingcast %s\n", version)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
