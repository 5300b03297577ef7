package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"aumtracker/internal/collector"
	"aumtracker/internal/components/chrono"
	"aumtracker/internal/components/serviceutil"
	"aumtracker/internal/components/telemetry"
	"aumtracker/internal/history"

	"github.com/spf13/cobra"
)

var configPath *string
var verbose *bool

var otelSetup telemetry.Telemetry

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file, config.local.json5 next to it takes priority.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging.")
}

var rootCmd = &cobra.Command{
	Use:   "aumtracker",
	Short: "aumtracker records the assets under management of exchange traded products.",
	Long: `aumtracker records the assets under management of exchange traded products.

Without a subcommand it collects once, see "aumtracker run".`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
		if *verbose {
			slog.DebugContext(cmd.Context(), "verbose logging enabled")
		}

		var err error
		otelSetup, err = telemetry.SetupFromEnv(cmd.Context(), "aumtracker")
		if err != nil {
			serviceutil.Fatal("setup telemetry", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownTelemetry()
	},
	Run: func(cmd *cobra.Command, args []string) {
		runCmd.Run(cmd, args)
	},
}

func shutdownTelemetry() {
	err := otelSetup.Shutdown(context.Background())
	if err != nil {
		slog.Warn("failed to flush telemetry", "err", err.Error())
	}
}

// fatal flushes telemetry before exiting, os.Exit skips PersistentPostRun.
func fatal(message string, err error) {
	shutdownTelemetry()
	serviceutil.Fatal(message, err)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type environment struct {
	config    collector.Config
	time      chrono.StandardTime
	tel       telemetry.API
	store     history.Store
	collector collector.Collector
}

func (e environment) Close() {
	err := e.store.Close()
	if err != nil {
		slog.Warn("failed to close history", "err", err.Error())
	}
}

// setup loads the config and opens everything a command needs, `overrides`
// apply command line flags on top of the config.
func setup(overrides ...func(c *collector.Config)) environment {
	config, err := collector.LoadConfig(*configPath)
	if err != nil {
		fatal("failed to read config", err)
	}
	for _, override := range overrides {
		override(&config)
	}
	err = config.Validate()
	if err != nil {
		fatal("invalid command line overrides", err)
	}
	clock, err := chrono.NewStandardTime(config.Timezone)
	if err != nil {
		fatal("failed to load timezone", err)
	}

	tel := telemetry.SlogAPI{}
	store, err := config.OpenStore(tel)
	if err != nil {
		fatal("failed to open history", err)
	}

	c, err := collector.NewCollector(config, config.NewFetcherOpener(tel), store, clock, tel)
	if err != nil {
		store.Close()
		fatal("failed to create collector", err)
	}

	return environment{
		config:    config,
		time:      clock,
		tel:       tel,
		store:     store,
		collector: c,
	}
}
