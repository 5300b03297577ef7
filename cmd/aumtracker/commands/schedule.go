package commands

import (
	"log/slog"

	"aumtracker/internal/components/chrono"
	"aumtracker/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var runNow *bool

func init() {
	runNow = scheduleCmd.Flags().Bool("now", false, "Also collect once immediately on start.")
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [--now]",
	Short: "Collects on the configured cron schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		env := setup()
		defer env.Close()

		telemetry.InstrumentPerfStats(ctx)

		collect := func() {
			_, err := env.collector.Run(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "scheduled run failed", "err", err.Error())
			}
		}

		cron := chrono.NewStandardCron(env.time, env.tel)
		err := cron.Cron(env.config.Schedule, collect)
		if err != nil {
			env.Close()
			fatal("invalid schedule", err)
		}

		if *runNow {
			collect()
		}

		slog.InfoContext(
			ctx, "waiting for scheduled runs",
			"schedule", env.config.Schedule,
			"timezone", env.time.Location().String(),
		)
		cron.Start(ctx)
	},
}
