package commands

import (
	"aumtracker/internal/collector"

	"github.com/spf13/cobra"
)

var dumpDir *string

func init() {
	dumpDir = runCmd.Flags().String("dump", "", "Write every fetched page into this directory.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collects the AUM of every identifier once and appends a row to the history.",
	Run: func(cmd *cobra.Command, args []string) {
		env := setup(func(c *collector.Config) {
			if *dumpDir != "" {
				c.DumpDir = *dumpDir
			}
		})
		_, err := env.collector.Run(cmd.Context())
		env.Close()
		if err != nil {
			fatal("failed to persist row", err)
		}
	},
}
