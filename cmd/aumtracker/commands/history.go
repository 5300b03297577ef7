package commands

import (
	"os"
	"strconv"

	"aumtracker/internal/history"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var historyLimit *int

func init() {
	historyLimit = historyCmd.Flags().IntP("limit", "n", 10, "The amount of most recent rows to print, 0 prints all of them.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Prints the most recent rows of the history.",
	Run: func(cmd *cobra.Command, args []string) {
		env := setup()
		defer env.Close()

		tbl, err := env.store.Table(cmd.Context())
		if err != nil {
			env.Close()
			fatal("failed to read history", err)
		}

		rows := tbl.Rows
		if *historyLimit > 0 && len(rows) > *historyLimit {
			rows = rows[len(rows)-*historyLimit:]
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)

		header := table.Row{history.DateColumn}
		configs := []table.ColumnConfig{}
		for i, column := range tbl.Columns {
			header = append(header, column)
			configs = append(configs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight})
		}
		t.AppendHeader(header)
		t.SetColumnConfigs(configs)

		for _, row := range rows {
			out := table.Row{row.Date}
			for _, column := range tbl.Columns {
				value := row.Value(column)
				if !value.Valid {
					out = append(out, "")
					continue
				}
				out = append(out, strconv.FormatFloat(value.Float64, 'f', -1, 64))
			}
			t.AppendRow(out)
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
