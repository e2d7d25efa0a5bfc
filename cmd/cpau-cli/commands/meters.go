package commands

import (
	"os"

	"cpau-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(metersCmd)
}

var metersCmd = &cobra.Command{
	Use:   "meters",
	Short: "Lists the active electric meters on the account.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		directory := newDirectory(ctx)

		meters, err := directory.ElectricMeters(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list meters", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Number", "Address", "Rate Category", "Intervals"})
		for _, meter := range meters {
			intervals := ""
			for i, interval := range meter.AvailableIntervals() {
				if i > 0 {
					intervals += ", "
				}
				intervals += interval.String()
			}
			t.AppendRow(table.Row{meter.Number(), meter.Address(), meter.RateCategory(), intervals})
		}
		t.Render()
	},
}
