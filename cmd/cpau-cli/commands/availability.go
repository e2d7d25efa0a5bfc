package commands

import (
	"os"

	"cpau-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	availabilityService string
	availabilityMeter   string
)

func init() {
	availabilityCmd.Flags().StringVar(&availabilityService, "service", "electric", "Service type: electric or water.")
	availabilityCmd.Flags().StringVar(&availabilityMeter, "meter", "", "Meter number, defaults to the first active meter.")
	rootCmd.AddCommand(availabilityCmd)
}

var availabilityCmd = &cobra.Command{
	Use:   "availability [--service electric|water]",
	Short: "Reports the date span upstream holds for each interval.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		directory := newDirectory(ctx)

		meter, err := lookupMeter(ctx, directory, availabilityService, availabilityMeter)
		if err != nil {
			serviceutil.Fatal("failed to look up meter", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Interval", "Earliest", "Latest"})
		for _, interval := range meter.AvailableIntervals() {
			window, err := meter.AvailabilityWindow(ctx, interval)
			if err != nil {
				serviceutil.Fatal("failed to probe availability", err)
			}
			t.AppendRow(table.Row{
				interval.String(),
				window.Earliest.Format("2006-01-02"),
				window.Latest.Format("2006-01-02"),
			})
		}
		t.Render()
	},
}
