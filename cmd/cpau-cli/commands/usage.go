package commands

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cpau-backend/lib/serviceutil"
	"cpau-backend/lib/timezone"
	"cpau-backend/services/usage"

	"github.com/spf13/cobra"
)

var (
	usageService   string
	usageMeter     string
	usageInterval  string
	usageStart     string
	usageEnd       string
	usageChunkDays int
	usageOut       string
)

func init() {
	usageCmd.Flags().StringVar(&usageService, "service", "electric", "Service type: electric or water.")
	usageCmd.Flags().StringVar(&usageMeter, "meter", "", "Meter number, defaults to the first active meter.")
	usageCmd.Flags().StringVar(&usageInterval, "interval", "daily", "One of billing, monthly, daily, hourly, 15min.")
	usageCmd.Flags().StringVar(&usageStart, "start", "", "Start date, YYYY-MM-DD.")
	usageCmd.Flags().StringVar(&usageEnd, "end", "", "End date, YYYY-MM-DD; defaults per service.")
	usageCmd.Flags().IntVar(&usageChunkDays, "chunk-days", usage.DefaultChunkDays, "Days fetched per chunk when streaming.")
	usageCmd.Flags().StringVar(&usageOut, "out", "-", "CSV output path, - for stdout.")
	rootCmd.AddCommand(usageCmd)
}

func parseDate(name, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	date, err := time.ParseInLocation("2006-01-02", value, timezone.Location)
	if err != nil {
		serviceutil.Fatal("failed to parse --"+name, err)
	}
	return date
}

var usageCmd = &cobra.Command{
	Use:   "usage --start <date> [--service electric|water] [--interval <interval>]",
	Short: "Fetches usage records and writes them as CSV.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		interval, err := usage.ParseInterval(usageInterval)
		if err != nil {
			serviceutil.Fatal("invalid --interval", err)
		}
		start := parseDate("start", usageStart)
		end := parseDate("end", usageEnd)
		if start.IsZero() {
			serviceutil.Fatal("missing required flag", os.ErrInvalid)
		}

		directory := newDirectory(ctx)
		meter, err := lookupMeter(ctx, directory, usageService, usageMeter)
		if err != nil {
			serviceutil.Fatal("failed to look up meter", err)
		}

		var out io.Writer = os.Stdout
		if usageOut != "-" {
			file, err := os.Create(usageOut)
			if err != nil {
				serviceutil.Fatal("failed to create output file", err)
			}
			defer file.Close()
			out = file
		}

		writer := csv.NewWriter(out)
		unit := "kwh"
		if usageService == "water" {
			unit = "gallons"
		}
		writer.Write([]string{
			"timestamp", "billing_period",
			"import_" + unit, "export_" + unit, "net_" + unit,
		})

		timestampLayout := "2006-01-02"
		if interval == usage.IntervalHourly || interval == usage.IntervalFifteenMinute {
			timestampLayout = "2006-01-02 15:04"
		}

		total := 0
		started := time.Now()
		err = meter.StreamUsage(ctx, interval, start, end, usageChunkDays, func(records []usage.Record) error {
			for _, record := range records {
				err := writer.Write([]string{
					record.Timestamp.Format(timestampLayout),
					record.BillingPeriod,
					strconv.FormatFloat(record.Imported, 'f', -1, 64),
					strconv.FormatFloat(record.Exported, 'f', -1, 64),
					strconv.FormatFloat(record.Net, 'f', -1, 64),
				})
				if err != nil {
					return err
				}
			}
			total += len(records)
			writer.Flush()
			return writer.Error()
		})
		if err != nil {
			serviceutil.Fatal("failed to fetch usage", err)
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			serviceutil.Fatal("failed to write csv", err)
		}
		slog.Info("wrote usage records",
			"records", total, "seconds", time.Since(started).Seconds())
	},
}
