package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/virtualcc/backoffice/internal/backoffice/analytics"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

const dateLayout = "2006-01-02"

var (
	reportStart  string
	reportEnd    string
	reportFormat string
	reportOut    string

	metricsStart string
	metricsEnd   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a subscription report",
	Example: `  backoffice report --start 2026-01-01 --end 2026-03-31
  backoffice report --start 2026-01-01 --end 2026-03-31 --format pdf --out q1.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseDateFlag("start", reportStart)
		if err != nil {
			return err
		}
		end, err := parseDateFlag("end", reportEnd)
		if err != nil {
			return err
		}
		if start == nil || end == nil {
			return fmt.Errorf("--start and --end are required")
		}
		if len(reportEnd) == len(dateLayout) {
			*end = end.Add(24*time.Hour - time.Millisecond)
		}
		format, err := analytics.ParseReportFormat(reportFormat)
		if err != nil {
			return err
		}

		return withStore(func(s *store.Store) error {
			report, err := analytics.NewService(s).GenerateSubscriptionReport(cmd.Context(), *start, *end, format)
			if err != nil {
				return err
			}
			if reportOut == "" || reportOut == "-" {
				_, err = cmd.OutOrStdout().Write(report.Data)
				return err
			}
			if err := os.WriteFile(reportOut, report.Data, 0o600); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d subscriptions to %s\n", report.Rows, reportOut)
			return nil
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print subscription metrics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseDateFlag("start", metricsStart)
		if err != nil {
			return err
		}
		end, err := parseDateFlag("end", metricsEnd)
		if err != nil {
			return err
		}
		if end != nil && len(metricsEnd) == len(dateLayout) {
			*end = end.Add(24*time.Hour - time.Millisecond)
		}

		return withStore(func(s *store.Store) error {
			m, err := analytics.NewService(s).GetSubscriptionMetrics(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportStart, "start", "", "first day of the report (YYYY-MM-DD or RFC 3339)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "last day of the report, inclusive (YYYY-MM-DD or RFC 3339)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "csv", "report format: csv, json or pdf")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "write to this file instead of stdout")

	metricsCmd.Flags().StringVar(&metricsStart, "start", "", "window start (defaults to twelve months before end)")
	metricsCmd.Flags().StringVar(&metricsEnd, "end", "", "window end (defaults to now)")
}

// parseDateFlag parses an optional date flag. A bare date is midnight UTC.
func parseDateFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, dateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("--%s must be YYYY-MM-DD or RFC 3339, got %q", name, raw)
}
