package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

// ReportFormat represents the output format of a report
type ReportFormat string

const (
	FormatCSV  ReportFormat = "csv"
	FormatJSON ReportFormat = "json"
	FormatPDF  ReportFormat = "pdf"
)

// ParseReportFormat validates a user-supplied format. Empty means CSV.
func ParseReportFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// isoMillis matches JavaScript's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z"

var reportHeader = []string{
	"Subscription ID",
	"Customer Name",
	"Customer Email",
	"Product",
	"Price",
	"Quantity",
	"Total Amount",
	"Status",
	"Created At",
	"Cancelled At",
}

// Report is a rendered subscription report.
type Report struct {
	Format      ReportFormat
	ContentType string
	Filename    string
	Data        []byte
	Rows        int
}

// GenerateSubscriptionReport renders every subscription created in
// [start, end], oldest first.
func (s *Service) GenerateSubscriptionReport(ctx context.Context, start, end time.Time, format ReportFormat) (*Report, error) {
	subs, err := s.src.ListSubscriptionsCreatedBetween(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	r := &Report{Format: format, Rows: len(subs)}
	switch format {
	case FormatJSON:
		if subs == nil {
			subs = []*store.SubscriptionDetail{}
		}
		r.ContentType = "application/json"
		r.Filename = "subscription-report.json"
		r.Data, err = json.Marshal(subs)
	case FormatCSV, "":
		r.Format = FormatCSV
		r.ContentType = "text/csv"
		r.Filename = "subscription-report.csv"
		r.Data, err = renderCSV(subs)
	case FormatPDF:
		r.ContentType = "application/pdf"
		r.Filename = "subscription-report.pdf"
		r.Data, err = renderPDF(subs, start.UTC(), end.UTC(), s.now().UTC())
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s report: %w", r.Format, err)
	}
	return r, nil
}

// renderCSV writes one row per subscription. Fields containing a delimiter,
// quote or newline are quoted per RFC 4180; others are written verbatim.
func renderCSV(subs []*store.SubscriptionDetail) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(reportHeader); err != nil {
		return nil, fmt.Errorf("write CSV header: %w", err)
	}
	for _, sub := range subs {
		if err := w.Write(reportRow(sub)); err != nil {
			return nil, fmt.Errorf("write CSV row %s: %w", sub.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func reportRow(sub *store.SubscriptionDetail) []string {
	status := "Active"
	cancelled := ""
	if sub.CancelledAt != nil {
		status = "Cancelled"
		cancelled = sub.CancelledAt.UTC().Format(isoMillis)
	}
	return []string{
		sub.ID,
		sub.User.Name,
		sub.User.Email,
		sub.Product.Name,
		formatMajor(sub.Price.UnitAmount),
		strconv.FormatInt(sub.Quantity, 10),
		formatMajor(recurringAmount(sub)),
		status,
		sub.CreatedAt.UTC().Format(isoMillis),
		cancelled,
	}
}

// formatMajor converts minor units to a major-unit decimal without trailing zeros.
func formatMajor(minor int64) string {
	return strconv.FormatFloat(float64(minor)/100, 'f', -1, 64)
}
