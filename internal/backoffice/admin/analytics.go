package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/virtualcc/backoffice/internal/backoffice/analytics"
	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
	"github.com/virtualcc/backoffice/internal/logging"
)

// Analytics is the aggregator behind the analytics and report endpoints.
type Analytics interface {
	GetSubscriptionMetrics(ctx context.Context, start, end *time.Time) (*analytics.SubscriptionMetrics, error)
	GenerateSubscriptionReport(ctx context.Context, start, end time.Time, format analytics.ReportFormat) (*analytics.Report, error)
}

// HandleAnalytics serves subscription metrics for an optional
// startDate/endDate window.
func HandleAnalytics(svc Analytics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := httputil.QueryDate(r, "startDate")
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to fetch analytics")
			return
		}
		end, err := httputil.QueryDate(r, "endDate")
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to fetch analytics")
			return
		}
		if end != nil {
			e := endOfDay(*end, r.URL.Query().Get("endDate"))
			end = &e
		}

		metrics, err := svc.GetSubscriptionMetrics(r.Context(), start, end)
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to fetch analytics")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, metrics)
	}
}

// HandleReport renders a subscription report as a file download. Both dates
// are required.
func HandleReport(svc Analytics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := httputil.QueryDate(r, "startDate")
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to generate report")
			return
		}
		end, err := httputil.QueryDate(r, "endDate")
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to generate report")
			return
		}
		if start == nil || end == nil {
			httputil.WriteError(w, r, boerrors.Validation("generate_report", "Start date and end date are required"), "")
			return
		}
		format, err := analytics.ParseReportFormat(r.URL.Query().Get("format"))
		if err != nil {
			httputil.WriteError(w, r, boerrors.Validation("generate_report", err.Error()), "")
			return
		}

		report, err := svc.GenerateSubscriptionReport(r.Context(), *start, endOfDay(*end, r.URL.Query().Get("endDate")), format)
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to generate report")
			return
		}

		logging.FromContext(r.Context()).Info().
			Str("format", string(report.Format)).
			Int("rows", report.Rows).
			Msg("Subscription report generated")

		w.Header().Set("Content-Type", report.ContentType)
		w.Header().Set("Content-Disposition", "attachment; filename="+report.Filename)
		w.Header().Set("Content-Length", strconv.Itoa(len(report.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(report.Data)
	}
}

// endOfDay widens a bare YYYY-MM-DD end date to include the whole day.
func endOfDay(t time.Time, raw string) time.Time {
	if len(raw) == len("2006-01-02") {
		return t.Add(24*time.Hour - time.Millisecond)
	}
	return t
}
