package admin

import (
	"context"
	"net/http"

	"github.com/virtualcc/backoffice/internal/backoffice/bometrics"
	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

// StatusSource is the read-only data the status endpoint aggregates.
type StatusSource interface {
	CountUsers(ctx context.Context) (int, error)
	CountSubscriptionsByState(ctx context.Context) (active, cancelled int, err error)
	CountOrdersByStatus(ctx context.Context) (map[store.OrderStatus]int, error)
	CountReconciliationsByState(ctx context.Context) (map[store.ReconciliationState]int, error)
}

// RecentActivity supplies the latest activity entries.
type RecentActivity interface {
	Recent(ctx context.Context, limit int) ([]*store.ActivityEntry, error)
}

const statusRecentActivity = 10

type subscriptionCounts struct {
	Active    int `json:"active"`
	Cancelled int `json:"cancelled"`
}

type reconciliationSummary struct {
	Total   int                               `json:"total"`
	Done    int                               `json:"done"`
	Pending int                               `json:"pending"`
	ByState map[store.ReconciliationState]int `json:"by_state"`
}

// StatusReport is the body of the status endpoint.
type StatusReport struct {
	Version         string                    `json:"version"`
	Users           int                       `json:"users"`
	Subscriptions   subscriptionCounts        `json:"subscriptions"`
	Orders          map[store.OrderStatus]int `json:"orders"`
	Reconciliations reconciliationSummary     `json:"reconciliations"`
	RecentActivity  []ActivityView            `json:"recent_activity"`
}

// Status collects the counts reported by the status endpoint and refreshes
// the state gauges.
func Status(ctx context.Context, src StatusSource, version string) (*StatusReport, error) {
	users, err := src.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	active, cancelled, err := src.CountSubscriptionsByState(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := src.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, err
	}
	recons, err := src.CountReconciliationsByState(ctx)
	if err != nil {
		return nil, err
	}

	SyncGauges(active, cancelled, recons)

	summary := reconciliationSummary{ByState: recons}
	for state, c := range recons {
		summary.Total += c
		if state == store.ReconDone {
			summary.Done += c
		} else {
			summary.Pending += c
		}
	}
	if orders == nil {
		orders = map[store.OrderStatus]int{}
	}
	if summary.ByState == nil {
		summary.ByState = map[store.ReconciliationState]int{}
	}

	return &StatusReport{
		Version:         version,
		Users:           users,
		Subscriptions:   subscriptionCounts{Active: active, Cancelled: cancelled},
		Orders:          orders,
		Reconciliations: summary,
	}, nil
}

// SyncGauges publishes subscription and reconciliation state counts.
func SyncGauges(active, cancelled int, recons map[store.ReconciliationState]int) {
	bometrics.SubscriptionsByState.WithLabelValues("active").Set(float64(active))
	bometrics.SubscriptionsByState.WithLabelValues("cancelled").Set(float64(cancelled))
	for _, state := range []store.ReconciliationState{store.ReconReceived, store.ReconContactResolved, store.ReconInvoiceCreated, store.ReconDone, store.ReconFailed} {
		bometrics.ReconciliationsByState.WithLabelValues(string(state)).Set(float64(recons[state]))
	}
}

// HandleStatus returns a handler that reports aggregate back office status.
// recent may be nil.
func HandleStatus(src StatusSource, recent RecentActivity, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := Status(r.Context(), src, version)
		if err != nil {
			httputil.WriteError(w, r, err, "Failed to load status")
			return
		}
		resp.RecentActivity = []ActivityView{}
		if recent != nil {
			entries, err := recent.Recent(r.Context(), statusRecentActivity)
			if err != nil {
				httputil.WriteError(w, r, err, "Failed to load status")
				return
			}
			for _, e := range entries {
				resp.RecentActivity = append(resp.RecentActivity, viewOf(e))
			}
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
