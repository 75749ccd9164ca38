package backoffice

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/admin"
)

const stateMetricsInterval = 30 * time.Second

func runStateMetrics(ctx context.Context, src admin.StatusSource) {
	ticker := time.NewTicker(stateMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for these gauges.
	updateStateGauges(ctx, src)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateStateGauges(ctx, src)
		}
	}
}

func updateStateGauges(ctx context.Context, src admin.StatusSource) {
	active, cancelled, err := src.CountSubscriptionsByState(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update subscription state metrics")
		return
	}
	recons, err := src.CountReconciliationsByState(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update reconciliation state metrics")
		return
	}
	admin.SyncGauges(active, cancelled, recons)
}
