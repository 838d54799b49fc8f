package reconcile

import (
	"context"
	"time"

	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

// Run executes Sync on a fixed interval until the context is cancelled. This
// is the only recurring background activity in the process.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Infof("scheduled sync every %s", interval)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduled sync stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if _, err := r.Sync(ctx); err != nil {
				logger.Errorf("scheduled sync failed: %v", err)
				continue
			}
			metrics.SyncRuns.WithLabelValues("scheduled").Inc()
		}
	}
}
