package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// StartRefreshJob refreshes every temp channel on interval until ctx is done.
func StartRefreshJob(ctx context.Context, c *Controller, interval time.Duration) {
	if interval <= 0 {
		slog.Info("refresh job disabled", slog.String("component", "lifecycle"))
		return
	}
	slog.Info("refresh job starting", slog.String("component", "lifecycle"), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh job stopped", slog.String("component", "lifecycle"))
			return
		case <-ticker.C:
			if err := c.RefreshAll(ctx); err != nil {
				slog.Warn("periodic refresh had failures", slog.String("component", "lifecycle"), slog.Any("err", err))
			}
		}
	}
}

// StartReconcileJob runs a reconciliation sweep immediately and then on
// interval until ctx is done.
func StartReconcileJob(ctx context.Context, c *Controller, interval time.Duration) {
	run := func() {
		n, err := c.Reconcile(ctx)
		if err != nil {
			slog.Warn("reconcile had failures", slog.String("component", "lifecycle"), slog.Int("removed", n), slog.Any("err", err))
			return
		}
		if n > 0 {
			slog.Info("reconcile removed records", slog.String("component", "lifecycle"), slog.Int("removed", n))
		}
	}
	run()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile job stopped", slog.String("component", "lifecycle"))
			return
		case <-ticker.C:
			run()
		}
	}
}
