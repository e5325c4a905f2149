package relay

import (
	"context"
	"log/slog"
	"time"
)

// reaperPeriodDivisor and its clamp bounds implement §4.6's "period <=
// timeout/2, a convenient value is timeout/4 bounded to [1s, 30s]".
const (
	reaperPeriodDivisor = 4
	reaperMinPeriod     = 1 * time.Second
	reaperMaxPeriod     = 30 * time.Second
)

func reaperPeriod(timeout time.Duration) time.Duration {
	period := timeout / reaperPeriodDivisor
	if period < reaperMinPeriod {
		return reaperMinPeriod
	}
	if period > reaperMaxPeriod {
		return reaperMaxPeriod
	}
	return period
}

// runReaper is C6 (§4.6): it periodically retires flows idle beyond
// timeout, canceling their reactors and releasing their ports.
func runReaper(ctx context.Context, table *flowTable, ports *portAllocator, timeout time.Duration) {
	ticker := time.NewTicker(reaperPeriod(timeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reap(table, ports, now, timeout)
		}
	}
}

func reap(table *flowTable, ports *portAllocator, now time.Time, timeout time.Duration) {
	for _, f := range table.sweep(now, timeout) {
		f.close()
		ports.release(f.port)
		slog.Info("flow reaped", "component", "reaper", "client", f.client, "port", f.port)
	}
}
