/*
Package health provides a debounced liveness-confirmation check used to
corroborate a heartbeat timeout before the reconciler treats a node as
actually down.

# Architecture

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

TCPChecker is the only Checker implementation: a bare connection test
against a node's advertised address. Status wraps a Checker's results
over time and applies hysteresis so a single dropped probe doesn't flip
a node from healthy to unhealthy:

	Healthy → 1 failure  → still healthy
	Healthy → Retries failures → unhealthy
	Unhealthy → 1 success → healthy

# Usage

	status := health.NewStatus()
	cfg := health.Config{Retries: 2, Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	result := health.NewTCPChecker(addr).WithTimeout(cfg.Timeout).Check(ctx)
	cancel()

	status.Update(result, cfg)
	if !status.Healthy {
		// confirmed down — safe to fail its shards
	}

# Integration

pkg/reconciler keeps one Status per node ID and calls this check only
after a node's LastHeartbeat has already exceeded the heartbeat
timeout; the TCP probe exists to distinguish a node that is merely slow
to send its next heartbeat from one that is actually unreachable before
its in-flight shards are failed.

# See Also

  - pkg/reconciler - the sole consumer, via Reconciler.probeNode
*/
package health
