package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
)

// Probe is a connection the liveness monitor can ping.
type Probe interface {
	ID() string
	// Ping returns false, without pinging, if the previous ping is still
	// unanswered.
	Ping() bool
	// Terminate aborts the transport; the connection's own cleanup releases
	// its room membership.
	Terminate()
}

// Monitor pings every open connection once per interval and drops those
// that did not answer the previous ping. A silent connection is therefore
// gone within one to two intervals.
type Monitor struct {
	interval time.Duration
	probes   func() []Probe
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewMonitor(interval time.Duration, probes func() []Probe, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{interval: interval, probes: probes, log: logger, metrics: m}
}

// Sweep runs one tick and returns how many connections were terminated.
func (m *Monitor) Sweep() int {
	terminated := 0
	for _, p := range m.probes() {
		if p.Ping() {
			continue
		}
		m.metrics.Inc(metrics.LivenessTimeout)
		m.log.Info("liveness timeout, terminating", "conn_id", p.ID())
		p.Terminate()
		terminated++
	}
	return terminated
}

// Run sweeps on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
