package sessionmgr

import "github.com/prometheus/client_golang/prometheus"

// metrics groups the prometheus collectors the session manager exposes
// through cmd/coordnode's /metrics endpoint. A Manager with nil metrics
// (the zero value) is a valid no-op — callers that don't register a
// registry simply don't get instrumentation.
type metrics struct {
	renewals         prometheus.Counter
	renewalFailures  prometheus.Counter
	scansStarted     prometheus.Counter
	sessionsEnded    prometheus.Counter
	cascadeEntries   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordkernel_session_renewals_total",
			Help: "Successful lease renewals performed by this process's session.",
		}),
		renewalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordkernel_session_renewal_failures_total",
			Help: "Failed lease renewal attempts by this process's session.",
		}),
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordkernel_session_scans_total",
			Help: "Termination scanner passes started.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordkernel_sessions_ended_total",
			Help: "Sessions the scanner drove to the Ended state.",
		}),
		cascadeEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordkernel_ephemeral_cascade_entries_total",
			Help: "Ephemeral entries removed by the termination cascade.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.renewals, m.renewalFailures, m.scansStarted, m.sessionsEnded, m.cascadeEntries)
	}
	return m
}
