package worker

import "github.com/prometheus/client_golang/prometheus"

// Stats are the worker's prometheus metrics, named after spec.md §4.5's
// "Statistics updated by the worker" list verbatim.
type Stats struct {
	Queries    prometheus.Counter
	Concurrent prometheus.Gauge
	UDP        prometheus.Counter
	TCP        prometheus.Counter
	IPv4       prometheus.Counter
	IPv6       prometheus.Counter
	Timeout    prometheus.Counter
	Dropped    prometheus.Counter
}

func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		Queries:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "queries_total", Help: "Subrequests issued by the worker."}),
		Concurrent: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "resolved", Subsystem: "worker", Name: "concurrent", Help: "Subrequests currently in flight."}),
		UDP:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "udp_total", Help: "Exchanges completed over UDP."}),
		TCP:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "tcp_total", Help: "Exchanges completed over TCP."}),
		IPv4:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "ipv4_total", Help: "Exchanges completed over IPv4."}),
		IPv6:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "ipv6_total", Help: "Exchanges completed over IPv6."}),
		Timeout:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "timeout_total", Help: "Subrequests that exhausted RTT_MAX_MS."}),
		Dropped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "resolved", Subsystem: "worker", Name: "dropped_total", Help: "Malformed or unsolicited packets dropped on a listening socket."}),
	}
	if reg != nil {
		reg.MustRegister(s.Queries, s.Concurrent, s.UDP, s.TCP, s.IPv4, s.IPv6, s.Timeout, s.Dropped)
	}
	return s
}
