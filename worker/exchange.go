package worker

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// RetryInterval is RETRY_MS from spec.md §4.5: how often the
// retransmission timer fires on datagram transport.
const RetryInterval = 250 * time.Millisecond

// RTTMax is RTT_MAX_MS: the one-shot timeout armed at each step.
const RTTMax = 2000 * time.Millisecond

// K is the conventional max addresses probed per nameserver; MaxPending
// is the fan-out bound MAX_PENDING = 1.5 x K.
const K = 4

var MaxPending = int(1.5 * K)

// Threshold is THRESHOLD from spec.md §4.5: the concurrent in-flight
// count at or above which new tasks lose NO_THROTTLE.
var Threshold = 512

// Worker is the task engine: it exchanges one wire message with one of
// several candidate nameserver addresses, retransmitting on a timer and
// deduplicating concurrent identical subrequests via singleflight (the
// leader/follower coalescing from spec.md §4.5, built on DoChan instead
// of Do so each follower still observes its own completion rather than
// sharing one blocking call).
type Worker struct {
	Transport *Transport
	RTT       *RTTCache
	Stats     *Stats

	group      singleflight.Group
	concurrent atomic.Int64
}

func New(transport *Transport, stats *Stats) *Worker {
	return &Worker{
		Transport: transport,
		RTT:       NewRTTCache(0.3),
		Stats:     stats,
	}
}

// Concurrent reports the number of subrequests currently in flight, for
// the iterator to decide whether to set FlagNoThrottle on new queries.
func (w *Worker) Concurrent() int64 { return w.concurrent.Load() }

// Throttled reports whether concurrent in-flight subrequests have
// reached Threshold, per spec.md §4.5's throttling rule. rplan.Plan
// probes this once per query creation.
func (w *Worker) Throttled() bool { return w.Concurrent() >= int64(Threshold) }

// dedupKey implements spec.md §4.5's subrequest key: (qname, qtype,
// qclass) case-insensitive plus the current 0x20 secret. The secret is a
// 32-bit value and the key uses all of it; there are no further secret
// bits. secret is the per-query 0x20 nonce (rplan.Query.Secret);
// passing 0 disables dedup-by-secret, coalescing any two callers asking
// the identical triple regardless of case-randomization, which is the
// right behavior for callers that did not set one.
func dedupKey(name string, qtype, qclass uint16, secret uint32) string {
	return fmt.Sprintf("%s|%d|%d|%d", strings.ToLower(name), qtype, qclass, secret)
}

// Exchange sends m to the first reachable address in addrs (ordered by
// cached RTT), retransmitting to the next address every RetryInterval
// until a response arrives or RTTMax elapses, then falls back to TCP if
// the UDP response was truncated. Concurrent callers with the same
// (name, type, class, secret) key are coalesced: only one of them
// actually performs I/O.
func (w *Worker) Exchange(ctx context.Context, m *dns.Msg, addrs []netip.Addr, secret uint32, forceTCP bool, throttled bool) (*dns.Msg, error) {
	if len(addrs) == 0 {
		return nil, errNoAddresses
	}
	q := m.Question[0]
	key := dedupKey(q.Name, q.Qtype, q.Qclass, secret)

	w.concurrent.Add(1)
	defer w.concurrent.Add(-1)
	if w.Stats != nil {
		w.Stats.Queries.Inc()
		w.Stats.Concurrent.Set(float64(w.concurrent.Load()))
	}

	ch := w.group.DoChan(key, func() (interface{}, error) {
		return w.exchangeUncoalesced(ctx, m, addrs, forceTCP, throttled)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*dns.Msg).Copy()
		resp.Id = m.Id
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) exchangeUncoalesced(ctx context.Context, m *dns.Msg, addrs []netip.Addr, forceTCP, throttled bool) (*dns.Msg, error) {
	ranked := w.RTT.Rank(addrs)
	maxPending := MaxPending
	deadline := RTTMax
	if throttled {
		// Lower retry budget: try only the best address, no retransmits.
		maxPending = 1
		deadline = RTTMax / 2
	}
	if len(ranked) > maxPending {
		ranked = ranked[:maxPending]
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	network := "udp"
	if forceTCP {
		network = "tcp"
	}

	type attempt struct {
		resp *dns.Msg
		addr netip.Addr
		dur  time.Duration
		err  error
	}
	results := make(chan attempt, len(ranked))
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()

	idx := 0
	fire := func() bool {
		if idx >= len(ranked) {
			return false
		}
		addr := ranked[idx]
		idx++
		go func() {
			resp, dur, err := w.Transport.ExchangeOne(ctx, network, m, addr)
			results <- attempt{resp: resp, addr: addr, dur: dur, err: err}
		}()
		return true
	}

	tried := make([]netip.Addr, 0, len(ranked))
	if fire() {
		tried = append(tried, ranked[idx-1])
	}

	var lastErr error
	for {
		select {
		case a := <-results:
			if a.err == nil && a.resp != nil {
				w.RTT.Update(a.addr, a.dur)
				if a.resp.Truncated && network == "udp" {
					w.trackProto(a.addr, false)
					return w.exchangeUncoalesced(ctx, m, []netip.Addr{a.addr}, true, throttled)
				}
				w.trackProto(a.addr, forceTCP)
				return a.resp, nil
			}
			lastErr = a.err
			w.RTT.Penalize(a.addr)
		case <-ticker.C:
			if fire() {
				tried = append(tried, ranked[idx-1])
			}
		case <-ctx.Done():
			for _, addr := range tried {
				w.RTT.Penalize(addr)
			}
			if w.Stats != nil {
				w.Stats.Timeout.Inc()
			}
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}
	}
}

func (w *Worker) trackProto(addr netip.Addr, tcp bool) {
	if w.Stats == nil {
		return
	}
	if tcp {
		w.Stats.TCP.Inc()
	} else {
		w.Stats.UDP.Inc()
	}
	if addr.Is4() {
		w.Stats.IPv4.Inc()
	} else {
		w.Stats.IPv6.Inc()
	}
}

var errNoAddresses = &noAddrError{}

type noAddrError struct{}

func (*noAddrError) Error() string { return "worker: no candidate addresses" }
