package worker

import (
	"net/netip"
	"sync"
	"time"
)

// TimeoutPenalty is the large constant RTT added for an address that
// never responded (spec.md §4.5 "Timeout").
const TimeoutPenalty = 5 * time.Second

// RTTCache tracks a decayed round-trip-time estimate per upstream
// address, used to order candidates within a nameserver's address set.
// The teacher's orderroots.go/timeroot.go probed once at startup;
// RTTCache keeps the estimate live across the resolver's lifetime with
// a fixed-factor EWMA, the Open Question resolution recorded in
// DESIGN.md.
type RTTCache struct {
	mu    sync.Mutex
	rtt   map[netip.Addr]time.Duration
	alpha float64
}

// NewRTTCache returns an RTTCache with the given EWMA smoothing factor
// (0 < alpha <= 1; higher weighs recent samples more).
func NewRTTCache(alpha float64) *RTTCache {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &RTTCache{rtt: make(map[netip.Addr]time.Duration), alpha: alpha}
}

func (c *RTTCache) Update(addr netip.Addr, sample time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.rtt[addr]; ok {
		c.rtt[addr] = time.Duration(c.alpha*float64(sample) + (1-c.alpha)*float64(prev))
	} else {
		c.rtt[addr] = sample
	}
}

func (c *RTTCache) Penalize(addr netip.Addr) { c.Update(addr, TimeoutPenalty) }

// Get returns the current estimate for addr, or a zero duration
// (treated as "unknown, try first") if no sample has ever been
// recorded.
func (c *RTTCache) Get(addr netip.Addr) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt[addr]
}

// Rank reorders addrs ascending by cached RTT, unknown addresses first
// (spec.md §4.4 "nameserver election by (reachability, cached RTT,
// preference)" — this implements the cached-RTT tiebreak).
func (c *RTTCache) Rank(addrs []netip.Addr) []netip.Addr {
	out := append([]netip.Addr(nil), addrs...)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && c.rtt[out[j-1]] > c.rtt[out[j]]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
