package cache

import (
	"time"

	"github.com/miekg/dns"
)

// Materialize deep-copies entry's RRs and rewrites each RR's TTL to
// reflect elapsed time since CreatedAt, clamped to zero (spec §4.1
// "served TTL drifts down with age, never negative, never resets on
// STALE serve"). Callers must Materialize before handing RRs to anything
// that mutates or retains them, since cache entries are shared.
func Materialize(entry *Entry, now time.Time) []dns.RR {
	age := now.Sub(entry.Header.CreatedAt)
	if age < 0 {
		age = 0
	}
	out := make([]dns.RR, 0, len(entry.Set.RRs))
	for _, rr := range entry.Set.RRs {
		cp := dns.Copy(rr)
		drifted := int64(cp.Header().Ttl) - int64(age/time.Second)
		if drifted < 0 {
			drifted = 0
		}
		cp.Header().Ttl = uint32(drifted)
		out = append(out, cp)
	}
	return out
}
