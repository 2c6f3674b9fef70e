// Package cachelayer implements the cache layer from spec.md §4.3: first
// on produce (serves cache hits, short-circuiting the rest of the
// pipeline), first on consume (records newly received answers).
package cachelayer

import (
	"time"

	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/cache"
	"github.com/resolved-dns/resolved/internal/wire"
	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/layer/validatelayer"
)

// Layer is the cache pipeline stage. Now is injectable so tests control
// the clock, matching the teacher's cache_test.go style of asserting
// exact TTL arithmetic.
type Layer struct {
	layer.Base
	Cache *cache.Cache
	Now   func() time.Time
}

func New(c *cache.Cache) *Layer {
	return &Layer{Cache: c, Now: time.Now}
}

func (l *Layer) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Produce serves a live cache hit for the current query directly,
// short-circuiting the rest of the pipeline. A hit on the request's root
// query answers the whole request (DONE); a hit on a pushed sub-query
// (an NS address lookup or a chase target) only resolves and pops that
// sub-query, the same way iterlayer's finishQuery does, so the parent
// query resumes instead of the request ending early. A MISS or STALE
// lookup yields NOOP so the iterator layer continues.
func (l *Layer) Produce(req *layer.Request) (layer.State, *layer.Packet) {
	q := req.Plan.Current()
	if q == nil {
		return layer.NOOP, nil
	}
	res, entry, err := l.Cache.Peek(cache.TagRR, q.Name, q.Type, l.now())
	if err != nil {
		req.Err = err
		return layer.FAIL, nil
	}
	if res != cache.Hit {
		return layer.NOOP, nil
	}
	msg := new(dns.Msg)
	msg.SetQuestion(q.Name, q.Type)
	msg.Rcode = dns.RcodeSuccess
	msg.Answer = cache.Materialize(entry, l.now())

	if q == req.Plan.Request {
		req.Answer = msg
		return layer.DONE, nil
	}
	q.Answer = msg
	if q.Type == dns.TypeA || q.Type == dns.TypeAAAA {
		for _, rr := range msg.Answer {
			switch a := rr.(type) {
			case *dns.A:
				if addr := wire.IPToAddr(a.A); addr.IsValid() {
					q.Cut.Addrs = append(q.Cut.Addrs, addr.String())
				}
			case *dns.AAAA:
				if addr := wire.IPToAddr(a.AAAA); addr.IsValid() {
					q.Cut.Addrs = append(q.Cut.Addrs, addr.String())
				}
			}
		}
	}
	req.Plan.Pop(q)
	return layer.PRODUCE, nil
}

// Consume stores req.Response in the cache under the current query's
// name/type, ranked by validatelayer.RankFor. validatelayer sets
// q.Cut.SecureFrom when a trust anchor covers the cut, so a covered
// answer ranks NONAUTH_SECURE even when the answering server wasn't
// authoritative, and an uncovered but authoritative answer still ranks
// AUTH (spec.md §4.1's rank policy).
func (l *Layer) Consume(req *layer.Request) layer.State {
	q := req.Plan.Current()
	if q == nil || req.Response == nil {
		return layer.NOOP
	}
	rank := validatelayer.RankFor(q.Cut.SecureFrom != "", req.Response.Authoritative)
	rrs := req.Response.Answer
	if err := l.Cache.Insert(cache.TagRR, q.Name, q.Type, q.Class, rrs, rank, l.now()); err != nil {
		req.Err = err
		return layer.FAIL
	}
	return layer.NOOP
}
