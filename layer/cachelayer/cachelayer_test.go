package cachelayer

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/cache"
	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/rplan"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(cache.NewMemBackend(), nil)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	return c
}

func newTestRequest(name string, qtype uint16) *layer.Request {
	plan := rplan.New(name, dns.ClassINET, qtype, time.Now(), 0)
	return &layer.Request{Plan: plan}
}

func TestCacheLayerProduceMiss(t *testing.T) {
	l := New(newTestCache(t))
	req := newTestRequest("example.com.", dns.TypeA)

	state, pkt := l.Produce(req)
	if state != layer.NOOP {
		t.Fatalf("Produce on empty cache = %v, want NOOP", state)
	}
	if pkt != nil {
		t.Fatalf("expected nil packet on miss")
	}
}

func TestCacheLayerConsumeThenProduceHits(t *testing.T) {
	l := New(newTestCache(t))
	req := newTestRequest("example.com.", dns.TypeA)

	rr, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	req.Response = &dns.Msg{Answer: []dns.RR{rr}}
	req.Response.Authoritative = true

	if state := l.Consume(req); state != layer.NOOP {
		t.Fatalf("Consume = %v, want NOOP", state)
	}

	state, pkt := l.Produce(req)
	if state != layer.DONE {
		t.Fatalf("Produce after insert = %v, want DONE", state)
	}
	if pkt != nil {
		t.Fatalf("DONE should carry no packet")
	}
	if req.Answer == nil || len(req.Answer.Answer) != 1 {
		t.Fatalf("req.Answer not populated from cache hit: %+v", req.Answer)
	}
}

func TestCacheLayerConsumeNilResponseIsNoop(t *testing.T) {
	l := New(newTestCache(t))
	req := newTestRequest("example.com.", dns.TypeA)

	if state := l.Consume(req); state != layer.NOOP {
		t.Fatalf("Consume with nil response = %v, want NOOP", state)
	}
}

// A cache hit on a pushed sub-query (an NS address lookup, say) must
// resolve and pop that sub-query rather than terminate the whole
// request: only a hit on the plan's root query may DONE.
func TestCacheLayerProduceChildHitPopsInsteadOfDone(t *testing.T) {
	l := New(newTestCache(t))
	req := newTestRequest("example.com.", dns.TypeA)

	child, err := req.Plan.Push(req.Plan.Request, "ns1.example.net.", dns.ClassINET, dns.TypeA, time.Now())
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	rr, err := dns.NewRR("ns1.example.net. 300 IN A 192.0.2.9")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	req.Response = &dns.Msg{Answer: []dns.RR{rr}}
	req.Response.Authoritative = true
	if state := l.Consume(req); state != layer.NOOP {
		t.Fatalf("Consume = %v, want NOOP", state)
	}
	req.Response = nil

	if req.Plan.Current() != child {
		t.Fatalf("Current() = %v, want the pushed child", req.Plan.Current())
	}

	state, pkt := l.Produce(req)
	if state != layer.PRODUCE {
		t.Fatalf("Produce on child hit = %v, want PRODUCE", state)
	}
	if pkt != nil {
		t.Fatalf("child-hit PRODUCE should carry no packet")
	}
	if req.Answer != nil {
		t.Fatalf("req.Answer must stay nil on a child hit, got %+v", req.Answer)
	}
	if !child.HasFlag(rplan.FlagResolved) {
		t.Fatalf("child not marked resolved")
	}
	if child.Answer == nil || len(child.Answer.Answer) != 1 {
		t.Fatalf("child.Answer not populated: %+v", child.Answer)
	}
	if len(child.Cut.Addrs) != 1 || child.Cut.Addrs[0] != "192.0.2.9" {
		t.Fatalf("child.Cut.Addrs not populated from the cached A record: %+v", child.Cut.Addrs)
	}
	if req.Plan.Current() != req.Plan.Request {
		t.Fatalf("Current() after pop = %v, want the root query", req.Plan.Current())
	}
}
