package validatelayer

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/cache"
	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/rplan"
	"github.com/resolved-dns/resolved/trustanchor"
)

func newTestRequest(name string, qtype uint16) *layer.Request {
	plan := rplan.New(name, dns.ClassINET, qtype, time.Now(), 0)
	return &layer.Request{Plan: plan}
}

func TestValidateLayerConsumeCoveredSetsSecureFrom(t *testing.T) {
	anchors := trustanchor.New()
	rr, err := dns.NewRR("example.com. 0 IN DS 1 8 2 0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	anchors.Add("example.com.", rr)
	anchors.Trust("example.com.")

	l := New(anchors)
	req := newTestRequest("www.example.com.", dns.TypeA)

	if state := l.Consume(req); state != layer.NOOP {
		t.Fatalf("Consume = %v, want NOOP", state)
	}
	if req.Plan.Current().Cut.SecureFrom != "example.com." {
		t.Fatalf("SecureFrom = %q, want example.com.", req.Plan.Current().Cut.SecureFrom)
	}
}

func TestValidateLayerConsumeUncoveredClearsSecureFrom(t *testing.T) {
	anchors := trustanchor.New()
	l := New(anchors)
	req := newTestRequest("www.example.net.", dns.TypeA)
	req.Plan.Current().Cut.SecureFrom = "stale."

	if state := l.Consume(req); state != layer.NOOP {
		t.Fatalf("Consume = %v, want NOOP", state)
	}
	if req.Plan.Current().Cut.SecureFrom != "" {
		t.Fatalf("SecureFrom = %q, want empty", req.Plan.Current().Cut.SecureFrom)
	}
}

func TestRankFor(t *testing.T) {
	cases := []struct {
		covered, authoritative bool
		want                   cache.Rank
	}{
		{true, true, cache.RankNonauthSecure},
		{true, false, cache.RankNonauthSecure},
		{false, true, cache.RankAuth},
		{false, false, cache.RankInsecure},
	}
	for _, c := range cases {
		if got := RankFor(c.covered, c.authoritative); got != c.want {
			t.Errorf("RankFor(%v, %v) = %v, want %v", c.covered, c.authoritative, got, c.want)
		}
	}
}
