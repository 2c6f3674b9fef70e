package cache

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func aRecord(owner string, ttl uint32, ip net.IP) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   ip,
	}
}

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"example.com.", "www.EXAMPLE.com", "a.b.c.example.org."} {
		rev := EncodeReversedName(name)
		got, err := DecodeReversedName(rev)
		if err != nil {
			t.Fatalf("decode(%q): %v", name, err)
		}
		want := strings.ToLower(dns.Fqdn(name))
		if got != want {
			t.Fatalf("round trip mismatch: got=%q want=%q", got, want)
		}
	}
}

func TestInsertThenPeekHit(t *testing.T) {
	t.Parallel()
	c, err := Open(NewMemBackend(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("example.com")
	rrs := []dns.RR{aRecord(owner, 300, net.IPv4(192, 0, 2, 1))}

	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, rrs, RankAuth, now); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	res, entry, err := c.Peek(TagRR, owner, dns.TypeA, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if res != Hit {
		t.Fatalf("expected Hit, got %v", res)
	}
	if len(entry.Set.RRs) != 1 {
		t.Fatalf("expected 1 RR, got %d", len(entry.Set.RRs))
	}
}

func TestPeekExpiresToStale(t *testing.T) {
	t.Parallel()
	c, err := Open(NewMemBackend(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("stale.example.com")
	rrs := []dns.RR{aRecord(owner, 5, net.IPv4(192, 0, 2, 2))}

	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, rrs, RankAuth, now); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	res, entry, err := c.Peek(TagRR, owner, dns.TypeA, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if res != Stale {
		t.Fatalf("expected Stale, got %v", res)
	}
	if entry.Header.Rank != RankAuth {
		t.Fatalf("stale entry lost its rank: got %v", entry.Header.Rank)
	}
}

func TestInsertSuppressedByHigherRank(t *testing.T) {
	t.Parallel()
	c, err := Open(NewMemBackend(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("rank.example.com")

	secure := []dns.RR{aRecord(owner, 300, net.IPv4(192, 0, 2, 3))}
	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, secure, RankSecure, now); err != nil {
		t.Fatalf("Insert secure: %v", err)
	}

	nonauth := []dns.RR{aRecord(owner, 300, net.IPv4(198, 51, 100, 9))}
	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, nonauth, RankNonauth, now); err != nil {
		t.Fatalf("Insert nonauth: %v", err)
	}

	_, entry, err := c.Peek(TagRR, owner, dns.TypeA, now)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !entry.Set.RRs[0].(*dns.A).A.Equal(net.IPv4(192, 0, 2, 3)) {
		t.Fatalf("lower rank insert clobbered higher rank entry")
	}
}

func TestInsertEmptyRRSetIsNegativeCacheable(t *testing.T) {
	t.Parallel()
	c, err := Open(NewMemBackend(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("nxdomain.example.com")

	if err := c.Insert(TagPacket, owner, dns.TypeA, dns.ClassINET, nil, RankAuth, now); err != nil {
		t.Fatalf("Insert empty: %v", err)
	}

	res, entry, err := c.Peek(TagPacket, owner, dns.TypeA, now.Add(NegativeTTL/2))
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if res != Hit {
		t.Fatalf("expected Hit for negative entry within NegativeTTL, got %v", res)
	}
	if len(entry.Set.RRs) != 0 {
		t.Fatalf("expected zero RRs, got %d", len(entry.Set.RRs))
	}

	res, _, err = c.Peek(TagPacket, owner, dns.TypeA, now.Add(NegativeTTL+time.Second))
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if res != Stale {
		t.Fatalf("expected Stale for negative entry past NegativeTTL, got %v", res)
	}
}

func TestMaterializeDriftsTTLDown(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("drift.example.com")
	entry := &Entry{
		Header: Header{CreatedAt: now, MaxTTL: 100 * time.Second},
		Set:    RRSet{RRs: []dns.RR{aRecord(owner, 100, net.IPv4(192, 0, 2, 4))}},
	}
	drifted := Materialize(entry, now.Add(40*time.Second))
	if got := drifted[0].Header().Ttl; got != 60 {
		t.Fatalf("expected drifted TTL 60, got %d", got)
	}
	if entry.Set.RRs[0].Header().Ttl != 100 {
		t.Fatalf("Materialize mutated the stored entry")
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()
	c, err := Open(NewMemBackend(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("removeme.example.com")
	rrs := []dns.RR{aRecord(owner, 300, net.IPv4(192, 0, 2, 5))}
	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, rrs, RankAuth, now); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Remove(TagRR, owner, dns.TypeA); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res, _, err := c.Peek(TagRR, owner, dns.TypeA, now); err != nil || res != Miss {
		t.Fatalf("expected Miss after Remove, got %v err=%v", res, err)
	}

	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, rrs, RankAuth, now); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if res, _, err := c.Peek(TagRR, owner, dns.TypeA, now); err != nil || res != Miss {
		t.Fatalf("expected Miss after Clear, got %v err=%v", res, err)
	}
}

func TestOpenReopenSameVersionKeepsData(t *testing.T) {
	t.Parallel()
	backend := NewMemBackend()
	c, err := Open(backend, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	owner := dns.Fqdn("reopen.example.com")
	rrs := []dns.RR{aRecord(owner, 300, net.IPv4(192, 0, 2, 6))}
	if err := c.Insert(TagRR, owner, dns.TypeA, dns.ClassINET, rrs, RankAuth, now); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c2, err := Open(backend, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if res, _, err := c2.Peek(TagRR, owner, dns.TypeA, now); err != nil || res != Hit {
		t.Fatalf("expected data to survive reopen with matching version, got %v err=%v", res, err)
	}
}
