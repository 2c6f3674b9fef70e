package rplan

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestPushPopOrdering(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	p := New("example.com", dns.ClassINET, dns.TypeA, now, 0xdeadbeef)

	ns, err := p.Push(p.Request, "ns1.example.com", dns.ClassINET, dns.TypeA, now)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if p.Current() != ns {
		t.Fatalf("expected Current to be the just-pushed query")
	}

	p.Pop(ns)
	if p.Current() != p.Request {
		t.Fatalf("expected Current to fall back to the request query after Pop")
	}
	if p.Resolved() != ns {
		t.Fatalf("expected Resolved to be the popped query")
	}
	if !ns.HasFlag(FlagResolved) {
		t.Fatalf("expected FlagResolved to be set on pop")
	}
}

func TestPushRejectsAncestorLoop(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	p := New("example.com", dns.ClassINET, dns.TypeA, now, 0)

	child, err := p.Push(p.Request, "ns.example.com", dns.ClassINET, dns.TypeA, now)
	if err != nil {
		t.Fatalf("Push child: %v", err)
	}

	if _, err := p.Push(child, "example.com", dns.ClassINET, dns.TypeA, now); err != ErrLoop {
		t.Fatalf("expected ErrLoop for sibling-reuse loop, got %v", err)
	}
}

func TestPushIsCaseInsensitiveForLoopDetection(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	p := New("Example.COM", dns.ClassINET, dns.TypeNS, now, 0)

	if _, err := p.Push(p.Request, "example.com", dns.ClassINET, dns.TypeNS, now); err != ErrLoop {
		t.Fatalf("expected ErrLoop regardless of case, got %v", err)
	}
}

func TestEmptyAfterDrainingPending(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	p := New("example.com", dns.ClassINET, dns.TypeA, now, 0)
	if p.Empty() {
		t.Fatalf("freshly constructed plan must not be empty")
	}
	p.Pop(p.Request)
	if !p.Empty() {
		t.Fatalf("expected Empty after popping the only pending query")
	}
}

func TestSatisfiesWalksParentChain(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	p := New("example.com", dns.ClassINET, dns.TypeA, now, 0)
	child, _ := p.Push(p.Request, "ns.example.com", dns.ClassINET, dns.TypeA, now)
	grandchild, _ := p.Push(child, "glue.ns.example.com", dns.ClassINET, dns.TypeA, now)

	if !Satisfies(grandchild, "example.com", dns.ClassINET, dns.TypeA) {
		t.Fatalf("expected grandchild to satisfy via root ancestor")
	}
	if Satisfies(grandchild, "other.example.com", dns.ClassINET, dns.TypeA) {
		t.Fatalf("unrelated triple must not satisfy")
	}
}
