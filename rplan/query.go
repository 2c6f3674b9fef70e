// Package rplan implements the resolution plan (spec.md §4.2): the stack
// of outstanding sub-queries that make up one user request, with
// parent/child linkage for loop detection.
//
// This generalizes the teacher's query.go, which tracked recursion depth
// with a single dive()/surface() counter on the query struct itself.
// Loop detection (I-RP2) needs more than a depth bound — it needs to
// walk the actual ancestor chain and compare sought triples, which is
// why a Query here carries an explicit Parent pointer instead of a
// depth int.
package rplan

import (
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Flag bits on a Query (spec.md §3 "Query").
type Flag uint16

const (
	FlagAwaitingAddress Flag = 1 << iota
	FlagTCP
	FlagNoCache
	FlagNoThrottle
	FlagResolved
)

// Cut is the zone cut a Query is currently iterating against: the owner
// name of the delegation, its DNSKEY set (when covered by a trust
// anchor), and its elected NS set with addresses.
type Cut struct {
	Owner      string
	DNSKEY     []byte // opaque wire-format RRSIG/DNSKEY blob, owned by validatelayer
	NS         []string
	Addrs      []string
	SecureFrom string // name of the trust anchor covering this cut, if any
}

// Query is one node in the resolution plan: the sought (name, class,
// type) triple, its position in the plan, and the delegation state
// accumulated while chasing it.
type Query struct {
	Name   string
	Class  uint16
	Type   uint16
	Flags  Flag
	Parent *Query

	Cut        Cut
	NS         string // elected nameserver name for the current step
	Addr       string // elected nameserver address for the current step
	Created    time.Time
	Secret     uint32 // shared 0x20-case-randomization secret for this request
	Iterations int    // not updated by Plan; the I-RP3 push count is Plan.Pushes

	Answer *dns.Msg // this query's resolved answer, set once FlagResolved is set
}

func (q *Query) HasFlag(f Flag) bool { return q.Flags&f != 0 }
func (q *Query) SetFlag(f Flag)      { q.Flags |= f }
func (q *Query) ClearFlag(f Flag)    { q.Flags &^= f }

// Satisfies walks the ancestor chain starting at q and reports whether
// any ancestor (q included) sought the same (name, class, type) triple
// spec.md §4.2's loop-detection contract. name is matched
// case-insensitively per DNS name equality.
func Satisfies(q *Query, name string, class, rrtype uint16) bool {
	name = dns.Fqdn(name)
	for cur := q; cur != nil; cur = cur.Parent {
		if cur.Class == class && cur.Type == rrtype && strings.EqualFold(cur.Name, name) {
			return true
		}
	}
	return false
}
