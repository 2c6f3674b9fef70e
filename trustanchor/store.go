// Package trustanchor implements the trust-anchor store from spec.md
// §4.7: a name -> RRSet(DS|DNSKEY) mapping plus the RFC 5011 rollover
// state machine from spec.md §9 that drives which entries are published.
package trustanchor

import (
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// State is one RFC 5011 rollover state (spec.md §9).
type State int

const (
	Start State = iota
	AddPend
	Valid
	Missing
	Revoked
	Removed
)

func (s State) String() string {
	switch s {
	case Start:
		return "START"
	case AddPend:
		return "ADDPEND"
	case Valid:
		return "VALID"
	case Missing:
		return "MISSING"
	case Revoked:
		return "REVOKED"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// HoldDown is the RFC 5011 add/revoke hold-down period.
const HoldDown = 30 * 24 * time.Hour

type entry struct {
	rrs           []dns.RR
	state         State
	addedAt       time.Time
	holdDownUntil time.Time
}

// Store is a per-name trust anchor RRSet store with RFC 5011 rollover
// state kept alongside each name, guarded by a single mutex since it is
// mutated from whichever goroutine runs the periodic root refresh as
// well as read from every validatelayer Consume.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func normalize(name string) string { return strings.ToLower(dns.Fqdn(name)) }

// Add appends rr to the RRSet for name, creating it (in Start state) if
// absent. rr's type MUST be DS or DNSKEY.
func (s *Store) Add(name string, rr dns.RR) {
	name = normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[name]
	if e == nil {
		e = &entry{state: Start}
		s.entries[name] = e
	}
	e.rrs = append(e.rrs, rr)
}

// Trust marks name's entry Valid immediately, bypassing the Start/AddPend
// hold-down — for anchors seeded from static configuration at startup
// (spec.md §9's bootstrap case), which carry the operator's trust
// directly rather than having been learned via an active DNSKEY refresh.
func (s *Store) Trust(name string) {
	name = normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[name]; e != nil {
		e.state = Valid
	}
}

// Get returns the RRSet for name, or nil if absent.
func (s *Store) Get(name string) []dns.RR {
	name = normalize(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.entries[name]; e != nil {
		return append([]dns.RR(nil), e.rrs...)
	}
	return nil
}

// Covers reports whether name or any ancestor up to the root has a
// published (Valid or Missing) trust anchor, and if so which owner name
// it is anchored at.
func (s *Store) Covers(name string) (string, bool) {
	name = normalize(name)
	labels := dns.SplitDomainName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range labels {
		zone := dns.Fqdn(strings.Join(labels[i:], "."))
		if e := s.entries[zone]; e != nil && (e.state == Valid || e.state == Missing) {
			return zone, true
		}
	}
	if e := s.entries["."]; e != nil && (e.state == Valid || e.state == Missing) {
		return ".", true
	}
	return "", false
}

// Del removes all entries for name.
func (s *Store) Del(name string) {
	name = normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// State returns the current RFC 5011 state for name, and whether it has
// any recorded state at all.
func (s *Store) State(name string) (State, bool) {
	name = normalize(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.entries[name]; e != nil {
		return e.state, true
	}
	return Start, false
}
