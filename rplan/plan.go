package rplan

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrLoop is returned by Push when I-RP2 would be violated: an ancestor
// of parent already sought the same triple.
var ErrLoop = &loopError{}

type loopError struct{}

func (*loopError) Error() string { return "rplan: ancestor already satisfies this query" }

// Plan is the resolution plan for a single user request: a pending stack
// of queries awaiting an answer and a resolved stack of queries that
// have one, per spec.md §4.2. There is no arena parameter — Go's
// allocator and GC stand in for the teacher's manual pool.
type Plan struct {
	Request  *Query
	pending  []*Query
	resolved []*Query
	pushes   int

	// Throttle, when set, is consulted for every newly created Query: if
	// it returns true the query is created without FlagNoThrottle, per
	// spec.md §4.5's "concurrent >= THRESHOLD" throttling rule.
	Throttle func() bool
}

// MaxIterations is the I-RP3 bound (enforced by the iterator, not Plan,
// per spec.md §4.2 — Plan only exposes the counter for C4 to check).
const MaxIterations = 50

// New initializes a Plan for a top-level request (name, class, type).
// The request's Query has no parent.
func New(name string, class, rrtype uint16, now time.Time, secret uint32) *Plan {
	root := &Query{
		Name:    dns.Fqdn(name),
		Class:   class,
		Type:    rrtype,
		Created: now,
		Secret:  secret,
	}
	root.SetFlag(FlagNoThrottle)
	p := &Plan{Request: root}
	p.pending = append(p.pending, root)
	return p
}

// throttled reports whether the plan's Throttle probe currently says new
// queries should lose FlagNoThrottle.
func (p *Plan) throttled() bool { return p.Throttle != nil && p.Throttle() }

// Push allocates a new Query under parent and appends it to the pending
// stack. It lowercases and FQDN-normalizes name, links the new Query to
// parent, and rejects the push under I-RP2 if any ancestor of parent
// already sought the identical triple.
func (p *Plan) Push(parent *Query, name string, class, rrtype uint16, now time.Time) (*Query, error) {
	name = dns.Fqdn(strings.ToLower(name))
	if Satisfies(parent, name, class, rrtype) {
		return nil, ErrLoop
	}
	q := &Query{
		Name:    name,
		Class:   class,
		Type:    rrtype,
		Parent:  parent,
		Created: now,
		Secret:  parent.Secret,
	}
	if !p.throttled() {
		q.SetFlag(FlagNoThrottle)
	}
	p.pending = append(p.pending, q)
	p.pushes++
	return q, nil
}

// Pop unlinks query from the pending stack and appends it to resolved.
// query must currently be present in pending; Pop panics otherwise,
// since that indicates a caller bug rather than a recoverable condition.
func (p *Plan) Pop(query *Query) {
	for i, q := range p.pending {
		if q == query {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			query.SetFlag(FlagResolved)
			p.resolved = append(p.resolved, query)
			return
		}
	}
	panic(fmt.Sprintf("rplan: Pop of query %q not present in pending", query.Name))
}

// Current returns the tail of the pending stack, or nil if empty.
func (p *Plan) Current() *Query {
	if len(p.pending) == 0 {
		return nil
	}
	return p.pending[len(p.pending)-1]
}

// Resolved returns the tail of the resolved stack, or nil if empty.
func (p *Plan) Resolved() *Query {
	if len(p.resolved) == 0 {
		return nil
	}
	return p.resolved[len(p.resolved)-1]
}

// Empty reports whether the pending stack has been fully drained.
func (p *Plan) Empty() bool { return len(p.pending) == 0 }

// Pushes returns the number of Push calls made so far against this
// Plan, for the iterator to compare against MaxIterations (I-RP3).
func (p *Plan) Pushes() int { return p.pushes }
