// Package iterlayer implements the iterator layer from spec.md §4.3:
// referral handling, glue harvesting, CNAME/DNAME chasing, and NXDOMAIN
// handling. It is grounded on the teacher's query.go
// (queryForDelegation/queryFinal/resolveNSAddrs), restructured from
// direct recursive calls into the produce/consume shape the pipeline
// requires: instead of recursing into itself to resolve a missing NS
// glue address or a CNAME target, it pushes a child rplan.Query and lets
// the iterator drive that child to completion before resuming.
package iterlayer

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/internal/wire"
	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/rplan"
)

type phase int

const (
	phaseDelegation phase = iota
	phaseFallback
	phaseFinal
)

type qstate struct {
	labels        []string
	li            int
	servers       []netip.Addr
	phase         phase
	refusedSeen   bool
	pendingOwners []string
	waitingChild  *rplan.Query

	chaseParentResp *dns.Msg
	chaseQname      string
	chaseGather     func([]dns.RR, string) []dns.RR
}

// Layer is the iterator pipeline stage.
type Layer struct {
	layer.Base
	Roots []netip.Addr

	// EDNSPayload is the outgoing UDP buffer advertised on every
	// sub-query this layer produces (spec.md §6); SetEDNS floors it at
	// wire.MinEDNSPayload regardless of what is configured here.
	EDNSPayload uint16

	states map[*rplan.Query]*qstate
}

func New(roots []netip.Addr) *Layer {
	return &Layer{Roots: roots, EDNSPayload: wire.MinEDNSPayload, states: make(map[*rplan.Query]*qstate)}
}

func (l *Layer) Reset(req *layer.Request) layer.State {
	l.states = make(map[*rplan.Query]*qstate)
	return layer.NOOP
}

func (l *Layer) state(q *rplan.Query) *qstate {
	st, ok := l.states[q]
	if ok {
		return st
	}
	labels := dns.SplitDomainName(dns.Fqdn(q.Name))
	li := len(labels) - 1 // start at the TLD; roots already answer for "."
	if li < 0 {
		li = 0
	}
	st = &qstate{
		labels:  labels,
		li:      li,
		servers: append([]netip.Addr(nil), l.Roots...),
		phase:   phaseDelegation,
	}
	l.states[q] = st
	return st
}

func (st *qstate) zone() string {
	if st.li >= len(st.labels) {
		return "."
	}
	return dns.Fqdn(strings.Join(st.labels[st.li:], "."))
}

func addrStrings(addrs []netip.Addr, port uint16) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, netip.AddrPortFrom(a, port).String())
	}
	return out
}

// DefaultPort is the DNS port used when building candidate address
// strings for a Packet. iterator.doIO keeps only the address part; the
// port actually dialed is the worker Transport's Port.
const DefaultPort = 53

// Produce builds the next wire query for the current plan query,
// resuming a delegation walk, a post-REFUSED fallback, or the final
// question, depending on qstate.phase. It returns (PRODUCE, nil) when it
// advanced the plan (pushed or resumed from a child) without having
// anything to send this tick — the iterator should call Produce again
// immediately in that case.
func (l *Layer) Produce(req *layer.Request) (layer.State, *layer.Packet) {
	q := req.Plan.Current()
	if q == nil {
		return layer.NOOP, nil
	}
	st := l.state(q)

	if st.waitingChild != nil {
		return l.resumeFromChild(req, q, st)
	}

	fqdn := dns.Fqdn(q.Name)
	if st.phase == phaseDelegation && st.zone() == fqdn {
		st.phase = phaseFinal
	}

	throttled := !q.HasFlag(rplan.FlagNoThrottle)
	useTCP := q.HasFlag(rplan.FlagTCP)

	switch st.phase {
	case phaseFinal:
		m := new(dns.Msg)
		m.SetQuestion(fqdn, q.Type)
		m.RecursionDesired = false
		wire.SetEDNS(m, l.EDNSPayload)
		return layer.PRODUCE, &layer.Packet{Msg: m, Addrs: addrStrings(st.servers, DefaultPort), UseTCP: useTCP, Throttled: throttled}
	case phaseFallback:
		m := new(dns.Msg)
		m.SetQuestion(fqdn, dns.TypeNS)
		m.RecursionDesired = false
		wire.SetEDNS(m, l.EDNSPayload)
		return layer.PRODUCE, &layer.Packet{Msg: m, Addrs: addrStrings(st.servers, DefaultPort), UseTCP: useTCP, Throttled: throttled}
	default: // phaseDelegation
		m := new(dns.Msg)
		m.SetQuestion(st.zone(), dns.TypeNS)
		m.RecursionDesired = false
		wire.SetEDNS(m, l.EDNSPayload)
		return layer.PRODUCE, &layer.Packet{Msg: m, Addrs: addrStrings(st.servers, DefaultPort), UseTCP: useTCP, Throttled: throttled}
	}
}

// resumeFromChild picks up after a pushed child query (an NS address
// lookup, or a CNAME/DNAME chase target) has resolved.
func (l *Layer) resumeFromChild(req *layer.Request, q *rplan.Query, st *qstate) (layer.State, *layer.Packet) {
	child := st.waitingChild
	if !child.HasFlag(rplan.FlagResolved) {
		// Child is still pending elsewhere in the plan; nothing to do.
		return layer.NOOP, nil
	}
	st.waitingChild = nil

	if len(st.pendingOwners) > 0 && child.Cut.Owner == "__nsaddr__" {
		if len(child.Cut.Addrs) > 0 {
			addrs, err := parseAddrs(child.Cut.Addrs)
			if err == nil && len(addrs) > 0 {
				st.servers = addrs
				st.pendingOwners = nil
				q.ClearFlag(rplan.FlagTCP)
				return l.advanceAfterDelegation(req, q, st)
			}
		}
		// This NS owner failed to resolve; try the next one.
		st.pendingOwners = st.pendingOwners[1:]
		if len(st.pendingOwners) == 0 {
			// No usable nameserver address anywhere; stay at the same
			// zone with the previous servers and let the caller time out
			// rather than failing the whole request outright.
			return layer.PRODUCE, nil
		}
		return l.pushAddrChild(req, q, st)
	}

	if child.Cut.Owner == "__chase__" {
		if child.Answer == nil {
			return layer.FAIL, nil
		}
		msg := child.Answer.Copy()
		if st.chaseParentResp != nil && st.chaseGather != nil {
			wire.PrependRecords(msg, st.chaseParentResp, st.chaseQname, st.chaseGather)
		}
		q.Answer = msg
		req.Answer = msg
		return finishQuery(req, q), nil
	}

	return layer.PRODUCE, nil
}

func parseAddrs(strs []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(strs))
	for _, s := range strs {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (l *Layer) pushAddrChild(req *layer.Request, parent *rplan.Query, st *qstate) (layer.State, *layer.Packet) {
	owner := st.pendingOwners[0]
	child, err := req.Plan.Push(parent, owner, parent.Class, dns.TypeA, parent.Created)
	if err != nil {
		// Loop: this NS name is itself an ancestor of the query that
		// needs it. Drop it and move to the next candidate.
		st.pendingOwners = st.pendingOwners[1:]
		if len(st.pendingOwners) == 0 {
			return layer.PRODUCE, nil
		}
		return l.pushAddrChild(req, parent, st)
	}
	child.Cut.Owner = "__nsaddr__"
	st.waitingChild = child
	return layer.PRODUCE, nil
}

// Consume processes the response to the last Produce()d packet for the
// current query. A nil Response means Worker.Exchange exhausted every
// elected address without a reply.
func (l *Layer) Consume(req *layer.Request) layer.State {
	q := req.Plan.Current()
	if q == nil {
		return layer.NOOP
	}
	st := l.state(q)
	if req.Response == nil {
		return l.consumeIOFailure(req, q, st)
	}
	resp := req.Response

	switch st.phase {
	case phaseFinal:
		return l.consumeFinal(req, q, st, resp)
	default:
		return l.consumeDelegation(req, q, st, resp)
	}
}

// consumeIOFailure reacts to every elected server address timing out or
// erroring. The first failure re-iterates the same server set over TCP,
// in case the path drops UDP but not TCP (spec.md §4.4 network-error
// handling); a second consecutive failure means the elected server set
// is unreachable by either transport, so the step fails outright rather
// than resending the identical packet until the outer deadline.
func (l *Layer) consumeIOFailure(req *layer.Request, q *rplan.Query, st *qstate) layer.State {
	if !q.HasFlag(rplan.FlagTCP) {
		q.SetFlag(rplan.FlagTCP)
		return layer.PRODUCE
	}
	q.ClearFlag(rplan.FlagTCP)
	return layer.FAIL
}

func (l *Layer) consumeDelegation(req *layer.Request, q *rplan.Query, st *qstate, resp *dns.Msg) layer.State {
	zone := st.zone()
	if st.phase == phaseFallback {
		zone = dns.Fqdn(q.Name)
	}

	if resp.Rcode == dns.RcodeRefused || resp.Rcode == dns.RcodeNotImplemented {
		if st.phase == phaseDelegation {
			st.phase = phaseFallback
			st.refusedSeen = true
			return layer.PRODUCE
		}
		return layer.FAIL
	}

	if resp.Rcode == dns.RcodeNameError {
		req.Answer = resp
		return finishQuery(req, q)
	}

	owners := wire.ExtractDelegationNS(resp, zone)
	if len(owners) == 0 {
		if st.phase == phaseFallback {
			return layer.FAIL
		}
		// Empty referral at this label: descend one more label toward
		// the leaf and try again (the zone may not be delegated here).
		if st.li > 0 {
			st.li--
		}
		return layer.PRODUCE
	}

	addrs := wire.GlueAddresses(resp)
	if len(addrs) == 0 {
		st.pendingOwners = owners
		return consumePushAddrFirst(req, q, st)
	}

	st.servers = addrs
	q.ClearFlag(rplan.FlagTCP)
	return l.advanceAfterDelegationConsume(req, q, st)
}

func consumePushAddrFirst(req *layer.Request, q *rplan.Query, st *qstate) layer.State {
	owner := st.pendingOwners[0]
	child, err := req.Plan.Push(q, owner, q.Class, dns.TypeA, q.Created)
	if err != nil {
		st.pendingOwners = st.pendingOwners[1:]
		if len(st.pendingOwners) == 0 {
			return layer.FAIL
		}
		return consumePushAddrFirst(req, q, st)
	}
	child.Cut.Owner = "__nsaddr__"
	st.waitingChild = child
	return layer.PRODUCE
}

func (l *Layer) advanceAfterDelegationConsume(req *layer.Request, q *rplan.Query, st *qstate) layer.State {
	if st.phase == phaseFallback {
		st.phase = phaseFinal
		return layer.PRODUCE
	}
	if st.li > 0 {
		st.li--
	}
	if st.zone() == dns.Fqdn(q.Name) {
		st.phase = phaseFinal
	}
	return layer.PRODUCE
}

func (l *Layer) advanceAfterDelegation(req *layer.Request, q *rplan.Query, st *qstate) (layer.State, *layer.Packet) {
	return l.advanceAfterDelegationConsume(req, q, st), nil
}

func (l *Layer) consumeFinal(req *layer.Request, q *rplan.Query, st *qstate, resp *dns.Msg) layer.State {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		if wire.HasRRType(resp.Answer, q.Type) {
			if q.Type == dns.TypeA || q.Type == dns.TypeAAAA {
				for _, rr := range resp.Answer {
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
			q.Answer = resp
			req.Answer = resp
			return finishQuery(req, q)
		}
		if tgt, ok := wire.CNAMETarget(resp, dns.Fqdn(q.Name)); ok {
			return l.chase(req, q, st, resp, tgt, wire.CNAMEChainRecords)
		}
		if tgt, ok := wire.DNAMESynthesize(resp, dns.Fqdn(q.Name)); ok {
			return l.chase(req, q, st, resp, tgt, wire.DNAMERecords)
		}
		// SOA-only (no data): a cacheable empty answer.
		q.Answer = resp
		req.Answer = resp
		return finishQuery(req, q)
	case dns.RcodeNameError:
		q.Answer = resp
		req.Answer = resp
		return finishQuery(req, q)
	default:
		return layer.FAIL
	}
}

func (l *Layer) chase(req *layer.Request, q *rplan.Query, st *qstate, resp *dns.Msg, target string, gather func([]dns.RR, string) []dns.RR) layer.State {
	child, err := req.Plan.Push(q, target, q.Class, q.Type, q.Created)
	if err != nil {
		return layer.FAIL
	}
	child.Cut.Owner = "__chase__"
	st.chaseParentResp = resp
	st.chaseQname = dns.Fqdn(q.Name)
	st.chaseGather = gather
	st.waitingChild = child
	return layer.PRODUCE
}

func finishQuery(req *layer.Request, q *rplan.Query) layer.State {
	if q == req.Plan.Request {
		return layer.DONE
	}
	req.Plan.Pop(q)
	return layer.PRODUCE
}
