// Package layer defines the capability-set pipeline the iterator drives
// (spec.md §4.3): a Layer is {Begin, Reset, Finish, Produce, Consume,
// Fail} over a shared per-request state bag, composed left to right.
package layer

import (
	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/rplan"
)

// State is the hook return value the iterator inspects to decide what to
// do next (spec.md §4.3).
type State int

const (
	NOOP State = iota
	CONSUME
	PRODUCE
	DONE
	FAIL
)

func (s State) String() string {
	switch s {
	case NOOP:
		return "NOOP"
	case CONSUME:
		return "CONSUME"
	case PRODUCE:
		return "PRODUCE"
	case DONE:
		return "DONE"
	case FAIL:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Packet is what Produce hands to C5 to perform I/O: a wire message, the
// candidate address list to try it against in order, and whether the
// caller must use TCP.
type Packet struct {
	Msg    *dns.Msg
	Addrs  []string
	UseTCP bool

	// Throttled mirrors the current query's !FlagNoThrottle state, telling
	// C5 to spend a reduced retry budget on this exchange (spec.md §4.5).
	Throttled bool
}

// Request is the per-request state bag every layer hook receives:
// the resolution plan plus scratch fields layers use to pass data to
// each other within one request (e.g. the last response seen).
type Request struct {
	Plan     *rplan.Plan
	Response *dns.Msg
	Err      error

	// Answer accumulates the final answer once a layer reaches DONE.
	Answer *dns.Msg
}

// Layer is one stage of the pipeline. Every hook is optional in spirit —
// implementations that have nothing to do for a hook return NOOP — but
// the interface has no default methods since Go has no optional
// interface methods; embed layer.Base to get NOOP defaults for the hooks
// you don't need to override.
type Layer interface {
	Begin(req *Request) State
	Reset(req *Request) State
	Finish(req *Request) State
	Produce(req *Request) (State, *Packet)
	Consume(req *Request) State
	Fail(req *Request) State
}

// Base implements Layer with NOOP for every hook, so concrete layers can
// embed it and only override what they need.
type Base struct{}

func (Base) Begin(*Request) State               { return NOOP }
func (Base) Reset(*Request) State                { return NOOP }
func (Base) Finish(*Request) State               { return NOOP }
func (Base) Produce(*Request) (State, *Packet)   { return NOOP, nil }
func (Base) Consume(*Request) State              { return NOOP }
func (Base) Fail(*Request) State                 { return NOOP }

// Pipeline composes layers in a fixed left-to-right order, wired once at
// construction (spec.md §4.3 — no runtime plugin loading).
type Pipeline struct {
	Layers []Layer
}

func New(layers ...Layer) *Pipeline {
	return &Pipeline{Layers: layers}
}

func (p *Pipeline) Begin(req *Request) State {
	result := NOOP
	for _, l := range p.Layers {
		if s := l.Begin(req); s == FAIL {
			return FAIL
		} else if s != NOOP {
			result = s
		}
	}
	return result
}

func (p *Pipeline) Finish(req *Request) {
	for _, l := range p.Layers {
		l.Finish(req)
	}
}

func (p *Pipeline) Fail(req *Request) {
	for _, l := range p.Layers {
		l.Fail(req)
	}
}

// Produce asks each layer in order for a packet to send; the first layer
// that yields PRODUCE wins (the cache layer is conventionally first, so
// it can short-circuit on a hit before the iterator layer emits wire
// traffic).
func (p *Pipeline) Produce(req *Request) (State, *Packet) {
	for _, l := range p.Layers {
		switch s, pkt := l.Produce(req); s {
		case PRODUCE:
			return PRODUCE, pkt
		case DONE:
			return DONE, nil
		case FAIL:
			return FAIL, nil
		}
	}
	return NOOP, nil
}

// Consume runs every layer's Consume hook against the current response,
// in order, so the cache layer can record data before the iterator layer
// acts on it.
func (p *Pipeline) Consume(req *Request) State {
	result := NOOP
	for _, l := range p.Layers {
		switch s := l.Consume(req); s {
		case FAIL:
			return FAIL
		case DONE:
			return DONE
		case CONSUME, PRODUCE:
			result = s
		}
	}
	return result
}
