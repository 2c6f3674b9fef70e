// Package iterator implements the resolver core from spec.md §4.4: the
// resolve_begin/resolve_consume/resolve_produce loop that drives the
// layer pipeline, enforcing the iteration limit and handing I/O off to
// the worker.
package iterator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/rplan"
	"github.com/resolved-dns/resolved/worker"
)

// Resolver ties a layer pipeline to a worker.Worker.
type Resolver struct {
	Pipeline *layer.Pipeline
	Worker   *worker.Worker
	Tasks    *worker.Freelist
	Now      func() time.Time
}

func New(pipeline *layer.Pipeline, w *worker.Worker) *Resolver {
	return &Resolver{Pipeline: pipeline, Worker: w, Tasks: worker.NewFreelist(), Now: time.Now}
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ErrIterationLimit is returned when a request exceeds I-RP3's bound
// (MaxIterations pushes) without reaching DONE.
var ErrIterationLimit = &limitError{}

type limitError struct{}

func (*limitError) Error() string { return "iterator: resolution plan exceeded its iteration limit" }

// freshSecret mints a new 0x20-case-randomization secret per request.
// The Open Question in spec.md §9 on whether followers should each get
// a fresh secret is resolved in favor of "yes" here: every Resolve call
// mints its own, never reusing a leader's.
func freshSecret() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// Resolve drives one top-level request (name, class, type) to
// completion, producing and consuming across the layer pipeline until a
// layer reports DONE or FAIL for the root query, or the plan's iteration
// limit is exceeded.
func (r *Resolver) Resolve(ctx context.Context, name string, class, qtype uint16) (*dns.Msg, error) {
	secret := freshSecret()
	plan := rplan.New(name, class, qtype, r.now(), secret)
	plan.Throttle = r.Worker.Throttled
	req := &layer.Request{Plan: plan}

	task := r.Tasks.Acquire(plan)
	defer r.Tasks.Release(task)

	r.Pipeline.Begin(req)
	defer r.Pipeline.Finish(req)

	for {
		if err := ctx.Err(); err != nil {
			r.Pipeline.Fail(req)
			return nil, err
		}
		if plan.Pushes() > rplan.MaxIterations {
			r.Pipeline.Fail(req)
			return nil, ErrIterationLimit
		}

		state, pkt := r.Pipeline.Produce(req)
		switch state {
		case layer.DONE:
			return req.Answer, nil
		case layer.FAIL:
			r.Pipeline.Fail(req)
			if req.Err != nil {
				return nil, req.Err
			}
			return nil, ErrResolutionFailed
		case layer.PRODUCE:
			if pkt == nil {
				// The layer advanced the plan (e.g. pushed a child query
				// for a missing glue address) without anything to send
				// this tick; loop immediately to re-enter Produce against
				// the new Current().
				continue
			}
			if err := r.doIO(ctx, req, pkt, secret); err != nil {
				req.Response = nil
			}
			if state := r.Pipeline.Consume(req); state == layer.DONE {
				return req.Answer, nil
			} else if state == layer.FAIL {
				r.Pipeline.Fail(req)
				if req.Err != nil {
					return nil, req.Err
				}
				return nil, ErrResolutionFailed
			}
		default:
			// NOOP/CONSUME with no packet: nothing left for any layer to
			// do this tick but the plan is not DONE either — this is a
			// stuck pipeline, surface it rather than spin.
			return nil, ErrResolutionFailed
		}
	}
}

func (r *Resolver) doIO(ctx context.Context, req *layer.Request, pkt *layer.Packet, secret uint32) error {
	addrs := make([]netip.Addr, 0, len(pkt.Addrs))
	for _, s := range pkt.Addrs {
		if ap, err := netip.ParseAddrPort(s); err == nil {
			addrs = append(addrs, ap.Addr())
		} else if a, err := netip.ParseAddr(s); err == nil {
			addrs = append(addrs, a)
		}
	}
	resp, err := r.Worker.Exchange(ctx, pkt.Msg, addrs, secret, pkt.UseTCP, pkt.Throttled)
	req.Response = resp
	return err
}

var ErrResolutionFailed = &resolveFailedError{}

type resolveFailedError struct{}

func (*resolveFailedError) Error() string { return "iterator: resolution failed" }
