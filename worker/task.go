package worker

import (
	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/rplan"
)

// Task is a live client request, following spec.md §4.5's task
// lifecycle: it owns a scratch buffer and the resolution plan driving
// one client query. Go's GC reclaims everything else a task
// references, so the only part of the teacher's cyclic-reference
// concern (spec.md §9) that still applies here is recycling the
// scratch buffer, which the bounded freelist below bounds at
// MPFreelistSize. ID gives each Task a stable identity across its
// acquire/release cycle for correlating log lines with one client
// request, independent of the *Task pointer (which a freelist recycles).
type Task struct {
	ID      uuid.UUID
	Plan    *rplan.Plan
	Scratch []byte
}

// MPFreelistSize is MP_FREELIST_SIZE from spec.md §4.5's memory
// recycling note: the bound on how many scratch buffers are kept warm.
// A plain sync.Pool has no such bound (the runtime may keep arbitrarily
// many alive between GCs), so the freelist is a fixed-capacity channel
// instead — a ring buffer of recycled Tasks.
const MPFreelistSize = 8

// Freelist is a bounded pool of recycled Tasks.
type Freelist struct {
	free chan *Task
}

func NewFreelist() *Freelist {
	return &Freelist{free: make(chan *Task, MPFreelistSize)}
}

// Acquire returns a Task ready to drive plan, reusing a recycled one
// when the freelist is non-empty.
func (f *Freelist) Acquire(plan *rplan.Plan) *Task {
	select {
	case t := <-f.free:
		t.ID = uuid.New()
		t.Plan = plan
		t.Scratch = t.Scratch[:0]
		return t
	default:
		return &Task{ID: uuid.New(), Plan: plan, Scratch: make([]byte, 0, dns.DefaultMsgSize)}
	}
}

// Release returns t to the freelist once its FINISHED state has fully
// drained (spec.md §4.5 "Task lifetime ends when ... refcount reaches
// zero"). If the freelist is already at MPFreelistSize, t is simply
// dropped for the GC to collect.
func (f *Freelist) Release(t *Task) {
	t.Plan = nil
	select {
	case f.free <- t:
	default:
	}
}
