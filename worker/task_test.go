package worker

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/resolved-dns/resolved/rplan"
)

func TestFreelistAcquireReleaseReusesTask(t *testing.T) {
	f := NewFreelist()
	plan := rplan.New("example.com.", dns.ClassINET, dns.TypeA, time.Now(), 0)

	t1 := f.Acquire(plan)
	if t1.Plan != plan {
		t.Fatalf("acquired task plan = %v, want %v", t1.Plan, plan)
	}
	id1 := t1.ID
	f.Release(t1)
	if t1.Plan != nil {
		t.Fatalf("released task still references plan")
	}

	t2 := f.Acquire(plan)
	if t2 != t1 {
		t.Fatalf("expected freelist to recycle the released task")
	}
	if t2.ID == id1 {
		t.Fatalf("expected a fresh ID on reacquire, got the same one")
	}
}

func TestFreelistBoundsCapacity(t *testing.T) {
	f := NewFreelist()
	plan := rplan.New("example.com.", dns.ClassINET, dns.TypeA, time.Now(), 0)

	tasks := make([]*Task, 0, MPFreelistSize+2)
	for i := 0; i < MPFreelistSize+2; i++ {
		tasks = append(tasks, f.Acquire(plan))
	}
	for _, task := range tasks {
		f.Release(task)
	}
	if len(f.free) != MPFreelistSize {
		t.Fatalf("freelist held %d tasks, want bound of %d", len(f.free), MPFreelistSize)
	}
}
