package gpu

import (
	"testing"

	"github.com/google/uuid"
)

func TestAcquireReleaseCycle(t *testing.T) {
	r := NewRegistry(2)
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	devA, ok := r.Acquire(a)
	if !ok {
		t.Fatal("expected slot for a")
	}
	devB, ok := r.Acquire(b)
	if !ok {
		t.Fatal("expected slot for b")
	}
	if devA == devB {
		t.Fatalf("a and b got the same device %d", devA)
	}

	if _, ok := r.Acquire(c); ok {
		t.Fatal("expected registry to be full")
	}

	r.Release(a)
	devC, ok := r.Acquire(c)
	if !ok {
		t.Fatal("expected slot freed by a to be available for c")
	}
	if devC != devA {
		t.Fatalf("expected c to reuse device %d, got %d", devA, devC)
	}
}

func TestAcquireIdempotentForSameJob(t *testing.T) {
	r := NewRegistry(1)
	a := uuid.New()
	dev1, _ := r.Acquire(a)
	dev2, ok := r.Acquire(a)
	if !ok || dev1 != dev2 {
		t.Fatalf("expected idempotent re-acquire, got dev1=%d dev2=%d ok=%v", dev1, dev2, ok)
	}
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	r := NewRegistry(1)
	r.Release(uuid.New())
	if r.Available() != 1 {
		t.Fatalf("expected capacity untouched, available=%d", r.Available())
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	r := NewRegistry(2)
	a := uuid.New()
	r.Acquire(a)
	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(snap))
	}
	allocated := 0
	for _, s := range snap {
		if s.State == Allocated {
			allocated++
			if s.JobID != a {
				t.Errorf("allocated slot has wrong job id: %v", s.JobID)
			}
		}
	}
	if allocated != 1 {
		t.Fatalf("expected 1 allocated slot, got %d", allocated)
	}
}
