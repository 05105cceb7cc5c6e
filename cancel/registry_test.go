package cancel

import (
	"testing"

	"github.com/google/uuid"
)

func TestMarkRequestedClear(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	if r.Requested(id) {
		t.Fatal("expected unmarked job to report not requested")
	}
	r.Mark(id)
	if !r.Requested(id) {
		t.Fatal("expected marked job to report requested")
	}
	r.Clear(id)
	if r.Requested(id) {
		t.Fatal("expected cleared job to report not requested")
	}
}
