package params

import (
	"testing"
)

func intp(v int) *int         { return &v }
func f64p(v float64) *float64 { return &v }
func i64p(v int64) *int64     { return &v }

func TestResolveAppliesDefaults(t *testing.T) {
	req := &Request{Prompt: "a cat walks"}
	out, err := req.Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.NumFrames != DefaultNumFrames {
		t.Errorf("num_frames = %d, want %d", out.NumFrames, DefaultNumFrames)
	}
	if out.Width != DefaultWidth || out.Height != DefaultHeight {
		t.Errorf("dimensions = %dx%d, want %dx%d", out.Width, out.Height, DefaultWidth, DefaultHeight)
	}
	if out.Seed == 0 {
		// extremely unlikely to legitimately be zero, so this is only
		// logged as a hint that randomization may not be wired
		t.Log("seed resolved to zero, verify randomization is wired")
	}
}

func TestResolveBoundaryFrames(t *testing.T) {
	for _, n := range []int{MinNumFrames, MaxNumFrames} {
		req := &Request{Prompt: "x", NumFrames: intp(n)}
		if _, err := req.Resolve(); err != nil {
			t.Errorf("num_frames=%d should be accepted: %v", n, err)
		}
	}
	for _, n := range []int{MinNumFrames - 1, MaxNumFrames + 1} {
		req := &Request{Prompt: "x", NumFrames: intp(n)}
		if _, err := req.Resolve(); err == nil {
			t.Errorf("num_frames=%d should be rejected", n)
		}
	}
}

func TestResolveRejectsNonMultipleOf64(t *testing.T) {
	req := &Request{Prompt: "x", Width: intp(500)}
	_, err := req.Resolve()
	if err == nil {
		t.Fatal("expected validation error for width=500")
	}
}

func TestResolveAggregatesViolations(t *testing.T) {
	req := &Request{Prompt: "", Width: intp(500)}
	_, err := req.Resolve()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Violations) < 2 {
		t.Fatalf("expected both prompt and width violations, got %v", ve.Violations)
	}
}

func TestResolveHonorsExplicitSeed(t *testing.T) {
	req := &Request{Prompt: "x", Seed: i64p(42)}
	out, err := req.Resolve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Seed != 42 {
		t.Errorf("seed = %d, want 42", out.Seed)
	}
}

func TestResolveRejectsBadGuidanceScale(t *testing.T) {
	req := &Request{Prompt: "x", GuidanceScale: f64p(25)}
	if _, err := req.Resolve(); err == nil {
		t.Fatal("expected validation error for guidance_scale=25")
	}
}
