package refine

import (
	"os"
	"testing"

	"histostack/internal/models"
	"histostack/pkg/engine"
	"histostack/pkg/engine/enginetest"
	"histostack/pkg/project"
	"histostack/pkg/stackerr"
	"histostack/pkg/xform"
)

func setup(t *testing.T, cfg Config) (*Refiner, *project.Store, []models.Slide, *enginetest.Fake) {
	dir := t.TempDir()
	slides := []models.Slide{
		{UniqueID: "s0", Z: 0, Path: "/fixtures/s0.png"},
		{UniqueID: "s1", Z: 1, Path: "/fixtures/s1.png"},
		{UniqueID: "s2", Z: 2, Path: "/fixtures/s2.png"},
	}
	sorted := models.NewSortedIndex(slides)
	store := project.New(dir, "png", false)

	for _, s := range slides {
		p, err := store.PathForSlice(s.UniqueID, project.IntentIterAffine, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := xform.WriteAffine(p, xform.Identity()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	vol := engine.NewIdentitySimpleVolume(4, 4, 6, 1, 1, 1, 0)
	fake := enginetest.New()
	r, err := NewRefiner(slides, sorted, vol, fake, store, cfg)
	if err != nil {
		t.Fatalf("NewRefiner failed: %v", err)
	}
	return r, store, slides, fake
}

func TestRunProducesAffineAndWarpOutputsAcrossSchedule(t *testing.T) {
	cfg := Config{NAffine: 2, NDeform: 1, WVolume: 4, Seed: 42}
	r, store, slides, _ := setup(t, cfg)

	if err := r.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, s := range slides {
		for k := 1; k <= cfg.NAffine; k++ {
			p, err := store.PathForSlice(s.UniqueID, project.IntentIterAffine, k)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := xform.ReadAffine(p); err != nil {
				t.Fatalf("expected affine output for %s iter %d: %v", s.UniqueID, k, err)
			}
		}
		for k := cfg.NAffine + 1; k <= cfg.NAffine+cfg.NDeform; k++ {
			p, err := store.PathForSlice(s.UniqueID, project.IntentIterWarp, k)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := os.Stat(p); err != nil {
				t.Fatalf("expected warp output for %s iter %d: %v", s.UniqueID, k, err)
			}
		}
	}
}

func TestAffineInputsShareMovingImageAndVaryFixedTarget(t *testing.T) {
	cfg := Config{NAffine: 2, NDeform: 0, WVolume: 4, Seed: 42}
	r, _, slides, fake := setup(t, cfg)

	if err := r.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	knownPaths := make(map[string]bool, len(slides))
	for _, s := range slides {
		knownPaths[s.Path] = true
	}

	if len(fake.AffineCalls) == 0 {
		t.Fatalf("expected at least one affine call")
	}
	for _, call := range fake.AffineCalls {
		if len(call.Inputs) == 0 {
			t.Fatalf("expected at least one input pair per affine call")
		}
		moving := call.Inputs[0].Moving
		if !knownPaths[moving] {
			t.Fatalf("expected the moving image to be the slide's own raw path, got %q", moving)
		}
		for _, in := range call.Inputs {
			if in.Moving != moving {
				t.Fatalf("expected every input pair in a call to share the same moving image, got %q and %q", moving, in.Moving)
			}
			if in.Fixed == "" {
				t.Fatalf("expected a non-empty fixed target")
			}
			if in.Fixed == moving {
				t.Fatalf("fixed target must not be the slide's own raw image")
			}
		}
	}
}

func TestArgumentErrorOnInvalidRestartRange(t *testing.T) {
	cases := []Config{
		{NAffine: 2, NDeform: 1, IFirst: 2, ILast: 1},
		{NAffine: 2, NDeform: 1, IFirst: 0, ILast: 3},
		{NAffine: 2, NDeform: 1, IFirst: 1, ILast: 4},
	}
	for _, cfg := range cases {
		dir := t.TempDir()
		store := project.New(dir, "png", false)
		slides := []models.Slide{{UniqueID: "s0", Z: 0, Path: "/fixtures/s0.png"}}
		sorted := models.NewSortedIndex(slides)
		vol := engine.NewIdentitySimpleVolume(4, 4, 4, 1, 1, 1, 0)

		_, err := NewRefiner(slides, sorted, vol, enginetest.New(), store, cfg)
		if err == nil {
			t.Fatalf("expected an ArgumentError for config %+v", cfg)
		}
		if _, ok := err.(*stackerr.ArgumentError); !ok {
			t.Fatalf("expected *stackerr.ArgumentError, got %T: %v", err, err)
		}
	}
}

func TestDefaultRestartRangeIsFullSchedule(t *testing.T) {
	cfg := Config{NAffine: 3, NDeform: 2}
	dir := t.TempDir()
	store := project.New(dir, "png", false)
	slides := []models.Slide{{UniqueID: "s0", Z: 0, Path: "/fixtures/s0.png"}}
	sorted := models.NewSortedIndex(slides)
	vol := engine.NewIdentitySimpleVolume(4, 4, 4, 1, 1, 1, 0)

	r, err := NewRefiner(slides, sorted, vol, enginetest.New(), store, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.cfg.IFirst != 1 || r.cfg.ILast != 5 {
		t.Fatalf("expected default range [1,5], got [%d,%d]", r.cfg.IFirst, r.cfg.ILast)
	}
}

func TestImmediateNeighborsAtBothEndsOfStack(t *testing.T) {
	cfg := Config{NAffine: 1, NDeform: 0, WVolume: 1}
	r, _, _, _ := setup(t, cfg)

	first := r.immediateNeighbors(0)
	if len(first) != 1 {
		t.Fatalf("expected the first slide to have exactly one neighbor, got %d", len(first))
	}
	middle := r.immediateNeighbors(1)
	if len(middle) != 2 {
		t.Fatalf("expected the middle slide to have two neighbors, got %d", len(middle))
	}
	last := r.immediateNeighbors(2)
	if len(last) != 1 {
		t.Fatalf("expected the last slide to have exactly one neighbor, got %d", len(last))
	}
}
