package volume

import (
	"os"
	"testing"

	"histostack/internal/models"
	"histostack/pkg/engine"
	"histostack/pkg/engine/enginetest"
	"histostack/pkg/project"
	"histostack/pkg/xform"
)

func setup(t *testing.T) ([]models.Slide, *project.Store, *enginetest.Fake) {
	dir := t.TempDir()
	slides := []models.Slide{
		{UniqueID: "s0", Z: 0},
		{UniqueID: "s1", Z: 1},
		{UniqueID: "s2", Z: 2},
	}
	store := project.New(dir, "jpg", false)

	// Seed the accumulated-reslice artifact each slide's matchOne reads as
	// its moving image path, and the accumulated-chain affine each slide's
	// iteration-0 transform is composed from.
	for _, s := range slides {
		reslicePath, err := store.PathForSlice(s.UniqueID, project.IntentAccumReslice, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := os.WriteFile(reslicePath, []byte("reslice"), 0644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		accumPath, err := store.PathForSlice(s.UniqueID, project.IntentAccumAffine, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := xform.WriteAffine(accumPath, xform.Identity()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return slides, store, enginetest.New()
}

func TestMatchAllPersistsMedianAndIterZeroTransforms(t *testing.T) {
	slides, store, fake := setup(t)
	vol := engine.NewIdentitySimpleVolume(8, 8, 10, 1, 1, 1, 0)
	m := NewMatcher(slides, vol, fake, store)

	if err := m.MatchAll(); err != nil {
		t.Fatalf("MatchAll failed: %v", err)
	}

	medianPath, err := store.PathForGlobal(project.IntentVolumeMedianAffine, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := xform.ReadAffine(medianPath); err != nil {
		t.Fatalf("expected a persisted median affine: %v", err)
	}

	for _, s := range slides {
		iter0Path, err := store.PathForSlice(s.UniqueID, project.IntentIterAffine, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := xform.ReadAffine(iter0Path); err != nil {
			t.Fatalf("expected iteration-0 transform for %s: %v", s.UniqueID, err)
		}
	}

	if len(fake.AffineCalls) != len(slides) {
		t.Fatalf("expected one affine call per slide, got %d", len(fake.AffineCalls))
	}
}

func TestMatchAllComposesAccumulatedChainAffineNotVolumeInit(t *testing.T) {
	slides, store, fake := setup(t)
	vol := engine.NewIdentitySimpleVolume(8, 8, 10, 1, 1, 1, 0)

	// Overwrite the accumulated-chain affine for each slide with a distinct,
	// non-identity transform. The fake engine's matchOne registration always
	// writes identity as Mv0, so the median-affine is identity too, which
	// means the correct iteration-0 output for slide i is exactly Ma(i).
	accum := map[string]*xform.Matrix3{
		"s0": xform.NewMatrix3([9]float64{1, 0, 3, 0, 1, 0, 0, 0, 1}),
		"s1": xform.NewMatrix3([9]float64{1, 0, 7, 0, 1, 0, 0, 0, 1}),
		"s2": xform.NewMatrix3([9]float64{1, 0, 11, 0, 1, 0, 0, 0, 1}),
	}
	for _, s := range slides {
		accumPath, err := store.PathForSlice(s.UniqueID, project.IntentAccumAffine, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := xform.WriteAffine(accumPath, accum[s.UniqueID]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	m := NewMatcher(slides, vol, fake, store)
	if err := m.MatchAll(); err != nil {
		t.Fatalf("MatchAll failed: %v", err)
	}

	for _, s := range slides {
		iter0Path, err := store.PathForSlice(s.UniqueID, project.IntentIterAffine, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := xform.ReadAffine(iter0Path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := accum[s.UniqueID]
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				if got.At(r, c) != want.At(r, c) {
					t.Fatalf("slide %s: expected iteration-0 transform %v, got %v", s.UniqueID, want, got)
				}
			}
		}
	}
}

func TestMatchOneSkipsRegistrationWhenSliceAndAffineBothExist(t *testing.T) {
	dir := t.TempDir()
	slides := []models.Slide{{UniqueID: "s0", Z: 0}}
	store := project.New(dir, "jpg", true)

	reslicePath, err := store.PathForSlice("s0", project.IntentAccumReslice, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(reslicePath, []byte("reslice"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	accumPath, err := store.PathForSlice("s0", project.IntentAccumAffine, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := xform.WriteAffine(accumPath, xform.Identity()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	slidePath, err := store.PathForSlice("s0", project.IntentVolumeSlide, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(slidePath, []byte("already there"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outPath, err := store.PathForSlice("s0", project.IntentVolumeSlideAffine, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	existing := xform.NewMatrix3([9]float64{1, 0, 42, 0, 1, 0, 0, 0, 1})
	if err := xform.WriteAffine(outPath, existing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vol := engine.NewIdentitySimpleVolume(8, 8, 10, 1, 1, 1, 0)
	fake := enginetest.New()
	m := NewMatcher(slides, vol, fake, store)

	if err := m.MatchAll(); err != nil {
		t.Fatalf("MatchAll failed: %v", err)
	}

	if len(fake.AffineCalls) != 0 {
		t.Fatalf("expected no affine calls when both outputs already exist, got %d", len(fake.AffineCalls))
	}

	got, err := os.ReadFile(slidePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "already there" {
		t.Fatalf("expected the existing VOL_SLIDE file to be left untouched, got %q", got)
	}

	gotAffine, err := xform.ReadAffine(outPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if gotAffine.At(r, c) != existing.At(r, c) {
				t.Fatalf("expected the existing VOL_INIT_MATRIX to be left untouched, got %v", gotAffine)
			}
		}
	}
}

func TestMedianAffineMedoidPicksLowestTotalDistance(t *testing.T) {
	a := xform.Identity()
	b := xform.NewMatrix3([9]float64{1, 0, 5, 0, 1, 0, 0, 0, 1})
	c := xform.NewMatrix3([9]float64{1, 0, 10, 0, 1, 0, 0, 0, 1})

	medoid := medianAffineMedoid([]*xform.Matrix3{a, b, c})
	if medoid != 1 {
		t.Fatalf("expected the middle transform (index 1) to be the medoid, got %d", medoid)
	}
}

func TestMedianAffineMedoidTiesBreakOnLowestIndex(t *testing.T) {
	a := xform.Identity()
	b := xform.Identity()

	medoid := medianAffineMedoid([]*xform.Matrix3{a, b})
	if medoid != 0 {
		t.Fatalf("expected tie to break toward index 0, got %d", medoid)
	}
}
