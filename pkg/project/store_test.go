package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathResolversCreateParentDirs(t *testing.T) {
	root := t.TempDir()
	s := New(root, "png", false)

	p, err := s.PathForSlicePair("A", "B", IntentNeighborAffine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(root, "recon", "nbr", "affine_ref_A_mov_B.mat")
	if p != want {
		t.Fatalf("got %s, want %s", p, want)
	}
	if _, err := os.Stat(filepath.Dir(p)); err != nil {
		t.Fatalf("expected parent directory to exist: %v", err)
	}
}

func TestIterPathsUseZeroPaddedIndex(t *testing.T) {
	root := t.TempDir()
	s := New(root, "nii.gz", false)

	p, err := s.PathForSlice("S1", IntentIterAffine, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(root, "vol", "iter03", "affine_refvol_mov_S1_iter03.mat")
	if p != want {
		t.Fatalf("got %s, want %s", p, want)
	}
}

func TestSaveLoadConfigRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root, "png", false)

	if err := s.SaveConfig("root_slide", "S7"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	got, err := s.LoadConfig("root_slide", "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got != "S7" {
		t.Fatalf("got %q, want %q", got, "S7")
	}
}

func TestLoadConfigMissingReturnsDefault(t *testing.T) {
	root := t.TempDir()
	s := New(root, "png", false)

	got, err := s.LoadConfig("never_written", "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fallback" {
		t.Fatalf("got %q, want %q", got, "fallback")
	}
}

func TestCanSkipRequiresReuseModeAndExistence(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "present.txt")
	if err := os.WriteFile(existing, []byte("x"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	noReuse := New(root, "png", false)
	if noReuse.CanSkip(existing) {
		t.Fatalf("expected CanSkip to be false when reuse mode is disabled")
	}

	reuse := New(root, "png", true)
	if !reuse.CanSkip(existing) {
		t.Fatalf("expected CanSkip to be true for an existing path in reuse mode")
	}
	if reuse.CanSkip(filepath.Join(root, "absent.txt")) {
		t.Fatalf("expected CanSkip to be false for a missing path even in reuse mode")
	}
}
