package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSlideFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
	return p
}

func TestParseValidManifest(t *testing.T) {
	dir := t.TempDir()
	writeSlideFile(t, dir, "a.png")
	writeSlideFile(t, dir, "b.png")

	text := "S1 0.0 a.png\n\nS2 5.5 b.png\n"
	slides, err := Parse(strings.NewReader(text), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slides) != 2 {
		t.Fatalf("expected 2 slides, got %d", len(slides))
	}
	if slides[0].UniqueID != "S1" || slides[0].Z != 0.0 {
		t.Fatalf("unexpected first slide: %+v", slides[0])
	}
	if slides[1].UniqueID != "S2" || slides[1].Z != 5.5 {
		t.Fatalf("unexpected second slide: %+v", slides[1])
	}
}

func TestParseBlankLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeSlideFile(t, dir, "a.png")

	text := "\n\nS1 0.0 a.png\n   \n"
	slides, err := Parse(strings.NewReader(text), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slides) != 1 {
		t.Fatalf("expected 1 slide, got %d", len(slides))
	}
}

func TestParseMalformedLineFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Parse(strings.NewReader("S1 0.0\n"), dir)
	if err == nil {
		t.Fatalf("expected an error for a line missing a field")
	}
}

func TestParseMissingReferencedFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Parse(strings.NewReader("S1 0.0 missing.png\n"), dir)
	if err == nil {
		t.Fatalf("expected an error for a missing referenced file")
	}
}

func TestParseDuplicateUniqueIDsAccepted(t *testing.T) {
	dir := t.TempDir()
	writeSlideFile(t, dir, "a.png")

	text := "S1 0.0 a.png\nS1 1.0 a.png\n"
	slides, err := Parse(strings.NewReader(text), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slides) != 2 {
		t.Fatalf("expected 2 slides despite duplicate ids, got %d", len(slides))
	}
}
