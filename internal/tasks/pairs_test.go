package tasks

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touchFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("touch %s: %v", name, err)
		}
	}
}

func TestScanPairsMatchesByKey(t *testing.T) {
	degraded := t.TempDir()
	reference := t.TempDir()
	touchFiles(t, degraded, "b.png", "a.png", "c.jpg")
	touchFiles(t, reference, "c.jpg", "a.png", "b.png")

	set, err := ScanPairs(degraded, reference)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(set.Pairs) != 3 {
		t.Fatalf("pairs: %d", len(set.Pairs))
	}
	// Sorted by key regardless of listing order.
	for i, want := range []string{"a.png", "b.png", "c.jpg"} {
		p := set.Pairs[i]
		if p.Key != want {
			t.Fatalf("pair %d key %s, want %s", i, p.Key, want)
		}
		if filepath.Base(p.DegradedPath) != want || filepath.Base(p.ReferencePath) != want {
			t.Fatalf("pair %d paths do not share the key: %+v", i, p)
		}
	}
	if len(set.MissingReference) != 0 || len(set.MissingDegraded) != 0 {
		t.Fatalf("unexpected missing entries: %+v", set)
	}
}

func TestScanPairsReportsMissing(t *testing.T) {
	degraded := t.TempDir()
	reference := t.TempDir()
	touchFiles(t, degraded, "a.png", "only-degraded.png", "z-degraded.png")
	touchFiles(t, reference, "a.png", "only-reference.png")

	set, err := ScanPairs(degraded, reference)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(set.Pairs) != 1 || set.Pairs[0].Key != "a.png" {
		t.Fatalf("pairs: %+v", set.Pairs)
	}
	if !reflect.DeepEqual(set.MissingReference, []string{"only-degraded.png", "z-degraded.png"}) {
		t.Fatalf("missing reference: %v", set.MissingReference)
	}
	if !reflect.DeepEqual(set.MissingDegraded, []string{"only-reference.png"}) {
		t.Fatalf("missing degraded: %v", set.MissingDegraded)
	}
}

func TestScanPairsIgnoresNonImages(t *testing.T) {
	degraded := t.TempDir()
	reference := t.TempDir()
	touchFiles(t, degraded, "a.png", "notes.txt")
	touchFiles(t, reference, "a.png", "notes.txt")

	set, err := ScanPairs(degraded, reference)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(set.Pairs) != 1 {
		t.Fatalf("pairs: %+v", set.Pairs)
	}
	if len(set.MissingReference) != 0 || len(set.MissingDegraded) != 0 {
		t.Fatalf("non-image files leaked into the scan: %+v", set)
	}
}

func TestScanPairsFlagsShapeMismatch(t *testing.T) {
	degraded := t.TempDir()
	reference := t.TempDir()
	writeTestImage(t, degraded, "same.png", 16, 16, 20)
	writeTestImage(t, reference, "same.png", 16, 16, 21)
	writeTestImage(t, degraded, "wrong.png", 16, 16, 22)
	writeTestImage(t, reference, "wrong.png", 20, 16, 23)

	set, err := ScanPairs(degraded, reference)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// Mismatched pairs still pair up; the scan only flags them.
	if len(set.Pairs) != 2 {
		t.Fatalf("pairs: %+v", set.Pairs)
	}
	if len(set.ShapeMismatch) != 1 || set.ShapeMismatch[0] != "wrong.png" {
		t.Fatalf("shape mismatch: %v", set.ShapeMismatch)
	}
}

func TestScanPairsMissingDirectory(t *testing.T) {
	if _, err := ScanPairs(filepath.Join(t.TempDir(), "absent"), t.TempDir()); err == nil {
		t.Fatalf("missing degraded directory must error")
	}
}
