package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"upres/internal/imgio"
)

func TestDegradeDirectoryProcessesAllImages(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "low")
	writeTestImage(t, input, "a.png", 16, 16, 10)
	writeTestImage(t, input, "b.png", 20, 12, 11)

	res, err := DegradeDirectory(DegradeRequest{
		InputDir:  input,
		OutputDir: output,
		Factor:    2,
	})
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	if len(res.Outputs) != 2 || len(res.Failed) != 0 {
		t.Fatalf("outputs %d failed %d", len(res.Outputs), len(res.Failed))
	}

	// Degraded files keep their keys and dimensions so the evaluation
	// stage can pair them back up.
	for name, want := range map[string][2]int{"a.png": {16, 16}, "b.png": {20, 12}} {
		img, err := imgio.Read(filepath.Join(output, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if img.W != want[0] || img.H != want[1] {
			t.Fatalf("%s: %dx%d, want %dx%d", name, img.W, img.H, want[0], want[1])
		}
	}
}

func TestDegradeDirectoryIsolatesBadFiles(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "low")
	writeTestImage(t, input, "good1.png", 16, 16, 12)
	writeTestImage(t, input, "good2.png", 16, 16, 13)
	if err := os.WriteFile(filepath.Join(input, "broken.png"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	res, err := DegradeDirectory(DegradeRequest{
		InputDir:  input,
		OutputDir: output,
		Factor:    2,
	})
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("outputs: %v", res.Outputs)
	}
	if _, ok := res.Failed["broken.png"]; !ok || len(res.Failed) != 1 {
		t.Fatalf("failed map: %v", res.Failed)
	}
}

func TestDegradeDirectoryEmptyInput(t *testing.T) {
	if _, err := DegradeDirectory(DegradeRequest{
		InputDir:  t.TempDir(),
		OutputDir: t.TempDir(),
		Factor:    2,
	}); err == nil {
		t.Fatalf("empty input directory must error")
	}
}
