package tasks

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"upres/internal/imgio"
	"upres/internal/raster"
	"upres/internal/srcnn"
)

func passthroughModel(t *testing.T) *srcnn.Model {
	t.Helper()
	m, err := srcnn.NewModel(srcnn.DeltaWeights())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func writeTestImage(t *testing.T, dir, name string, w, h int, seed int64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := raster.New(w, h, raster.RGB)
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	path := filepath.Join(dir, name)
	if err := imgio.Write(path, img); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestEvaluatePairIdenticalImages(t *testing.T) {
	dir := t.TempDir()
	degraded := writeTestImage(t, dir, "pair.png", 33, 33, 1)
	reference := writeTestImage(t, filepath.Join(dir, "ref"), "pair.png", 33, 33, 1)

	res, err := EvaluatePair(EvalRequest{
		DegradedPath:  degraded,
		ReferencePath: reference,
	}, passthroughModel(t))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if res.Key != "pair.png" {
		t.Fatalf("key: %s", res.Key)
	}
	// 33x33 survives the modulo crop; the border shave leaves 21x21.
	if res.Width != 21 || res.Height != 21 {
		t.Fatalf("compared size %dx%d, want 21x21", res.Width, res.Height)
	}
	if !math.IsInf(res.Before.PSNR, 1) {
		t.Fatalf("identical pair must score +Inf before PSNR, got %f", res.Before.PSNR)
	}
	if res.Before.MSE != 0 || res.Before.SSIM != 1 {
		t.Fatalf("identical pair before scores: %+v", res.Before)
	}
	// Passthrough weights reproduce the luminance interior; the only loss is
	// the color space round trip, so the after score stays very high.
	if res.After.PSNR < 35 {
		t.Fatalf("passthrough after PSNR %f too low", res.After.PSNR)
	}
	if res.After.SSIM < 0.99 {
		t.Fatalf("passthrough after SSIM %f too low", res.After.SSIM)
	}
}

func TestEvaluatePairAppliesModuloCrop(t *testing.T) {
	dir := t.TempDir()
	// 35x34 crops to 33x33 at scale 3, shaves to 21x21.
	degraded := writeTestImage(t, dir, "odd.png", 35, 34, 2)
	reference := writeTestImage(t, filepath.Join(dir, "ref"), "odd.png", 35, 34, 2)

	res, err := EvaluatePair(EvalRequest{
		DegradedPath:  degraded,
		ReferencePath: reference,
		Scale:         3,
	}, passthroughModel(t))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Width != 21 || res.Height != 21 {
		t.Fatalf("compared size %dx%d, want 21x21", res.Width, res.Height)
	}
}

func TestEvaluatePairShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	degraded := writeTestImage(t, dir, "a.png", 33, 33, 3)
	reference := writeTestImage(t, filepath.Join(dir, "ref"), "a.png", 36, 33, 4)

	_, err := EvaluatePair(EvalRequest{
		DegradedPath:  degraded,
		ReferencePath: reference,
	}, passthroughModel(t))
	if !errors.Is(err, raster.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestEvaluatePairMissingFile(t *testing.T) {
	dir := t.TempDir()
	reference := writeTestImage(t, dir, "only-ref.png", 33, 33, 5)

	_, err := EvaluatePair(EvalRequest{
		DegradedPath:  filepath.Join(dir, "absent.png"),
		ReferencePath: reference,
	}, passthroughModel(t))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestEvaluatePairWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	degraded := writeTestImage(t, dir, "out.png", 33, 33, 6)
	reference := writeTestImage(t, filepath.Join(dir, "ref"), "out.png", 33, 33, 6)
	outDir := filepath.Join(dir, "results")

	res, err := EvaluatePair(EvalRequest{
		DegradedPath:  degraded,
		ReferencePath: reference,
		OutputDir:     outDir,
	}, passthroughModel(t))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.OutputFile == "" {
		t.Fatalf("output file not reported")
	}

	for _, sub := range []string{"output", "degraded", "reference"} {
		path := filepath.Join(outDir, sub, "out.png")
		img, err := imgio.Read(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if img.W != res.Width || img.H != res.Height {
			t.Fatalf("%s: %dx%d, want %dx%d", sub, img.W, img.H, res.Width, res.Height)
		}
	}
}

func TestEvaluatePairTooSmallForTransform(t *testing.T) {
	dir := t.TempDir()
	degraded := writeTestImage(t, dir, "tiny.png", 12, 12, 7)
	reference := writeTestImage(t, filepath.Join(dir, "ref"), "tiny.png", 12, 12, 7)

	if _, err := EvaluatePair(EvalRequest{
		DegradedPath:  degraded,
		ReferencePath: reference,
	}, passthroughModel(t)); err == nil {
		t.Fatalf("image below the minimum transform size must error")
	}
}
