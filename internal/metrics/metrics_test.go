package metrics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"upres/internal/raster"
)

func randomImage(w, h int, seed int64) *raster.Image {
	rng := rand.New(rand.NewSource(seed))
	m := raster.New(w, h, raster.RGB)
	for i := range m.Pix {
		m.Pix[i] = uint8(rng.Intn(256))
	}
	return m
}

func TestIdenticalImages(t *testing.T) {
	m := randomImage(16, 12, 1)
	triple, err := Compare(m, m.Clone())
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !math.IsInf(triple.PSNR, 1) {
		t.Fatalf("identical images must yield +Inf PSNR, got %f", triple.PSNR)
	}
	if triple.MSE != 0 {
		t.Fatalf("identical images must yield MSE 0, got %f", triple.MSE)
	}
	if math.Abs(triple.SSIM-1) > 1e-12 {
		t.Fatalf("identical images must yield SSIM 1, got %f", triple.SSIM)
	}
}

func TestMSENormalizationExcludesChannels(t *testing.T) {
	// 2x2 image, single-sample difference of 6: sse = 36, divisor is
	// height*width = 4 (not 12), so MSE = 9.
	a := raster.New(2, 2, raster.RGB)
	b := raster.New(2, 2, raster.RGB)
	b.Pix[0] = 6
	mse, err := MSE(a, b)
	if err != nil {
		t.Fatalf("mse: %v", err)
	}
	if mse != 9 {
		t.Fatalf("got MSE %f, want 9", mse)
	}
}

func TestPSNRKnownValue(t *testing.T) {
	// Uniform difference of 5 everywhere: rmse = 5,
	// psnr = 20*log10(255/5) = 34.1514...
	a := raster.New(8, 8, raster.RGB)
	b := raster.New(8, 8, raster.RGB)
	for i := range b.Pix {
		b.Pix[i] = 5
	}
	psnr, err := PSNR(a, b)
	if err != nil {
		t.Fatalf("psnr: %v", err)
	}
	want := 20 * math.Log10(255.0/5.0)
	if math.Abs(psnr-want) > 1e-9 {
		t.Fatalf("got %f, want %f", psnr, want)
	}
}

func TestSymmetry(t *testing.T) {
	a := randomImage(14, 14, 2)
	b := randomImage(14, 14, 3)
	ab, err := Compare(a, b)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	ba, err := Compare(b, a)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if math.Abs(ab.PSNR-ba.PSNR) > 1e-9 ||
		math.Abs(ab.MSE-ba.MSE) > 1e-9 ||
		math.Abs(ab.SSIM-ba.SSIM) > 1e-9 {
		t.Fatalf("metrics must be symmetric: %+v vs %+v", ab, ba)
	}
}

func TestShapeMismatch(t *testing.T) {
	a := raster.New(8, 8, raster.RGB)
	b := raster.New(8, 9, raster.RGB)
	if _, err := Compare(a, b); !errors.Is(err, raster.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := PSNR(a, b); !errors.Is(err, raster.ErrShapeMismatch) {
		t.Fatalf("psnr: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := MSE(a, b); !errors.Is(err, raster.ErrShapeMismatch) {
		t.Fatalf("mse: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := SSIM(a, b); !errors.Is(err, raster.ErrShapeMismatch) {
		t.Fatalf("ssim: expected ErrShapeMismatch, got %v", err)
	}
}

func TestSSIMRange(t *testing.T) {
	a := randomImage(20, 20, 4)
	b := randomImage(20, 20, 5)
	ssim, err := SSIM(a, b)
	if err != nil {
		t.Fatalf("ssim: %v", err)
	}
	if ssim <= -1 || ssim >= 1 {
		t.Fatalf("ssim of unrelated noise should be strictly inside (-1,1), got %f", ssim)
	}

	// A lightly perturbed copy scores higher than unrelated noise.
	near := a.Clone()
	for i := 0; i < len(near.Pix); i += 17 {
		if near.Pix[i] < 250 {
			near.Pix[i] += 3
		}
	}
	nearSSIM, err := SSIM(a, near)
	if err != nil {
		t.Fatalf("ssim: %v", err)
	}
	if nearSSIM <= ssim {
		t.Fatalf("perturbed copy (%f) must outscore noise (%f)", nearSSIM, ssim)
	}
}

func TestSSIMWindowedValidation(t *testing.T) {
	a := randomImage(10, 10, 6)
	b := randomImage(10, 10, 7)
	if _, err := SSIMWindowed(a, b, 4); err == nil {
		t.Fatalf("even window must error")
	}
	if _, err := SSIMWindowed(a, b, 1); err == nil {
		t.Fatalf("window 1 must error")
	}
	small := randomImage(5, 5, 8)
	small2 := randomImage(5, 5, 9)
	if _, err := SSIMWindowed(small, small2, 7); err == nil {
		t.Fatalf("image smaller than window must error")
	}
}

func TestSSIMPlaneIdentity(t *testing.T) {
	m := randomImage(12, 12, 10)
	x := m.Plane(0)
	v, err := SSIMPlane(x, x, 12, 12)
	if err != nil {
		t.Fatalf("ssimplane: %v", err)
	}
	if math.Abs(v-1) > 1e-12 {
		t.Fatalf("identity plane SSIM must be 1, got %f", v)
	}
}
