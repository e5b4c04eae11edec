package degrade

import (
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

func TestDegradePreservesDimensions(t *testing.T) {
	for _, factor := range []int{2, 3, 4} {
		m := randomImage(24, 18, int64(factor))
		out, err := Degrade(m, factor)
		if err != nil {
			t.Fatalf("factor %d: %v", factor, err)
		}
		if out.W != m.W || out.H != m.H {
			t.Fatalf("factor %d: got %dx%d, want %dx%d", factor, out.W, out.H, m.W, m.H)
		}
		if out.Space != m.Space {
			t.Fatalf("factor %d: space changed to %v", factor, out.Space)
		}
	}
}

func TestDegradeFactorOneIsIdentity(t *testing.T) {
	m := randomImage(10, 10, 1)
	out, err := Degrade(m, 1)
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	if out == m {
		t.Fatalf("factor 1 must return a copy")
	}
	for i := range m.Pix {
		if out.Pix[i] != m.Pix[i] {
			t.Fatalf("factor 1 altered pixel %d", i)
		}
	}
}

func TestDegradeDeterministic(t *testing.T) {
	m := randomImage(20, 16, 2)
	a, err := Degrade(m, 2)
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	b, err := Degrade(m, 2)
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatalf("repeat run diverged at %d", i)
		}
	}
}

func TestDegradeConstantImageUnchanged(t *testing.T) {
	m := raster.New(12, 12, raster.RGB)
	for i := range m.Pix {
		m.Pix[i] = 137
	}
	out, err := Degrade(m, 3)
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	for i := range out.Pix {
		if out.Pix[i] != 137 {
			t.Fatalf("constant image must be unchanged, pixel %d = %d", i, out.Pix[i])
		}
	}
}

func TestDegradeActuallyBlurs(t *testing.T) {
	// Checkerboard loses contrast under down/up resampling.
	m := raster.New(16, 16, raster.RGB)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if (x+y)%2 == 0 {
				for c := 0; c < 3; c++ {
					m.Pix[(y*m.W+x)*3+c] = 255
				}
			}
		}
	}
	out, err := Degrade(m, 2)
	if err != nil {
		t.Fatalf("degrade: %v", err)
	}
	same := true
	for i := range m.Pix {
		if out.Pix[i] != m.Pix[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("degradation must alter a high-frequency image")
	}
}

func TestDegradeErrors(t *testing.T) {
	m := randomImage(4, 4, 3)
	if _, err := Degrade(m, 0); err == nil {
		t.Fatalf("factor 0 must error")
	}
	if _, err := Degrade(m, 5); err == nil {
		t.Fatalf("factor larger than dimensions must error")
	}
}

func TestResizeBilinearIdentity(t *testing.T) {
	m := randomImage(9, 7, 4)
	out := ResizeBilinear(m, m.W, m.H)
	for i := range m.Pix {
		if out.Pix[i] != m.Pix[i] {
			t.Fatalf("identity resize altered pixel %d", i)
		}
	}
}

func TestResizeBilinearDims(t *testing.T) {
	m := randomImage(10, 8, 5)
	out := ResizeBilinear(m, 5, 4)
	if out.W != 5 || out.H != 4 {
		t.Fatalf("got %dx%d, want 5x4", out.W, out.H)
	}
}
