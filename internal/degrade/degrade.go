// Package degrade produces low-resolution test inputs from reference images.
package degrade

import (
	"fmt"

	"upres/internal/raster"
)

// Degrade downsizes the image to (W/factor, H/factor) with integer truncation
// using bilinear interpolation, then resizes back to the original dimensions
// with the same interpolation. The two-step resampling is the defined
// degradation model: it reintroduces blur at native resolution so the output
// stays pixel-for-pixel comparable to the reference. Deterministic for a
// given (image, factor).
func Degrade(m *raster.Image, factor int) (*raster.Image, error) {
	if factor < 1 {
		return nil, fmt.Errorf("degrade: factor must be >= 1, got %d", factor)
	}
	smallW, smallH := m.W/factor, m.H/factor
	if smallW < 1 || smallH < 1 {
		return nil, fmt.Errorf("degrade: image %dx%d too small for factor %d", m.W, m.H, factor)
	}
	if factor == 1 {
		return m.Clone(), nil
	}
	small := ResizeBilinear(m, smallW, smallH)
	return ResizeBilinear(small, m.W, m.H), nil
}

// ResizeBilinear resamples an image to the target size using bilinear
// interpolation with half-pixel center alignment.
func ResizeBilinear(m *raster.Image, dstW, dstH int) *raster.Image {
	out := raster.New(dstW, dstH, m.Space)
	scaleX := float64(m.W) / float64(dstW)
	scaleY := float64(m.H) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy := (float64(dy)+0.5)*scaleY - 0.5
		y0, fy := splitCoord(sy, m.H)
		y1 := y0 + 1
		if y1 > m.H-1 {
			y1 = m.H - 1
		}
		for dx := 0; dx < dstW; dx++ {
			sx := (float64(dx)+0.5)*scaleX - 0.5
			x0, fx := splitCoord(sx, m.W)
			x1 := x0 + 1
			if x1 > m.W-1 {
				x1 = m.W - 1
			}

			p00 := (y0*m.W + x0) * 3
			p01 := (y0*m.W + x1) * 3
			p10 := (y1*m.W + x0) * 3
			p11 := (y1*m.W + x1) * 3
			dst := (dy*dstW + dx) * 3

			for c := 0; c < 3; c++ {
				top := float64(m.Pix[p00+c])*(1-fx) + float64(m.Pix[p01+c])*fx
				bot := float64(m.Pix[p10+c])*(1-fx) + float64(m.Pix[p11+c])*fx
				out.Pix[dst+c] = raster.ClampU8(top*(1-fy) + bot*fy)
			}
		}
	}
	return out
}

// splitCoord decomposes a source coordinate into its integer cell and
// fractional weight, clamping at the image edge.
func splitCoord(s float64, size int) (int, float64) {
	if s < 0 {
		return 0, 0
	}
	i := int(s)
	if i > size-1 {
		return size - 1, 0
	}
	return i, s - float64(i)
}
