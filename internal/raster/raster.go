package raster

import (
	"errors"
	"fmt"
)

// Space identifies the color space and channel order of an Image's samples.
// Conversions depend on it, so it is tracked explicitly on every image.
type Space int

const (
	RGB Space = iota
	BGR
	YCbCr
)

func (s Space) String() string {
	switch s {
	case RGB:
		return "rgb"
	case BGR:
		return "bgr"
	case YCbCr:
		return "ycbcr"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// ErrShapeMismatch indicates two images that are expected to share dimensions
// do not. Processing on such a pair is a precondition violation.
var ErrShapeMismatch = errors.New("image shape mismatch")

// Image is a 3-channel 8-bit raster with interleaved samples in row-major
// order. Pix has length W*H*3. No alpha channel exists.
type Image struct {
	W, H  int
	Space Space
	Pix   []uint8
}

// New allocates a zeroed image of the given size in the given space.
func New(w, h int, space Space) *Image {
	return &Image{W: w, H: h, Space: space, Pix: make([]uint8, w*h*3)}
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{W: m.W, H: m.H, Space: m.Space, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// SameShape reports whether two images have identical dimensions.
func (m *Image) SameShape(o *Image) bool {
	return m.W == o.W && m.H == o.H
}

// CheckShape returns ErrShapeMismatch (with dimensions) unless m and o share
// the same width and height.
func (m *Image) CheckShape(o *Image) error {
	if !m.SameShape(o) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, m.W, m.H, o.W, o.H)
	}
	return nil
}

// Plane extracts channel c as a float64 plane in [0,255].
func (m *Image) Plane(c int) []float64 {
	out := make([]float64, m.W*m.H)
	for i := range out {
		out[i] = float64(m.Pix[i*3+c])
	}
	return out
}

// SetPlane overwrites channel c from a float64 plane. Values are rounded and
// clipped to [0,255] before the 8-bit store.
func (m *Image) SetPlane(c int, plane []float64) {
	for i, v := range plane {
		m.Pix[i*3+c] = ClampU8(v)
	}
}

// ClampU8 rounds v to the nearest integer and clips it to [0,255].
func ClampU8(v float64) uint8 {
	v += 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// ModCrop truncates height and width down to the nearest multiple of scale.
// Rows are cropped from the bottom edge; when the width needs cropping, the
// kept columns start at offset 1. The asymmetric column origin is part of the
// contract required for pixel-exact parity with pre-existing weight sets.
func ModCrop(m *Image, scale int) (*Image, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("modcrop: scale must be positive, got %d", scale)
	}
	if m.H < scale || m.W < scale {
		return nil, fmt.Errorf("modcrop: image %dx%d smaller than scale %d", m.W, m.H, scale)
	}
	newH := m.H - m.H%scale
	newW := m.W - m.W%scale
	x0 := 0
	if newW < m.W {
		x0 = 1
	}
	return crop(m, x0, 0, newW, newH), nil
}

// Shave removes border pixels from each of the four edges.
// The caller must guarantee 2*border < W and 2*border < H.
func Shave(m *Image, border int) (*Image, error) {
	if border < 0 {
		return nil, fmt.Errorf("shave: negative border %d", border)
	}
	if border == 0 {
		return m.Clone(), nil
	}
	if 2*border >= m.W || 2*border >= m.H {
		return nil, fmt.Errorf("shave: border %d too large for %dx%d image", border, m.W, m.H)
	}
	return crop(m, border, border, m.W-2*border, m.H-2*border), nil
}

// ShavePlane removes border pixels from each edge of a single-channel plane.
func ShavePlane(plane []float64, w, h, border int) ([]float64, int, int, error) {
	if border == 0 {
		out := make([]float64, len(plane))
		copy(out, plane)
		return out, w, h, nil
	}
	if border < 0 || 2*border >= w || 2*border >= h {
		return nil, 0, 0, fmt.Errorf("shave: border %d too large for %dx%d plane", border, w, h)
	}
	nw, nh := w-2*border, h-2*border
	out := make([]float64, nw*nh)
	for y := 0; y < nh; y++ {
		src := (y+border)*w + border
		copy(out[y*nw:(y+1)*nw], plane[src:src+nw])
	}
	return out, nw, nh, nil
}

func crop(m *Image, x0, y0, w, h int) *Image {
	out := New(w, h, m.Space)
	for y := 0; y < h; y++ {
		srcOff := ((y0+y)*m.W + x0) * 3
		copy(out.Pix[y*w*3:(y+1)*w*3], m.Pix[srcOff:srcOff+w*3])
	}
	return out
}
