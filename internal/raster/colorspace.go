package raster

import "fmt"

// Full-range ITU-R BT.601 conversion, matching the 8-bit formulas used by
// common vision libraries:
//
//	Y  = 0.299 R + 0.587 G + 0.114 B
//	Cb = (B - Y) * 0.564 + 128
//	Cr = (R - Y) * 0.713 + 128
//
// and the inverse
//
//	R = Y + 1.403 (Cr - 128)
//	G = Y - 0.344 (Cb - 128) - 0.714 (Cr - 128)
//	B = Y + 1.773 (Cb - 128)

// Convert returns a copy of m converted to the target space. Converting to
// the image's own space is a clone. All six direction pairs between RGB, BGR
// and YCbCr are supported.
func Convert(m *Image, to Space) (*Image, error) {
	if m.Space == to {
		return m.Clone(), nil
	}
	switch {
	case (m.Space == RGB && to == BGR) || (m.Space == BGR && to == RGB):
		return swapFirstThird(m, to), nil
	case m.Space == RGB && to == YCbCr:
		return rgbToYCbCr(m, 0, 2), nil
	case m.Space == BGR && to == YCbCr:
		return rgbToYCbCr(m, 2, 0), nil
	case m.Space == YCbCr && to == RGB:
		return ycbcrToRGB(m, 0, 2), nil
	case m.Space == YCbCr && to == BGR:
		return ycbcrToRGB(m, 2, 0), nil
	default:
		return nil, fmt.Errorf("unsupported conversion %s -> %s", m.Space, to)
	}
}

func swapFirstThird(m *Image, to Space) *Image {
	out := New(m.W, m.H, to)
	for i := 0; i < len(m.Pix); i += 3 {
		out.Pix[i] = m.Pix[i+2]
		out.Pix[i+1] = m.Pix[i+1]
		out.Pix[i+2] = m.Pix[i]
	}
	return out
}

// rIdx and bIdx locate the red and blue samples within each source pixel, so
// the same loop serves RGB and BGR inputs.
func rgbToYCbCr(m *Image, rIdx, bIdx int) *Image {
	out := New(m.W, m.H, YCbCr)
	for i := 0; i < len(m.Pix); i += 3 {
		r := float64(m.Pix[i+rIdx])
		g := float64(m.Pix[i+1])
		b := float64(m.Pix[i+bIdx])
		y := 0.299*r + 0.587*g + 0.114*b
		out.Pix[i] = ClampU8(y)
		out.Pix[i+1] = ClampU8((b-y)*0.564 + 128)
		out.Pix[i+2] = ClampU8((r-y)*0.713 + 128)
	}
	return out
}

func ycbcrToRGB(m *Image, rIdx, bIdx int) *Image {
	space := RGB
	if rIdx == 2 {
		space = BGR
	}
	out := New(m.W, m.H, space)
	for i := 0; i < len(m.Pix); i += 3 {
		y := float64(m.Pix[i])
		cb := float64(m.Pix[i+1]) - 128
		cr := float64(m.Pix[i+2]) - 128
		out.Pix[i+rIdx] = ClampU8(y + 1.403*cr)
		out.Pix[i+1] = ClampU8(y - 0.344*cb - 0.714*cr)
		out.Pix[i+bIdx] = ClampU8(y + 1.773*cb)
	}
	return out
}

// Luminance extracts the Y plane of a YCbCr image normalized to [0,1].
// It is the single channel fed to the convolutional transform.
func Luminance(m *Image) ([]float64, error) {
	if m.Space != YCbCr {
		return nil, fmt.Errorf("luminance: image is %s, want ycbcr", m.Space)
	}
	out := make([]float64, m.W*m.H)
	for i := range out {
		out[i] = float64(m.Pix[i*3]) / 255.0
	}
	return out, nil
}
