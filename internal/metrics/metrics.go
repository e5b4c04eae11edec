// Package metrics computes image fidelity scores between a target image and
// its reference. All operations require identically shaped inputs.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"upres/internal/raster"
)

// DefaultSSIMWindow is the side length of the sliding window used by SSIM.
const DefaultSSIMWindow = 7

// Regularization constants from the standard SSIM formulation with k1=0.01,
// k2=0.03 over an 8-bit dynamic range.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// ScoreTriple packages the three fidelity scores for one (target, reference)
// comparison. PSNR is +Inf for pixel-identical images; callers aggregating
// scores must special-case that value rather than treat it as an error.
type ScoreTriple struct {
	PSNR float64
	MSE  float64
	SSIM float64
}

// Compare computes PSNR, MSE and SSIM, in that order, for target against
// reference. It is the composite entry point used throughout the pipeline.
func Compare(target, reference *raster.Image) (ScoreTriple, error) {
	return CompareWindowed(target, reference, DefaultSSIMWindow)
}

// CompareWindowed is Compare with an explicit SSIM window side length.
func CompareWindowed(target, reference *raster.Image, win int) (ScoreTriple, error) {
	if err := target.CheckShape(reference); err != nil {
		return ScoreTriple{}, err
	}
	psnr, err := PSNR(target, reference)
	if err != nil {
		return ScoreTriple{}, err
	}
	mse, err := MSE(target, reference)
	if err != nil {
		return ScoreTriple{}, err
	}
	ssim, err := SSIMWindowed(target, reference, win)
	if err != nil {
		return ScoreTriple{}, err
	}
	return ScoreTriple{PSNR: psnr, MSE: mse, SSIM: ssim}, nil
}

// PSNR returns 20*log10(255/rmse) where rmse is the root-mean-square error
// over all samples in row-major order. Identical images yield +Inf, a defined
// boundary value.
func PSNR(target, reference *raster.Image) (float64, error) {
	if err := target.CheckShape(reference); err != nil {
		return 0, err
	}
	var sse float64
	for i := range target.Pix {
		d := float64(target.Pix[i]) - float64(reference.Pix[i])
		sse += d * d
	}
	if sse == 0 {
		return math.Inf(1), nil
	}
	rmse := math.Sqrt(sse / float64(len(target.Pix)))
	return 20 * math.Log10(255/rmse), nil
}

// MSE returns the sum of squared per-sample differences divided by
// height*width. The divisor deliberately excludes the channel count; this
// normalization is preserved for numeric compatibility with the reference
// scoring convention.
func MSE(target, reference *raster.Image) (float64, error) {
	if err := target.CheckShape(reference); err != nil {
		return 0, err
	}
	var sse float64
	for i := range target.Pix {
		d := float64(target.Pix[i]) - float64(reference.Pix[i])
		sse += d * d
	}
	return sse / float64(target.H*target.W), nil
}

// SSIM computes the structural similarity index with the default window.
func SSIM(target, reference *raster.Image) (float64, error) {
	return SSIMWindowed(target, reference, DefaultSSIMWindow)
}

// SSIMWindowed computes SSIM per channel with a uniform win x win sliding
// window over all fully interior positions, averages the per-window values
// into a channel score, and averages the channel scores. Covariances use the
// unbiased (n-1) normalization of the standard formulation.
func SSIMWindowed(target, reference *raster.Image, win int) (float64, error) {
	if err := target.CheckShape(reference); err != nil {
		return 0, err
	}
	if win < 2 || win%2 == 0 {
		return 0, fmt.Errorf("ssim: window must be odd and >= 3, got %d", win)
	}
	if target.W < win || target.H < win {
		return 0, fmt.Errorf("ssim: image %dx%d smaller than %d window", target.W, target.H, win)
	}

	var sum float64
	for c := 0; c < 3; c++ {
		sum += ssimPlane(target.Plane(c), reference.Plane(c), target.W, target.H, win)
	}
	return sum / 3, nil
}

// SSIMPlane computes SSIM for a single channel plane in [0,255].
func SSIMPlane(x, y []float64, w, h int) (float64, error) {
	if len(x) != len(y) || len(x) != w*h {
		return 0, fmt.Errorf("%w: plane lengths %d vs %d for %dx%d",
			raster.ErrShapeMismatch, len(x), len(y), w, h)
	}
	if w < DefaultSSIMWindow || h < DefaultSSIMWindow {
		return 0, fmt.Errorf("ssim: plane %dx%d smaller than %d window", w, h, DefaultSSIMWindow)
	}
	return ssimPlane(x, y, w, h, DefaultSSIMWindow), nil
}

func ssimPlane(x, y []float64, w, h, win int) float64 {
	n := float64(win * win)
	norm := 1 / (n - 1) // unbiased covariance

	wx := make([]float64, win*win)
	wy := make([]float64, win*win)

	var total float64
	var count int
	for oy := 0; oy+win <= h; oy++ {
		for ox := 0; ox+win <= w; ox++ {
			for r := 0; r < win; r++ {
				src := (oy+r)*w + ox
				copy(wx[r*win:(r+1)*win], x[src:src+win])
				copy(wy[r*win:(r+1)*win], y[src:src+win])
			}
			ux := floats.Sum(wx) / n
			uy := floats.Sum(wy) / n

			var vx, vy, cov float64
			for i := range wx {
				dx := wx[i] - ux
				dy := wy[i] - uy
				vx += dx * dx
				vy += dy * dy
				cov += dx * dy
			}
			vx *= norm
			vy *= norm
			cov *= norm

			num := (2*ux*uy + ssimC1) * (2*cov + ssimC2)
			den := (ux*ux + uy*uy + ssimC1) * (vx + vy + ssimC2)
			total += num / den
			count++
		}
	}
	return total / float64(count)
}
