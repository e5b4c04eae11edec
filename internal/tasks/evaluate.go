package tasks

import (
	"fmt"
	"path/filepath"

	"upres/internal/imgio"
	"upres/internal/metrics"
	"upres/internal/raster"
	"upres/internal/srcnn"
)

// DefaultScale is the modulo-crop alignment required by the fixed
// architecture's receptive-field shrinkage and the upstream downscale factor.
const DefaultScale = 3

// EvalRequest names one degraded/reference pair to push through the
// inference pipeline.
type EvalRequest struct {
	DegradedPath  string
	ReferencePath string
	// OutputDir, when set, receives the reconstructed image plus the shaved
	// degraded and reference images used for scoring.
	OutputDir string
	// Scale for the alignment crop; DefaultScale when zero.
	Scale int
	// SSIMWindow overrides the metric window side length when positive.
	SSIMWindow int
}

// EvalResult carries both score triples and the reconstruction for one pair.
type EvalResult struct {
	Key    string
	Before metrics.ScoreTriple // degraded vs reference
	After  metrics.ScoreTriple // reconstruction vs reference
	Output *raster.Image
	// Width and Height of the images actually compared, after crop and shave.
	Width, Height int
	OutputFile    string
}

// EvaluatePair runs one image pair through the full pipeline: alignment crop,
// color conversion, luminance extraction, convolutional transform, luminance
// reinsertion, border shave, and before/after scoring. Each call owns its
// intermediate buffers; the transform is the only shared state and is
// read-only, so pairs may be evaluated concurrently.
//
// A shape mismatch between the pair is a precondition violation fatal for
// this pair alone; in batch workflows the caller isolates it and continues
// with the next item.
func EvaluatePair(req EvalRequest, model srcnn.Transform) (EvalResult, error) {
	key := filepath.Base(req.DegradedPath)
	res := EvalResult{Key: key}

	scale := req.Scale
	if scale == 0 {
		scale = DefaultScale
	}
	window := req.SSIMWindow
	if window <= 0 {
		window = metrics.DefaultSSIMWindow
	}

	degraded, err := imgio.Read(req.DegradedPath)
	if err != nil {
		return res, err
	}
	reference, err := imgio.Read(req.ReferencePath)
	if err != nil {
		return res, err
	}
	if err := degraded.CheckShape(reference); err != nil {
		return res, fmt.Errorf("pair %s: %w", key, err)
	}

	degraded, err = raster.ModCrop(degraded, scale)
	if err != nil {
		return res, fmt.Errorf("pair %s: %w", key, err)
	}
	reference, err = raster.ModCrop(reference, scale)
	if err != nil {
		return res, fmt.Errorf("pair %s: %w", key, err)
	}

	luma, err := raster.Convert(degraded, raster.YCbCr)
	if err != nil {
		return res, err
	}
	plane, err := raster.Luminance(luma)
	if err != nil {
		return res, err
	}

	enhanced, err := model.Apply(&srcnn.Plane{W: luma.W, H: luma.H, Pix: plane})
	if err != nil {
		return res, fmt.Errorf("pair %s: transform: %w", key, err)
	}

	border := model.Border()
	output, err := reinsertLuminance(luma, enhanced, border)
	if err != nil {
		return res, fmt.Errorf("pair %s: %w", key, err)
	}

	degradedShaved, err := raster.Shave(degraded, border)
	if err != nil {
		return res, fmt.Errorf("pair %s: %w", key, err)
	}
	referenceShaved, err := raster.Shave(reference, border)
	if err != nil {
		return res, fmt.Errorf("pair %s: %w", key, err)
	}

	res.Before, err = metrics.CompareWindowed(degradedShaved, referenceShaved, window)
	if err != nil {
		return res, fmt.Errorf("pair %s: before scores: %w", key, err)
	}
	res.After, err = metrics.CompareWindowed(output, referenceShaved, window)
	if err != nil {
		return res, fmt.Errorf("pair %s: after scores: %w", key, err)
	}
	res.Output = output
	res.Width, res.Height = output.W, output.H

	if req.OutputDir != "" {
		res.OutputFile = filepath.Join(req.OutputDir, "output", key)
		if err := imgio.Write(res.OutputFile, output); err != nil {
			return res, fmt.Errorf("pair %s: %w", key, err)
		}
		if err := imgio.Write(filepath.Join(req.OutputDir, "degraded", key), degradedShaved); err != nil {
			return res, fmt.Errorf("pair %s: %w", key, err)
		}
		if err := imgio.Write(filepath.Join(req.OutputDir, "reference", key), referenceShaved); err != nil {
			return res, fmt.Errorf("pair %s: %w", key, err)
		}
	}

	return res, nil
}

// reinsertLuminance shaves the luminance-chroma image to the transform's
// output shape, overwrites its Y plane with the denormalized transform
// output, and converts back to display color space.
func reinsertLuminance(luma *raster.Image, enhanced *srcnn.Plane, border int) (*raster.Image, error) {
	shaved, err := raster.Shave(luma, border)
	if err != nil {
		return nil, err
	}
	if shaved.W != enhanced.W || shaved.H != enhanced.H {
		return nil, fmt.Errorf("%w: transform output %dx%d vs shaved %dx%d",
			raster.ErrShapeMismatch, enhanced.W, enhanced.H, shaved.W, shaved.H)
	}

	denorm := make([]float64, len(enhanced.Pix))
	for i, v := range enhanced.Pix {
		denorm[i] = v * 255
	}
	shaved.SetPlane(0, denorm) // SetPlane clips to [0,255]

	return raster.Convert(shaved, raster.RGB)
}
