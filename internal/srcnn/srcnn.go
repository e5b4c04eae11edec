// Package srcnn implements the fixed three-layer convolutional transform
// applied to the luminance channel, together with its weight codec. The
// topology is frozen; weights are injected externally and never modified.
package srcnn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LayerSpec describes one convolution layer of the fixed topology.
type LayerSpec struct {
	KH, KW  int // kernel size
	In, Out int // channel counts
	SamePad bool
	ReLU    bool
}

// Architecture is the frozen layer stack. The two valid-padding layers shrink
// each spatial dimension by 8 and 4 respectively, so an H x W input maps to
// (H-12) x (W-12) and the pipeline shaves a Border-pixel frame from the
// companion images before comparison.
var Architecture = [3]LayerSpec{
	{KH: 9, KW: 9, In: 1, Out: 128, SamePad: false, ReLU: true},
	{KH: 3, KW: 3, In: 128, Out: 64, SamePad: true, ReLU: true},
	{KH: 5, KW: 5, In: 64, Out: 1, SamePad: false, ReLU: false},
}

// Border is the per-edge spatial shrinkage of the full stack.
const Border = 6

// minInput is the smallest plane the stack can map to a non-empty output.
const minInput = 2*Border + 1

// ErrWeightShape indicates loaded weights do not match the architecture.
// This is fatal for the whole session: no image can be processed without a
// valid weight set.
var ErrWeightShape = errors.New("weight shape mismatch")

// Plane is a single-channel floating-point image. The transform consumes
// planes normalized to [0,1] and produces planes in roughly the same range;
// denormalization and clipping are the caller's responsibility.
type Plane struct {
	W, H int
	Pix  []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(w, h int) *Plane {
	return &Plane{W: w, H: h, Pix: make([]float64, w*h)}
}

// Transform is the abstract capability the inference pipeline binds to.
// Implementations may be the gonum-backed model, a linked kernel, or a test
// stub, without the pipeline changing.
type Transform interface {
	// Apply maps a normalized luminance plane of size H x W to a plane of
	// size (H-2b) x (W-2b) where b = Border().
	Apply(p *Plane) (*Plane, error)
	// Border reports the per-edge spatial shrinkage of Apply.
	Border() int
}

// Layer holds one layer's parameters. Kernel is laid out in
// (kh, kw, in, out) order; Bias has one entry per output channel.
type Layer struct {
	Spec   LayerSpec
	Kernel []float64
	Bias   []float64
}

// Weights is an immutable parameter set for the fixed stack. Loaded once per
// session and shared read-only across workers.
type Weights struct {
	Layers [3]Layer
}

// Validate checks every layer against the architecture contract.
func (w *Weights) Validate() error {
	for i, l := range w.Layers {
		spec := Architecture[i]
		if l.Spec != spec {
			return fmt.Errorf("%w: layer %d is %dx%dx%dx%d, want %dx%dx%dx%d",
				ErrWeightShape, i+1, l.Spec.KH, l.Spec.KW, l.Spec.In, l.Spec.Out,
				spec.KH, spec.KW, spec.In, spec.Out)
		}
		if want := spec.KH * spec.KW * spec.In * spec.Out; len(l.Kernel) != want {
			return fmt.Errorf("%w: layer %d kernel has %d values, want %d",
				ErrWeightShape, i+1, len(l.Kernel), want)
		}
		if len(l.Bias) != spec.Out {
			return fmt.Errorf("%w: layer %d bias has %d values, want %d",
				ErrWeightShape, i+1, len(l.Bias), spec.Out)
		}
	}
	return nil
}

// DeltaWeights returns a parameter set of centered delta kernels with zero
// bias. Under these weights the stack reproduces its input interior, which
// makes them useful for smoke-testing a deployment without real parameters.
func DeltaWeights() *Weights {
	w := &Weights{}
	for i, spec := range Architecture {
		layer := Layer{
			Spec:   spec,
			Kernel: make([]float64, spec.KH*spec.KW*spec.In*spec.Out),
			Bias:   make([]float64, spec.Out),
		}
		// Signal rides on channel 0 only; kernel layout is (kh, kw, in, out).
		center := (spec.KH/2*spec.KW + spec.KW/2) * spec.In * spec.Out
		layer.Kernel[center] = 1
		w.Layers[i] = layer
	}
	return w
}

// Model applies the fixed stack with a validated weight set.
type Model struct {
	weights *Weights
}

// NewModel validates the weights against the architecture and binds them.
func NewModel(w *Weights) (*Model, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Model{weights: w}, nil
}

// Border implements Transform.
func (m *Model) Border() int { return Border }

// Apply runs the three convolutions. The input plane must be at least
// (2*Border+1) pixels in each dimension.
func (m *Model) Apply(p *Plane) (*Plane, error) {
	if p.W < minInput || p.H < minInput {
		return nil, fmt.Errorf("srcnn: plane %dx%d smaller than minimum %dx%d",
			p.W, p.H, minInput, minInput)
	}
	if len(p.Pix) != p.W*p.H {
		return nil, fmt.Errorf("srcnn: plane buffer has %d values for %dx%d", len(p.Pix), p.W, p.H)
	}

	feat := p.Pix
	w, h, ch := p.W, p.H, 1
	for _, layer := range m.weights.Layers {
		feat, w, h, ch = convolve(feat, w, h, ch, &layer)
	}
	if ch != 1 {
		return nil, fmt.Errorf("srcnn: final layer produced %d channels", ch)
	}
	return &Plane{W: w, H: h, Pix: feat}, nil
}

// convolve applies one layer to a (h, w, ch) feature volume stored row-major
// with interleaved channels. It lowers the convolution to an im2col patch
// matrix multiplied by the kernel matrix.
func convolve(feat []float64, w, h, ch int, layer *Layer) ([]float64, int, int, int) {
	spec := layer.Spec
	pad := 0
	if spec.SamePad {
		pad = spec.KH / 2
	}
	outW := w - spec.KW + 1 + 2*pad
	outH := h - spec.KH + 1 + 2*pad

	cols := spec.KH * spec.KW * ch
	patches := mat.NewDense(outW*outH, cols, nil)
	row := make([]float64, cols)
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			i := 0
			for r := 0; r < spec.KH; r++ {
				sy := oy + r - pad
				for c := 0; c < spec.KW; c++ {
					sx := ox + c - pad
					if sy < 0 || sy >= h || sx < 0 || sx >= w {
						for k := 0; k < ch; k++ {
							row[i] = 0
							i++
						}
						continue
					}
					src := (sy*w + sx) * ch
					copy(row[i:i+ch], feat[src:src+ch])
					i += ch
				}
			}
			patches.SetRow(oy*outW+ox, row)
		}
	}

	kernel := mat.NewDense(cols, spec.Out, layer.Kernel)
	var out mat.Dense
	out.Mul(patches, kernel)

	result := out.RawMatrix().Data
	for i := 0; i < outW*outH; i++ {
		base := i * spec.Out
		for co := 0; co < spec.Out; co++ {
			v := result[base+co] + layer.Bias[co]
			if spec.ReLU && v < 0 {
				v = 0
			}
			result[base+co] = v
		}
	}
	return result, outW, outH, spec.Out
}
