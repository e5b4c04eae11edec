package srcnn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Weight file layout, little-endian:
//
//	magic "SRW1"
//	uint32 layer count (must be 3)
//	per layer: int32 kh, kw, in, out
//	           float32 kernel[kh*kw*in*out] in (kh, kw, in, out) order
//	           float32 bias[out]
var weightMagic = [4]byte{'S', 'R', 'W', '1'}

// LoadWeights reads a weight set from path and validates it against the
// architecture. A shape mismatch wraps ErrWeightShape and aborts the session;
// a missing file surfaces the underlying os error.
func LoadWeights(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	defer f.Close()

	w, err := ReadWeights(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("load weights %s: %w", path, err)
	}
	return w, nil
}

// ReadWeights decodes a weight set from r and validates it.
func ReadWeights(r io.Reader) (*Weights, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != weightMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrWeightShape, magic[:])
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read layer count: %w", err)
	}
	if count != uint32(len(Architecture)) {
		return nil, fmt.Errorf("%w: %d layers, want %d", ErrWeightShape, count, len(Architecture))
	}

	var out Weights
	for i := range out.Layers {
		var dims [4]int32
		if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
			return nil, fmt.Errorf("read layer %d header: %w", i+1, err)
		}
		spec := LayerSpec{
			KH: int(dims[0]), KW: int(dims[1]), In: int(dims[2]), Out: int(dims[3]),
			SamePad: Architecture[i].SamePad, ReLU: Architecture[i].ReLU,
		}
		if spec != Architecture[i] {
			return nil, fmt.Errorf("%w: layer %d is %dx%dx%dx%d, want %dx%dx%dx%d",
				ErrWeightShape, i+1, dims[0], dims[1], dims[2], dims[3],
				Architecture[i].KH, Architecture[i].KW, Architecture[i].In, Architecture[i].Out)
		}

		kernel := make([]float32, spec.KH*spec.KW*spec.In*spec.Out)
		if err := binary.Read(r, binary.LittleEndian, kernel); err != nil {
			return nil, fmt.Errorf("read layer %d kernel: %w", i+1, err)
		}
		bias := make([]float32, spec.Out)
		if err := binary.Read(r, binary.LittleEndian, bias); err != nil {
			return nil, fmt.Errorf("read layer %d bias: %w", i+1, err)
		}

		out.Layers[i] = Layer{
			Spec:   spec,
			Kernel: widen(kernel),
			Bias:   widen(bias),
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveWeights writes a weight set to path in the binary format.
func SaveWeights(path string, w *Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save weights: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := WriteWeights(bw, w); err != nil {
		return fmt.Errorf("save weights %s: %w", path, err)
	}
	return bw.Flush()
}

// WriteWeights encodes a weight set to wr.
func WriteWeights(wr io.Writer, w *Weights) error {
	if _, err := wr.Write(weightMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(wr, binary.LittleEndian, uint32(len(w.Layers))); err != nil {
		return err
	}
	for _, l := range w.Layers {
		dims := [4]int32{int32(l.Spec.KH), int32(l.Spec.KW), int32(l.Spec.In), int32(l.Spec.Out)}
		if err := binary.Write(wr, binary.LittleEndian, dims); err != nil {
			return err
		}
		if err := binary.Write(wr, binary.LittleEndian, narrow(l.Kernel)); err != nil {
			return err
		}
		if err := binary.Write(wr, binary.LittleEndian, narrow(l.Bias)); err != nil {
			return err
		}
	}
	return nil
}

func widen(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
