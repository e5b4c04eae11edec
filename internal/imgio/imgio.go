package imgio

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"upres/internal/raster"
)

// stdlib codecs; anything else goes through the ImageMagick fallback.
var nativeExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// Read decodes the image at path into an RGB raster. PNG and JPEG decode
// natively; other formats fall back to ImageMagick.
func Read(path string) (*raster.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := nativeExts[ext]; !ok {
		return readMagick(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// Write encodes an image to path, choosing the codec by extension. YCbCr
// rasters are converted to RGB first; BGR is reordered.
func Write(path string, m *raster.Image) error {
	rgb, err := raster.Convert(m, raster.RGB)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(f, ToImage(rgb), &jpeg.Options{Quality: 95})
	case ".png", "":
		return png.Encode(f, ToImage(rgb))
	default:
		return errors.New("unsupported output format: " + filepath.Ext(path))
	}
}

// FromImage flattens a decoded image into an interleaved RGB raster.
func FromImage(img image.Image) *raster.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := raster.New(w, h, raster.RGB)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(b >> 8)
			i += 3
		}
	}
	return out
}

// ToImage converts an RGB raster back into a stdlib image for encoding.
func ToImage(m *raster.Image) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.W, m.H))
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			src := (y*m.W + x) * 3
			dst := y*img.Stride + x*4
			img.Pix[dst] = m.Pix[src]
			img.Pix[dst+1] = m.Pix[src+1]
			img.Pix[dst+2] = m.Pix[src+2]
			img.Pix[dst+3] = 0xFF
		}
	}
	return img
}
