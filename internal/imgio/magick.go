//go:build cgo

package imgio

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"upres/internal/raster"
)

var magickOnce sync.Once

// readMagick decodes formats the stdlib codecs cannot handle (TIFF, BMP, ...)
// through the ImageMagick bindings.
func readMagick(path string) (*raster.Image, error) {
	magickOnce.Do(imagick.Initialize)

	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImage(path); err != nil {
		return nil, fmt.Errorf("imagemagick read %s: %w", path, err)
	}

	w := wand.GetImageWidth()
	h := wand.GetImageHeight()
	raw, err := wand.ExportImagePixels(0, 0, w, h, "RGB", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("imagemagick export %s: %w", path, err)
	}
	pix, ok := raw.([]byte)
	if !ok || len(pix) != int(w*h*3) {
		return nil, fmt.Errorf("imagemagick export %s: unexpected pixel buffer", path)
	}

	out := raster.New(int(w), int(h), raster.RGB)
	copy(out.Pix, pix)
	return out, nil
}
