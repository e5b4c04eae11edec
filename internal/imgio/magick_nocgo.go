//go:build !cgo

package imgio

import (
	"fmt"

	"upres/internal/raster"
)

// readMagick requires the ImageMagick cgo bindings, which are unavailable
// when building with CGO_ENABLED=0.
func readMagick(path string) (*raster.Image, error) {
	return nil, fmt.Errorf("imagemagick read %s: built without cgo, ImageMagick formats unsupported", path)
}
