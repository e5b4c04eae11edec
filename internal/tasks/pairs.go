package tasks

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	_ "image/jpeg"
	_ "image/png"

	"upres/internal/fsutil"
)

// Pair correlates a degraded image with its reference by shared filename key.
type Pair struct {
	Key           string
	DegradedPath  string
	ReferencePath string
}

// PairSet is the result of scanning a degraded/reference directory pair.
type PairSet struct {
	Pairs []Pair
	// Keys present on only one side.
	MissingReference []string
	MissingDegraded  []string
	// Keys whose image headers report different dimensions. Such pairs would
	// fail evaluation, so the scan flags them up front. Pairs whose headers
	// cannot be decoded cheaply are not checked.
	ShapeMismatch []string
}

// ScanPairs lists images on both sides and matches them by base filename.
// Matched pairs come back sorted by key for reproducible batch order.
func ScanPairs(degradedDir, referenceDir string) (PairSet, error) {
	var set PairSet

	degraded, err := fsutil.ListImages(degradedDir)
	if err != nil {
		return set, fmt.Errorf("scan degraded dir: %w", err)
	}
	reference, err := fsutil.ListImages(referenceDir)
	if err != nil {
		return set, fmt.Errorf("scan reference dir: %w", err)
	}

	refByKey := make(map[string]string, len(reference))
	for _, p := range reference {
		refByKey[filepath.Base(p)] = p
	}

	seen := make(map[string]bool, len(degraded))
	for _, p := range degraded {
		key := filepath.Base(p)
		seen[key] = true
		refPath, ok := refByKey[key]
		if !ok {
			set.MissingReference = append(set.MissingReference, key)
			continue
		}
		pair := Pair{Key: key, DegradedPath: p, ReferencePath: refPath}
		set.Pairs = append(set.Pairs, pair)
		if dw, dh, ok := headerDims(pair.DegradedPath); ok {
			if rw, rh, ok := headerDims(pair.ReferencePath); ok && (dw != rw || dh != rh) {
				set.ShapeMismatch = append(set.ShapeMismatch, key)
			}
		}
	}
	for _, p := range reference {
		if key := filepath.Base(p); !seen[key] {
			set.MissingDegraded = append(set.MissingDegraded, key)
		}
	}

	sort.Slice(set.Pairs, func(i, j int) bool { return set.Pairs[i].Key < set.Pairs[j].Key })
	sort.Strings(set.MissingReference)
	sort.Strings(set.MissingDegraded)
	sort.Strings(set.ShapeMismatch)
	return set, nil
}

// headerDims reads image dimensions from the file header without decoding
// pixel data. Formats outside the stdlib codecs report ok=false.
func headerDims(path string) (w, h int, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
