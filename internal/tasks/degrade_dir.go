package tasks

import (
	"fmt"
	"path/filepath"

	"upres/internal/degrade"
	"upres/internal/fsutil"
	"upres/internal/imgio"
)

// DegradeRequest asks for a degraded test set built from a reference
// directory.
type DegradeRequest struct {
	InputDir  string
	OutputDir string
	Factor    int
}

// DegradeResult reports what was produced. Failed holds per-file errors;
// those files are skipped, the rest of the batch proceeds.
type DegradeResult struct {
	Outputs []string
	Failed  map[string]error
}

// DegradeDirectory applies the two-step resampling degradation to every
// image under InputDir, writing results with matching filenames so the
// evaluation stage can pair them back up by key.
func DegradeDirectory(req DegradeRequest) (DegradeResult, error) {
	res := DegradeResult{Failed: make(map[string]error)}

	files, err := fsutil.ListImages(req.InputDir)
	if err != nil {
		return res, fmt.Errorf("degrade: %w", err)
	}
	if len(files) == 0 {
		return res, fmt.Errorf("degrade: no images under %s", req.InputDir)
	}

	for _, path := range files {
		key := filepath.Base(path)
		img, err := imgio.Read(path)
		if err != nil {
			res.Failed[key] = err
			continue
		}
		low, err := degrade.Degrade(img, req.Factor)
		if err != nil {
			res.Failed[key] = err
			continue
		}
		out := filepath.Join(req.OutputDir, key)
		if err := imgio.Write(out, low); err != nil {
			res.Failed[key] = err
			continue
		}
		res.Outputs = append(res.Outputs, out)
	}
	return res, nil
}
