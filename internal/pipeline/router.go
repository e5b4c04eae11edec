package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"upres/internal/logging"
	"upres/internal/metrics"
	"upres/internal/srcnn"
	"upres/internal/storage"
	"upres/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log         *slog.Logger
	store       *storage.Store
	model       srcnn.Transform
	weightSetID int64
	evalFn      evalFunc
	degradeFn   degradeFunc
	scanFn      scanFunc
}

type evalFunc func(req tasks.EvalRequest, model srcnn.Transform) (tasks.EvalResult, error)

type degradeFunc func(req tasks.DegradeRequest) (tasks.DegradeResult, error)

type scanFunc func(degradedDir, referenceDir string) (tasks.PairSet, error)

func newRouter(logger *slog.Logger, store *storage.Store, model srcnn.Transform, weightSetID int64) Processor {
	return &router{
		log:         logger,
		store:       store,
		model:       model,
		weightSetID: weightSetID,
		evalFn:      tasks.EvaluatePair,
		degradeFn:   tasks.DegradeDirectory,
		scanFn:      tasks.ScanPairs,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobEvaluate:
		return r.handleEvaluate(ctx, job)
	case JobDegrade:
		return r.handleDegrade(ctx, job)
	case JobScan:
		return r.handleScan(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleEvaluate(ctx context.Context, job Job) Result {
	if r.model == nil {
		return Result{Job: job, Error: fmt.Errorf("no transform weights loaded")}
	}
	reference, _ := job.Options["reference"].(string)
	scale := optInt(job.Options, "scale")
	window := optInt(job.Options, "ssim_window")

	start := time.Now()
	res, err := r.evalFn(tasks.EvalRequest{
		DegradedPath:  job.InputPath,
		ReferencePath: reference,
		OutputDir:     job.Output,
		Scale:         scale,
		SSIMWindow:    window,
	}, r.model)
	if err != nil {
		return Result{Job: job, Error: err, Meta: map[string]any{"key": res.Key}}
	}

	logging.LogPairScores(r.log, res.Key, tripleMeta(res.Before), tripleMeta(res.After))

	if r.store != nil {
		if serr := r.store.RecordScores(storage.ScoreRecord{
			JobID:       job.ID,
			ImageKey:    res.Key,
			WeightSetID: r.weightSetID,
			Width:       res.Width,
			Height:      res.Height,
			Before:      res.Before,
			After:       res.After,
			OutputPath:  res.OutputFile,
			Duration:    time.Since(start),
		}); serr != nil {
			r.log.Warn("score persistence failed", "key", res.Key, "error", serr)
		}
	}

	meta := map[string]any{
		"key":    res.Key,
		"width":  res.Width,
		"height": res.Height,
		"before": tripleMeta(res.Before),
		"after":  tripleMeta(res.After),
	}
	if res.OutputFile != "" {
		meta["output"] = res.OutputFile
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleDegrade(ctx context.Context, job Job) Result {
	factor := optInt(job.Options, "factor")
	if factor == 0 {
		factor = 2
	}

	res, err := r.degradeFn(tasks.DegradeRequest{
		InputDir:  job.InputPath,
		OutputDir: job.Output,
		Factor:    factor,
	})

	failed := make(map[string]string, len(res.Failed))
	for key, ferr := range res.Failed {
		failed[key] = ferr.Error()
	}
	meta := map[string]any{
		"factor":  factor,
		"outputs": len(res.Outputs),
		"failed":  failed,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	reference, _ := job.Options["reference"].(string)

	set, err := r.scanFn(job.InputPath, reference)
	meta := map[string]any{
		"pairs":            len(set.Pairs),
		"missingReference": set.MissingReference,
		"missingDegraded":  set.MissingDegraded,
		"shapeMismatch":    set.ShapeMismatch,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// optInt reads an integer option. Jobs submitted over the HTTP API carry
// JSON-decoded numbers, which arrive as float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// tripleMeta renders a score triple for result metadata. Infinite PSNR is not
// JSON-representable as a number, so it is carried as the string "inf".
func tripleMeta(t metrics.ScoreTriple) map[string]any {
	m := map[string]any{
		"mse":  t.MSE,
		"ssim": t.SSIM,
	}
	if math.IsInf(t.PSNR, 1) {
		m["psnr"] = "inf"
	} else {
		m["psnr"] = t.PSNR
	}
	return m
}
