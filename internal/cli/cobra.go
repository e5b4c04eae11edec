package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"upres/internal/config"
	"upres/internal/pipeline"
	"upres/internal/server"
	"upres/internal/srcnn"
	"upres/internal/storage"
	"upres/internal/tasks"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, model srcnn.Transform) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store, model)

	rootCmd := &cobra.Command{
		Use:   "upres",
		Short: "upres evaluates single-image super-resolution quality",
		Long: `upres runs degraded images through a fixed convolutional luminance
transform and scores the reconstruction against reference images with
PSNR, MSE, and SSIM.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newEvaluateCmd(root))
	rootCmd.AddCommand(newDegradeCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newWeightsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newEvaluateCmd(root *Root) *cobra.Command {
	var (
		output string
		scale  int
	)

	cmd := &cobra.Command{
		Use:   "evaluate <degraded> <reference>",
		Short: "Score one degraded/reference image pair",
		Long: `Run a single degraded image through the transform and report before
and after scores against its reference. With --output the reconstruction and
the cropped comparison images are written alongside the scores.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if scale == 0 {
				scale = root.cfg.Processing.Scale
			}
			job := pipeline.Job{
				ID:        newID("ev"),
				Type:      pipeline.JobEvaluate,
				InputPath: args[0],
				Output:    output,
				Options: map[string]any{
					"reference":   args[1],
					"scale":       scale,
					"ssim_window": root.cfg.Metrics.SSIMWindow,
					"source":      "cli",
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printScores(cmd, res.Meta)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for reconstruction and comparison images")
	cmd.Flags().IntVar(&scale, "scale", 0, "alignment crop factor (config default when 0)")

	return cmd
}

func newDegradeCmd(root *Root) *cobra.Command {
	var factor int

	cmd := &cobra.Command{
		Use:   "degrade <reference_dir> <output_dir>",
		Short: "Produce a degraded image set from references",
		Long: `Downscale each reference by an integer factor with bilinear
interpolation, then upscale back to the original size, writing results with
matching filenames.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if factor == 0 {
				factor = root.cfg.Processing.DegradeFactor
			}
			job := pipeline.Job{
				ID:        newID("dg"),
				Type:      pipeline.JobDegrade,
				InputPath: args[0],
				Output:    args[1],
				Options: map[string]any{
					"factor": factor,
					"source": "cli",
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			cmd.Printf("degraded %v image(s) into %s\n", res.Meta["outputs"], args[1])
			if failed, ok := res.Meta["failed"].(map[string]string); ok && len(failed) > 0 {
				for key, msg := range failed {
					cmd.Printf("  failed %s: %s\n", key, msg)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&factor, "factor", 0, "downscale factor (config default when 0)")

	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		degradedDir  string
		referenceDir string
		output       string
		scale        int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate every matched pair across two directories",
		Long: `Correlate degraded and reference images by filename and run every
matched pair through the pipeline in parallel. A failing pair is reported and
skipped; the run continues with the remaining pairs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if degradedDir == "" {
				degradedDir = root.cfg.Paths.DegradedDir
			}
			if referenceDir == "" {
				referenceDir = root.cfg.Paths.ReferenceDir
			}
			if degradedDir == "" || referenceDir == "" {
				return fmt.Errorf("degraded and reference directories are required (flags or config)")
			}
			return root.runBatch(cmd, degradedDir, referenceDir, output, scale)
		},
	}

	cmd.Flags().StringVar(&degradedDir, "degraded", "", "degraded image directory (config default when empty)")
	cmd.Flags().StringVar(&referenceDir, "reference", "", "reference image directory (config default when empty)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for reconstructions")
	cmd.Flags().IntVar(&scale, "scale", 0, "alignment crop factor (config default when 0)")

	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var (
		degradedDir  string
		referenceDir string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report pair coverage across the degraded and reference directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if degradedDir == "" {
				degradedDir = root.cfg.Paths.DegradedDir
			}
			if referenceDir == "" {
				referenceDir = root.cfg.Paths.ReferenceDir
			}
			job := pipeline.Job{
				ID:        newID("sc"),
				Type:      pipeline.JobScan,
				InputPath: degradedDir,
				Options: map[string]any{
					"reference": referenceDir,
					"source":    "cli",
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			cmd.Printf("matched pairs:      %v\n", res.Meta["pairs"])
			if missing, ok := res.Meta["missingReference"].([]string); ok && len(missing) > 0 {
				cmd.Printf("missing reference:  %d %v\n", len(missing), missing)
			}
			if missing, ok := res.Meta["missingDegraded"].([]string); ok && len(missing) > 0 {
				cmd.Printf("missing degraded:   %d %v\n", len(missing), missing)
			}
			if bad, ok := res.Meta["shapeMismatch"].([]string); ok && len(bad) > 0 {
				cmd.Printf("shape mismatch:     %d %v\n", len(bad), bad)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&degradedDir, "degraded", "", "degraded image directory (config default when empty)")
	cmd.Flags().StringVar(&referenceDir, "reference", "", "reference image directory (config default when empty)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and result stream",
		Long: `Serve job submission and score queries over HTTP, with live results
available as server-sent events on /stream and over websocket on /ws.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			realPipeline, ok := root.pipeline.(*pipeline.Pipeline)
			if !ok {
				return fmt.Errorf("pipeline unavailable for server startup")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(addr, root.store, realPipeline, root.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (config default when empty)")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		referenceDir string
		output       string
		debounce     int
	)

	cmd := &cobra.Command{
		Use:   "watch [degraded_dir...]",
		Short: "Evaluate new degraded images as they arrive",
		Long: `Watch one or more directories and submit an evaluate job for each
image once it has settled. The reference is looked up by filename in the
reference directory. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = root.cfg.Watch.Paths
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no directories to watch (arguments or config)")
			}
			if referenceDir == "" {
				referenceDir = root.cfg.Paths.ReferenceDir
			}
			if referenceDir == "" {
				return fmt.Errorf("reference directory is required (flag or config)")
			}
			if debounce == 0 {
				debounce = root.cfg.Watch.DebounceSeconds
			}
			return root.runWatch(cmd.Context(), dirs, referenceDir, output, debounce)
		},
	}

	cmd.Flags().StringVar(&referenceDir, "reference", "", "reference image directory (config default when empty)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory for reconstructions")
	cmd.Flags().IntVar(&debounce, "debounce", 0, "settle time in seconds before submitting (config default when 0)")

	return cmd
}

func newWeightsCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect or generate transform weight files",
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Validate a weight file and print its layer shapes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := srcnn.LoadWeights(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sum := sha256.Sum256(data)
			cmd.Printf("file:   %s\n", args[0])
			cmd.Printf("sha256: %s\n", hex.EncodeToString(sum[:]))
			for i, l := range w.Layers {
				activation := "linear"
				if l.Spec.ReLU {
					activation = "relu"
				}
				padding := "valid"
				if l.Spec.SamePad {
					padding = "same"
				}
				cmd.Printf("layer %d: %dx%dx%d -> %d (%s, %s padding)\n",
					i+1, l.Spec.KH, l.Spec.KW, l.Spec.In, l.Spec.Out, activation, padding)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write a passthrough weight file of centered delta kernels",
		Long: `Generate a weight file whose kernels reproduce the input interior.
Useful for verifying a deployment end to end before real parameters exist:
under these weights the after scores must equal the before scores.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := srcnn.SaveWeights(args[0], srcnn.DeltaWeights()); err != nil {
				return err
			}
			cmd.Printf("wrote passthrough weights to %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(inspectCmd, initCmd)
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv(config.EnvConfig)
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/upres/config.json"
			}
			cmd.Printf("Config file:      %s\n", cfgPath)
			cmd.Printf("Parallel jobs:    %d\n", root.cfg.Processing.ParallelJobs)
			cmd.Printf("Scale factor:     %d\n", root.cfg.Processing.Scale)
			cmd.Printf("Degrade factor:   %d\n", root.cfg.Processing.DegradeFactor)
			cmd.Printf("SSIM window:      %d\n", root.cfg.Metrics.SSIMWindow)
			cmd.Printf("Reference dir:    %s\n", root.cfg.Paths.ReferenceDir)
			cmd.Printf("Degraded dir:     %s\n", root.cfg.Paths.DegradedDir)
			cmd.Printf("Output dir:       %s\n", root.cfg.Paths.OutputDir)
			cmd.Printf("Weights file:     %s\n", root.cfg.Paths.WeightsFile)
			cmd.Printf("Database path:    %s\n", root.cfg.Paths.DatabasePath)
			cmd.Printf("Server address:   %s\n", root.cfg.Server.Addr)
			cmd.Printf("Log level:        %s\n", root.cfg.Logging.Level)
			cmd.Printf("Log format:       %s\n", root.cfg.Logging.Format)
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("upres v1.0.0")
		},
	}
}

// runBatch scans for pairs and pushes each through the pipeline, draining
// results concurrently so the bounded queue never deadlocks.
func (r *Root) runBatch(cmd *cobra.Command, degradedDir, referenceDir, output string, scale int) error {
	ctx := cmd.Context()
	if scale == 0 {
		scale = r.cfg.Processing.Scale
	}

	set, err := tasks.ScanPairs(degradedDir, referenceDir)
	if err != nil {
		return err
	}
	for _, key := range set.MissingReference {
		r.log.Warn("no reference for degraded image, skipping", "key", key)
	}
	for _, key := range set.MissingDegraded {
		r.log.Warn("no degraded image for reference, skipping", "key", key)
	}
	for _, key := range set.ShapeMismatch {
		r.log.Warn("pair dimensions differ, evaluation will fail", "key", key)
	}
	if len(set.Pairs) == 0 {
		return fmt.Errorf("no matched pairs between %s and %s", degradedDir, referenceDir)
	}

	jobs := make([]pipeline.Job, 0, len(set.Pairs))
	pending := make(map[string]bool, len(set.Pairs))
	for _, pair := range set.Pairs {
		job := pipeline.Job{
			ID:        newID("ev"),
			Type:      pipeline.JobEvaluate,
			InputPath: pair.DegradedPath,
			Output:    output,
			Options: map[string]any{
				"reference":   pair.ReferencePath,
				"scale":       scale,
				"ssim_window": r.cfg.Metrics.SSIMWindow,
				"source":      "batch",
			},
		}
		jobs = append(jobs, job)
		pending[job.ID] = true
	}

	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()

	type tally struct {
		ok, failed            int
		beforePSNR, afterPSNR float64
		beforeSSIM, afterSSIM float64
		finitePSNR            int
	}
	done := make(chan tally, 1)
	go func() {
		var t tally
		remaining := len(pending)
		for remaining > 0 {
			select {
			case <-ctx.Done():
				done <- t
				return
			case res, open := <-resCh:
				if !open {
					done <- t
					return
				}
				if !pending[res.Job.ID] {
					continue
				}
				remaining--
				if res.Error != nil {
					t.failed++
					continue
				}
				t.ok++
				before, _ := res.Meta["before"].(map[string]any)
				after, _ := res.Meta["after"].(map[string]any)
				bp, bok := metaFloat(before, "psnr")
				ap, aok := metaFloat(after, "psnr")
				if bok && aok && !math.IsInf(bp, 1) && !math.IsInf(ap, 1) {
					t.beforePSNR += bp
					t.afterPSNR += ap
					t.finitePSNR++
				}
				if v, ok := metaFloat(before, "ssim"); ok {
					t.beforeSSIM += v
				}
				if v, ok := metaFloat(after, "ssim"); ok {
					t.afterSSIM += v
				}
			}
		}
		done <- t
	}()

	for _, job := range jobs {
		if err := r.enqueueRetry(ctx, job); err != nil {
			return err
		}
	}

	t := <-done
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd.Printf("evaluated %d pair(s), %d failed\n", t.ok, t.failed)
	if t.finitePSNR > 0 {
		n := float64(t.finitePSNR)
		cmd.Printf("mean PSNR: %.4f dB -> %.4f dB (%d pairs)\n",
			t.beforePSNR/n, t.afterPSNR/n, t.finitePSNR)
	}
	if t.ok > 0 {
		n := float64(t.ok)
		cmd.Printf("mean SSIM: %.4f -> %.4f\n", t.beforeSSIM/n, t.afterSSIM/n)
	}
	if t.failed > 0 {
		return fmt.Errorf("%d pair(s) failed", t.failed)
	}
	return nil
}

// runWatch submits an evaluate job for each settled arrival until interrupted.
func (r *Root) runWatch(ctx context.Context, dirs []string, referenceDir, output string, debounceSeconds int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := tasks.NewWatcher(dirs, tasks.DebounceFromSeconds(debounceSeconds), r.log)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	r.log.Info("watching for degraded images", "dirs", dirs, "reference", referenceDir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			key := filepath.Base(ev.Path)
			job := pipeline.Job{
				ID:        newID("ev"),
				Type:      pipeline.JobEvaluate,
				InputPath: ev.Path,
				Output:    output,
				Options: map[string]any{
					"reference":   filepath.Join(referenceDir, key),
					"ssim_window": r.cfg.Metrics.SSIMWindow,
					"source":      "watch",
				},
			}
			if err := r.enqueue(ctx, job); err != nil {
				r.log.Warn("could not queue arrival", "path", ev.Path, "error", err)
			}
		}
	}
}

func printScores(cmd *cobra.Command, meta map[string]any) {
	cmd.Printf("pair %v (%vx%v)\n", meta["key"], meta["width"], meta["height"])
	for _, stage := range []string{"before", "after"} {
		scores, ok := meta[stage].(map[string]any)
		if !ok {
			continue
		}
		psnr, _ := metaFloat(scores, "psnr")
		mse, _ := metaFloat(scores, "mse")
		ssim, _ := metaFloat(scores, "ssim")
		if math.IsInf(psnr, 1) {
			cmd.Printf("  %-6s PSNR inf      MSE %.4f  SSIM %.4f\n", stage, mse, ssim)
		} else {
			cmd.Printf("  %-6s PSNR %.4f  MSE %.4f  SSIM %.4f\n", stage, psnr, mse, ssim)
		}
	}
	if out, ok := meta["output"].(string); ok && out != "" {
		cmd.Printf("  output %s\n", out)
	}
}
