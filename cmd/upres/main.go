package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"upres/internal/cli"
	"upres/internal/config"
	"upres/internal/logging"
	"upres/internal/pipeline"
	"upres/internal/srcnn"
	"upres/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// A malformed weight set is fatal for the whole session; a missing file
	// only disables evaluation so that degrade, scan, and weights commands
	// still work.
	var model srcnn.Transform
	var weightSetID int64
	weights, err := srcnn.LoadWeights(cfg.Paths.WeightsFile)
	switch {
	case err == nil:
		m, merr := srcnn.NewModel(weights)
		if merr != nil {
			return merr
		}
		model = m
		weightSetID = registerWeights(store, cfg.Paths.WeightsFile, weights, log)
		log.Info("weights loaded", "file", cfg.Paths.WeightsFile)
	case errors.Is(err, srcnn.ErrWeightShape):
		return err
	case errors.Is(err, os.ErrNotExist):
		log.Warn("weights file not found, evaluation disabled", "file", cfg.Paths.WeightsFile)
	default:
		return fmt.Errorf("load weights: %w", err)
	}

	ctx := context.Background()
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, model, weightSetID)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, log, store, pipe, model)
	return rootCmd.ExecuteContext(ctx)
}

func registerWeights(store *storage.Store, path string, w *srcnn.Weights, log *slog.Logger) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	sum := sha256.Sum256(data)
	shapes := make([][4]int, 0, len(w.Layers))
	for _, l := range w.Layers {
		shapes = append(shapes, [4]int{l.Spec.KH, l.Spec.KW, l.Spec.In, l.Spec.Out})
	}
	id, err := store.RecordWeightSet(path, hex.EncodeToString(sum[:]), storage.LayerShapesJSON(shapes))
	if err != nil {
		log.Warn("could not register weight set", "error", err)
		return 0
	}
	return id
}
