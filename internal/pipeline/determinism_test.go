package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"upres/internal/imgio"
	"upres/internal/raster"
	"upres/internal/srcnn"
)

func writeScoredPair(t *testing.T, degradedDir, referenceDir, name string, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	ref := raster.New(33, 33, raster.RGB)
	for i := range ref.Pix {
		ref.Pix[i] = uint8(rng.Intn(256))
	}
	deg := raster.New(33, 33, raster.RGB)
	copy(deg.Pix, ref.Pix)
	// Perturb so before/after scores are finite and pair-specific.
	for i := 0; i < len(deg.Pix); i += 7 {
		deg.Pix[i] = raster.ClampU8(float64(deg.Pix[i]) + 10)
	}

	if err := imgio.Write(filepath.Join(referenceDir, name), ref); err != nil {
		t.Fatalf("write reference %s: %v", name, err)
	}
	if err := imgio.Write(filepath.Join(degradedDir, name), deg); err != nil {
		t.Fatalf("write degraded %s: %v", name, err)
	}
}

func runEvaluations(t *testing.T, workers int, degradedDir, referenceDir string, keys []string) map[string]map[string]any {
	t.Helper()
	model, err := srcnn.NewModel(srcnn.DeltaWeights())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	p := New(context.Background(), workers, quietLogger(), nil, model, 0)
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	for i, key := range keys {
		job := Job{
			ID:        fmt.Sprintf("w%d-%d", workers, i),
			Type:      JobEvaluate,
			InputPath: filepath.Join(degradedDir, key),
			Options:   map[string]any{"reference": filepath.Join(referenceDir, key)},
		}
		for {
			err := p.Submit(job)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("submit %s: %v", key, err)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}

	scores := make(map[string]map[string]any, len(keys))
	for range keys {
		select {
		case res := <-results:
			if res.Error != nil {
				t.Fatalf("evaluate failed: %v", res.Error)
			}
			key, _ := res.Meta["key"].(string)
			scores[key] = res.Meta
		case <-time.After(30 * time.Second):
			t.Fatalf("timed out waiting for results")
		}
	}
	return scores
}

// Pairs share only the read-only weights, so the same set evaluated by one
// worker and by several must score bitwise-identically.
func TestEvaluationDeterministicAcrossWorkerCounts(t *testing.T) {
	degradedDir := t.TempDir()
	referenceDir := t.TempDir()
	keys := []string{"a.png", "b.png", "c.png", "d.png"}
	for i, key := range keys {
		writeScoredPair(t, degradedDir, referenceDir, key, int64(100+i))
	}

	sequential := runEvaluations(t, 1, degradedDir, referenceDir, keys)
	concurrent := runEvaluations(t, 4, degradedDir, referenceDir, keys)

	if len(sequential) != len(keys) || len(concurrent) != len(keys) {
		t.Fatalf("missing results: sequential %d, concurrent %d", len(sequential), len(concurrent))
	}
	for _, key := range keys {
		if !reflect.DeepEqual(sequential[key], concurrent[key]) {
			t.Fatalf("scores for %s diverge between worker counts:\n  1 worker:  %v\n  4 workers: %v",
				key, sequential[key], concurrent[key])
		}
	}
}

func TestSubmitAfterStopReturnsError(t *testing.T) {
	proc := &countingProcessor{processed: make(map[string]int)}
	p := NewWithProcessor(context.Background(), 1, quietLogger(), nil, proc)
	p.Stop()

	err := p.Submit(Job{ID: "late", Type: JobEvaluate})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
