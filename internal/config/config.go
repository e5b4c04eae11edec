package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// EnvConfig overrides the default config file path when set.
const EnvConfig = "UPRES_CONFIG"

const (
	defaultConfigPath = "~/.config/upres/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the evaluation pipeline.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Metrics    Metrics    `json:"metrics"`
	Server     Server     `json:"server"`
	Watch      Watch      `json:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	// ParallelJobs is the worker count for batch evaluation. Image pairs are
	// independent, so workers share nothing but the read-only weights.
	ParallelJobs int `json:"parallel_jobs"`
	// Scale is the modulo-crop alignment factor.
	Scale int `json:"scale"`
	// DegradeFactor is the downscale factor for building test sets.
	DegradeFactor int `json:"degrade_factor"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	ReferenceDir string `json:"reference_dir"`
	DegradedDir  string `json:"degraded_dir"`
	OutputDir    string `json:"output_dir"`
	WeightsFile  string `json:"weights_file"`
	DatabasePath string `json:"database_path"`
}

// Metrics tunes score computation.
type Metrics struct {
	// SSIMWindow is the sliding window side length; must be odd.
	SSIMWindow int `json:"ssim_window"`
}

// Server configures the HTTP results API.
type Server struct {
	Addr string `json:"addr"`
}

// Watch configures the degraded-directory watcher.
type Watch struct {
	Paths           []string `json:"paths"`
	DebounceSeconds int      `json:"debounce_seconds"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// UPRES_CONFIG overrides the default config path.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs:  defaultParallel,
			Scale:         3,
			DegradeFactor: 2,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			ReferenceDir: "./reference",
			DegradedDir:  "./degraded",
			OutputDir:    "./output",
			WeightsFile:  "./weights.srw",
			DatabasePath: filepath.Join(os.TempDir(), "upres.db"),
		},
		Metrics: Metrics{
			SSIMWindow: 7,
		},
		Server: Server{
			Addr: ":8585",
		},
		Watch: Watch{
			DebounceSeconds: 1,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
