// Package config loads and validates the fuzzer's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root fuzzer configuration.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Target    TargetConfig    `yaml:"target"`
	Shm       ShmConfig       `yaml:"shm"`
	Fuzz      FuzzConfig      `yaml:"fuzz"`
	Reporting ReportingConfig `yaml:"reporting"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// FrameworkConfig controls ambient logging behavior.
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "pretty" or "json"
}

// TargetConfig describes how to launch and supervise the node under test.
// The run command reads LaunchArgs, Xvfb and CLIBinary; BootTimeout and
// DispatchTimeout are not read, and the supervisor and orchestrator use their
// own fixed 10s limits.
type TargetConfig struct {
	LaunchArgs  []string      `yaml:"launch_args"`
	Xvfb        bool          `yaml:"xvfb"`
	BootTimeout time.Duration `yaml:"boot_timeout"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	CLIBinary   string        `yaml:"cli_binary"`
}

// ShmConfig holds the shared-memory ring settings. Dir is read by the run
// command; SlotCount is not read, and the shm package uses its fixed
// SlotCount constant.
type ShmConfig struct {
	SlotCount int    `yaml:"slot_count"`
	Dir       string `yaml:"dir"`
}

// FuzzConfig holds generation cadence, anomaly thresholds and catalog paths.
// Only CatalogRoot and InstallDir are read by the run command; the
// orchestrator and generators use fixed values for the mutation period,
// check length, predictor threshold and magic-value probability.
type FuzzConfig struct {
	GeneratePeriod    int     `yaml:"generate_period"`
	CheckLen          int     `yaml:"check_len"`
	MagicProbability  float64 `yaml:"magic_probability"`
	PredictorThreshold float64 `yaml:"predictor_threshold"`
	CatalogRoot       string  `yaml:"catalog_root"`
	InstallDir        string  `yaml:"install_dir"`
}

// ReportingConfig holds background reporter settings. Neither field is read:
// the reporter writes under the -o output directory on a fixed 10s interval.
type ReportingConfig struct {
	OutputDir        string        `yaml:"output_dir"`
	ReporterInterval time.Duration `yaml:"reporter_interval"`
}

// MetricsConfig holds Prometheus exporter settings. Neither field is read;
// no HTTP listener is started.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Enabled    bool   `yaml:"enabled"`
}

// Default returns a Config with sane defaults for every field that has a
// fixed constant (boot timeout 10s, generate period 50, check length 200,
// dispatch timeout 10s, reporter interval 10s).
func Default() *Config {
	return &Config{
		Framework: FrameworkConfig{LogLevel: "info", LogFormat: "pretty"},
		Target: TargetConfig{
			BootTimeout:     10 * time.Second,
			DispatchTimeout: 10 * time.Second,
			CLIBinary:       "ros2",
		},
		Shm: ShmConfig{SlotCount: 512},
		Fuzz: FuzzConfig{
			GeneratePeriod:     50,
			CheckLen:           200,
			MagicProbability:   0.01,
			PredictorThreshold: 3.0,
		},
		Reporting: ReportingConfig{ReporterInterval: 10 * time.Second},
		Metrics:   MetricsConfig{ListenAddr: ":9469", Enabled: true},
	}
}

// Load reads a YAML config file, applying os.ExpandEnv to the raw bytes
// before unmarshalling so "${VAR}" references resolve, and falls back to
// Default() when path is empty or does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the orchestrator cannot safely default.
func (c *Config) Validate() error {
	if len(c.Target.LaunchArgs) == 0 {
		return fmt.Errorf("config: target.launch_args must not be empty")
	}
	if c.Fuzz.CatalogRoot == "" {
		return fmt.Errorf("config: fuzz.catalog_root must be set")
	}
	return nil
}

// Save writes the config back out as YAML, mirroring Load's format.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
