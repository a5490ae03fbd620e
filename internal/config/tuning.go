package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/haptic-data/touch.report/internal/merge"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be used
// for both startup configuration and runtime updates.
type TuningConfig struct {
	// Contact detection params
	ActivationThreshold *float64           `json:"activation_threshold,omitempty"`
	StaleTimeout        *string            `json:"stale_timeout,omitempty"` // duration string like "1s"
	Granularity         *string            `json:"granularity,omitempty"`   // "taxel" or "sensor"
	SensorThresholds    map[string]float64 `json:"sensor_thresholds,omitempty"`

	// Publisher params
	PublishRateHz *float64 `json:"publish_rate_hz,omitempty"`

	// History params
	HistorySize *int `json:"history_size,omitempty"`

	// Store params
	BatchSize    *int    `json:"batch_size,omitempty"`
	BatchTimeout *string `json:"batch_timeout,omitempty"` // duration string like "250ms"

	// Capture recorder params
	CaptureKeep *int `json:"capture_keep,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from cmd/tools/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ActivationThreshold != nil {
		if math.IsNaN(*c.ActivationThreshold) || math.IsInf(*c.ActivationThreshold, 0) {
			return fmt.Errorf("activation_threshold must be finite, got %f", *c.ActivationThreshold)
		}
	}

	if c.StaleTimeout != nil && *c.StaleTimeout != "" {
		d, err := time.ParseDuration(*c.StaleTimeout)
		if err != nil {
			return fmt.Errorf("invalid stale_timeout '%s': %w", *c.StaleTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("stale_timeout must be positive, got %s", d)
		}
	}

	if c.Granularity != nil {
		switch merge.Granularity(*c.Granularity) {
		case merge.GranularityTaxel, merge.GranularitySensor:
		default:
			return fmt.Errorf("granularity must be %q or %q, got %q",
				merge.GranularityTaxel, merge.GranularitySensor, *c.Granularity)
		}
	}

	for name, threshold := range c.SensorThresholds {
		if name == "" {
			return fmt.Errorf("sensor_thresholds contains an empty sensor name")
		}
		if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
			return fmt.Errorf("sensor_thresholds[%s] must be finite, got %f", name, threshold)
		}
	}

	if c.PublishRateHz != nil {
		if math.IsNaN(*c.PublishRateHz) || *c.PublishRateHz <= 0 {
			return fmt.Errorf("publish_rate_hz must be positive, got %f", *c.PublishRateHz)
		}
	}

	if c.HistorySize != nil && *c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", *c.HistorySize)
	}

	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}

	if c.BatchTimeout != nil && *c.BatchTimeout != "" {
		d, err := time.ParseDuration(*c.BatchTimeout)
		if err != nil {
			return fmt.Errorf("invalid batch_timeout '%s': %w", *c.BatchTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("batch_timeout must be positive, got %s", d)
		}
	}

	if c.CaptureKeep != nil && *c.CaptureKeep < 1 {
		return fmt.Errorf("capture_keep must be at least 1, got %d", *c.CaptureKeep)
	}

	return nil
}

// GetActivationThreshold returns the activation_threshold value or the default.
func (c *TuningConfig) GetActivationThreshold() float64 {
	if c.ActivationThreshold == nil {
		return 0.5 // default
	}
	return *c.ActivationThreshold
}

// GetStaleTimeout parses and returns the StaleTimeout as a time.Duration.
func (c *TuningConfig) GetStaleTimeout() time.Duration {
	if c.StaleTimeout == nil || *c.StaleTimeout == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.StaleTimeout)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetGranularity returns the contact granularity or the default.
func (c *TuningConfig) GetGranularity() merge.Granularity {
	if c.Granularity == nil || *c.Granularity == "" {
		return merge.GranularityTaxel // default
	}
	return merge.Granularity(*c.Granularity)
}

// GetSensorThresholds returns a copy of the per-sensor threshold overrides.
func (c *TuningConfig) GetSensorThresholds() map[string]float64 {
	if len(c.SensorThresholds) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.SensorThresholds))
	for name, threshold := range c.SensorThresholds {
		out[name] = threshold
	}
	return out
}

// GetPublishRateHz returns the publish_rate_hz value or the default.
func (c *TuningConfig) GetPublishRateHz() float64 {
	if c.PublishRateHz == nil {
		return 100 // default
	}
	return *c.PublishRateHz
}

// GetPublishInterval converts the publish rate into a ticker interval.
func (c *TuningConfig) GetPublishInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.GetPublishRateHz())
}

// GetHistorySize returns the history_size value or the default.
func (c *TuningConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 512 // default
	}
	return *c.HistorySize
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 64 // default
	}
	return *c.BatchSize
}

// GetBatchTimeout parses and returns the BatchTimeout as a time.Duration.
func (c *TuningConfig) GetBatchTimeout() time.Duration {
	if c.BatchTimeout == nil || *c.BatchTimeout == "" {
		return 250 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.BatchTimeout)
	if err != nil {
		return 250 * time.Millisecond // default on parse error
	}
	return d
}

// GetCaptureKeep returns the capture_keep value or the default.
func (c *TuningConfig) GetCaptureKeep() int {
	if c.CaptureKeep == nil {
		return 16 // default
	}
	return *c.CaptureKeep
}

// MergerConfig assembles the merger configuration from the tuning values.
func (c *TuningConfig) MergerConfig() merge.Config {
	return merge.Config{
		ActivationThreshold: c.GetActivationThreshold(),
		StaleTimeout:        c.GetStaleTimeout(),
		Granularity:         c.GetGranularity(),
		SensorThresholds:    c.GetSensorThresholds(),
	}
}
