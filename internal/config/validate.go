package config

import (
	"fmt"
	"slices"
	"strings"

	perrors "github.com/pandaura/pandaura/internal/errors"
)

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validProfiles  = []string{ProfileDevelopment, ProfileTest, ProfileProduction}
)

// ValidationError accumulates all validation failures.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s",
		strings.Join(e.Errors, "\n  - "))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Addf adds a formatted error.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Validator validates configuration.
type Validator struct {
	errors *ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: &ValidationError{}}
}

// Validate checks cfg and returns a KindConfig error listing every problem.
func (v *Validator) Validate(cfg *Config) error {
	v.validateServer(cfg.Server)
	v.validateEngine(cfg.Engine)
	v.validateWorkspace(cfg.Workspace)
	v.validateStore(cfg.Store)
	v.validateOutput(cfg.Output)

	if v.errors.HasErrors() {
		return perrors.ConfigWrap(v.errors, "config.Validate", "invalid configuration")
	}
	return nil
}

func (v *Validator) validateServer(cfg ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.errors.Addf("server.port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.Host == "" {
		v.errors.Addf("server.host must not be empty")
	}
}

func (v *Validator) validateEngine(cfg EngineConfig) {
	if cfg.ScanTimeMs <= 0 {
		v.errors.Addf("engine.scan_time_ms must be positive, got %d", cfg.ScanTimeMs)
	}
	if cfg.WatchdogLimitMs <= 0 {
		v.errors.Addf("engine.watchdog_limit_ms must be positive, got %d", cfg.WatchdogLimitMs)
	}
	if cfg.LatencyBaseMs < 0 {
		v.errors.Addf("engine.latency_base_ms must not be negative, got %g", cfg.LatencyBaseMs)
	}
	if cfg.LatencyJitterMs < 0 {
		v.errors.Addf("engine.latency_jitter_ms must not be negative, got %g", cfg.LatencyJitterMs)
	}
}

func (v *Validator) validateWorkspace(cfg WorkspaceConfig) {
	if cfg.SyncInterval <= 0 {
		v.errors.Addf("workspace.sync_interval must be positive, got %s", cfg.SyncInterval)
	}
	if cfg.CSVOutputDir == "" {
		v.errors.Addf("workspace.csv_output_dir must not be empty")
	}
	if cfg.WatchEnabled && cfg.Dir == "" {
		v.errors.Addf("workspace.dir must not be empty when the watcher is enabled")
	}
}

func (v *Validator) validateStore(cfg StoreConfig) {
	if cfg.DataDir == "" {
		v.errors.Addf("store.data_dir must not be empty")
	}
	if !slices.Contains(validProfiles, cfg.Profile) {
		v.errors.Addf("store.profile must be one of %s, got %q",
			strings.Join(validProfiles, ", "), cfg.Profile)
	}
}

func (v *Validator) validateOutput(cfg OutputConfig) {
	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		v.errors.Addf("output.log_level must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), cfg.LogLevel)
	}
}
