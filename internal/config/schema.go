// Package config provides configuration management for Pandaura.
package config

import (
	"time"
)

// Config is the root configuration for Pandaura.
type Config struct {
	// Server configures the command surface listener.
	Server ServerConfig `mapstructure:"server" json:"server"`
	// Engine configures the shadow scan engine.
	Engine EngineConfig `mapstructure:"engine" json:"engine"`
	// Workspace configures the logic-file workspace and exports.
	Workspace WorkspaceConfig `mapstructure:"workspace" json:"workspace"`
	// Store configures persistence.
	Store StoreConfig `mapstructure:"store" json:"store"`
	// Output configures logging and terminal output.
	Output OutputConfig `mapstructure:"output" json:"output"`
}

// ServerConfig configures the command surface listener.
type ServerConfig struct {
	// Host is the bind address (env PANDAURA_HOST).
	Host string `mapstructure:"host" json:"host"`
	// Port is the listen port (env PORT).
	Port int `mapstructure:"port" json:"port"`
}

// EngineConfig configures the shadow scan engine.
type EngineConfig struct {
	// ScanTimeMs is the cycle period in milliseconds.
	ScanTimeMs int `mapstructure:"scan_time_ms" json:"scan_time_ms"`
	// LegacyScanTime forces the 100 ms legacy cycle period.
	LegacyScanTime bool `mapstructure:"legacy_scan_time" json:"legacy_scan_time"`
	// WatchdogLimitMs is the per-cycle compute quota.
	WatchdogLimitMs int `mapstructure:"watchdog_limit_ms" json:"watchdog_limit_ms"`
	// LatencyBaseMs is the base I/O queue latency.
	LatencyBaseMs float64 `mapstructure:"latency_base_ms" json:"latency_base_ms"`
	// LatencyJitterMs is the uniform jitter added to the base latency.
	LatencyJitterMs float64 `mapstructure:"latency_jitter_ms" json:"latency_jitter_ms"`
	// StopOnError halts the scheduler on runtime errors instead of
	// faulting the cycle and continuing.
	StopOnError bool `mapstructure:"stop_on_error" json:"stop_on_error"`
	// Seed fixes the latency jitter RNG for reproducible runs.
	Seed int64 `mapstructure:"seed" json:"seed,omitempty"`
}

// WorkspaceConfig configures the logic-file workspace.
type WorkspaceConfig struct {
	// Dir is the directory watched for ST source changes.
	Dir string `mapstructure:"dir" json:"dir"`
	// CSVOutputDir receives periodic tag exports (env CSV_OUTPUT_DIR).
	CSVOutputDir string `mapstructure:"csv_output_dir" json:"csv_output_dir"`
	// SyncInterval is the tag export period (env SYNC_INTERVAL, seconds).
	SyncInterval time.Duration `mapstructure:"sync_interval" json:"sync_interval"`
	// WatchEnabled toggles the workspace file watcher.
	WatchEnabled bool `mapstructure:"watch_enabled" json:"watch_enabled"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// DataDir roots the content-addressed file store.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`
	// DBPath is the SQLite database file (env DB_PATH). Empty derives
	// a profile-specific file under DataDir.
	DBPath string `mapstructure:"db_path" json:"db_path,omitempty"`
	// Profile selects the database profile (env NODE_ENV):
	// development, test, or production.
	Profile string `mapstructure:"profile" json:"profile"`
}

// OutputConfig configures logging and terminal output.
type OutputConfig struct {
	// LogLevel is debug, info, warn, or error (env LOG_LEVEL).
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	// JSON switches log output to JSON records.
	JSON bool `mapstructure:"json" json:"json"`
	// Color controls ANSI styling in CLI output.
	Color bool `mapstructure:"color" json:"color"`
}

// Store profiles recognised by NODE_ENV.
const (
	ProfileDevelopment = "development"
	ProfileTest        = "test"
	ProfileProduction  = "production"
)

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Engine: EngineConfig{
			ScanTimeMs:      10,
			WatchdogLimitMs: 50,
			LatencyBaseMs:   2,
			LatencyJitterMs: 0.5,
		},
		Workspace: WorkspaceConfig{
			Dir:          "workspace",
			CSVOutputDir: "exports",
			SyncInterval: 5 * time.Second,
			WatchEnabled: true,
		},
		Store: StoreConfig{
			DataDir: "data",
			Profile: ProfileDevelopment,
		},
		Output: OutputConfig{
			LogLevel: "info",
			Color:    true,
		},
	}
}

// EffectiveScanTimeMs resolves the cycle period, honouring legacy mode.
func (e EngineConfig) EffectiveScanTimeMs() int {
	if e.LegacyScanTime {
		return 100
	}
	return e.ScanTimeMs
}

// DatabasePath resolves the SQLite file: DBPath when set, otherwise a
// profile-specific file under DataDir.
func (s StoreConfig) DatabasePath() string {
	if s.DBPath != "" {
		return s.DBPath
	}
	switch s.Profile {
	case ProfileTest:
		return s.DataDir + "/pandaura_test.db"
	case ProfileProduction:
		return s.DataDir + "/pandaura.db"
	default:
		return s.DataDir + "/pandaura_dev.db"
	}
}

// ConfigFileNames are the base names searched for config files.
var ConfigFileNames = []string{"pandaura", ".pandaura"}

// ConfigFileExtensions are the extensions searched for config files.
var ConfigFileExtensions = []string{"yaml", "yml"}
