package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	perrors "github.com/pandaura/pandaura/internal/errors"
)

// legacy flat environment keys carried over from earlier deployments.
// Each maps onto one nested configuration key.
var legacyEnvKeys = map[string]string{
	"PORT":           "server.port",
	"PANDAURA_HOST":  "server.host",
	"CSV_OUTPUT_DIR": "workspace.csv_output_dir",
	"SYNC_INTERVAL":  "workspace.sync_interval",
	"LOG_LEVEL":      "output.log_level",
	"NODE_ENV":       "store.profile",
	"DB_PATH":        "store.db_path",
}

// Loader handles configuration loading and merging.
type Loader struct {
	v           *viper.Viper
	configPath  string
	searchPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("PANDAURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{
		v:           v,
		searchPaths: []string{"."},
	}
}

// WithConfigPath sets an explicit config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithSearchPaths adds directories to search for config files.
func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = append(l.searchPaths, paths...)
	return l
}

// Load loads the configuration.
func (l *Loader) Load() (*Config, error) {
	const op = "config.Load"

	l.setDefaults()
	l.applyLegacyEnv()

	if err := l.loadConfigFile(); err != nil {
		return nil, perrors.ConfigWrap(err, op, "failed to load config file")
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, perrors.ConfigWrap(err, op, "failed to unmarshal config")
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default values using Viper.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)

	l.v.SetDefault("engine.scan_time_ms", defaults.Engine.ScanTimeMs)
	l.v.SetDefault("engine.legacy_scan_time", defaults.Engine.LegacyScanTime)
	l.v.SetDefault("engine.watchdog_limit_ms", defaults.Engine.WatchdogLimitMs)
	l.v.SetDefault("engine.latency_base_ms", defaults.Engine.LatencyBaseMs)
	l.v.SetDefault("engine.latency_jitter_ms", defaults.Engine.LatencyJitterMs)
	l.v.SetDefault("engine.stop_on_error", defaults.Engine.StopOnError)
	l.v.SetDefault("engine.seed", defaults.Engine.Seed)

	l.v.SetDefault("workspace.dir", defaults.Workspace.Dir)
	l.v.SetDefault("workspace.csv_output_dir", defaults.Workspace.CSVOutputDir)
	l.v.SetDefault("workspace.sync_interval", defaults.Workspace.SyncInterval)
	l.v.SetDefault("workspace.watch_enabled", defaults.Workspace.WatchEnabled)

	l.v.SetDefault("store.data_dir", defaults.Store.DataDir)
	l.v.SetDefault("store.db_path", defaults.Store.DBPath)
	l.v.SetDefault("store.profile", defaults.Store.Profile)

	l.v.SetDefault("output.log_level", defaults.Output.LogLevel)
	l.v.SetDefault("output.json", defaults.Output.JSON)
	l.v.SetDefault("output.color", defaults.Output.Color)
}

// applyLegacyEnv maps the flat environment keys onto their nested
// configuration keys. Unknown environment keys are ignored; a legacy key
// outranks file values, matching its historical behaviour.
func (l *Loader) applyLegacyEnv() {
	for env, key := range legacyEnvKeys {
		raw, ok := os.LookupEnv(env)
		if !ok || raw == "" {
			continue
		}
		switch key {
		case "server.port":
			if n, err := strconv.Atoi(raw); err == nil {
				l.v.Set(key, n)
			}
		case "workspace.sync_interval":
			// SYNC_INTERVAL historically took whole seconds.
			if n, err := strconv.Atoi(raw); err == nil {
				l.v.Set(key, time.Duration(n)*time.Second)
			} else if d, err := time.ParseDuration(raw); err == nil {
				l.v.Set(key, d)
			}
		default:
			l.v.Set(key, raw)
		}
	}
}

// loadConfigFile loads the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", l.configPath, err)
		}
		return nil
	}

	for _, searchPath := range l.searchPaths {
		for _, name := range ConfigFileNames {
			for _, ext := range ConfigFileExtensions {
				configFile := filepath.Join(searchPath, name+"."+ext)
				if _, err := os.Stat(configFile); err == nil {
					l.v.SetConfigFile(configFile)
					if err := l.v.ReadInConfig(); err != nil {
						return fmt.Errorf("reading config file %s: %w", configFile, err)
					}
					return nil
				}
			}
		}
	}

	// No config file found, defaults apply.
	return nil
}

// GetConfigPath returns the path to the loaded config file, if any.
func (l *Loader) GetConfigPath() string {
	return l.v.ConfigFileUsed()
}

// MergeConfig merges additional configuration values.
func (l *Loader) MergeConfig(values map[string]any) error {
	for key, value := range values {
		l.v.Set(key, value)
	}
	return nil
}

// WriteConfig writes the configuration to a file.
func WriteConfig(cfg *Config, path string) error {
	const op = "config.WriteConfig"

	v := viper.New()
	v.Set("server.host", cfg.Server.Host)
	v.Set("server.port", cfg.Server.Port)
	v.Set("engine.scan_time_ms", cfg.Engine.ScanTimeMs)
	v.Set("engine.legacy_scan_time", cfg.Engine.LegacyScanTime)
	v.Set("engine.watchdog_limit_ms", cfg.Engine.WatchdogLimitMs)
	v.Set("engine.latency_base_ms", cfg.Engine.LatencyBaseMs)
	v.Set("engine.latency_jitter_ms", cfg.Engine.LatencyJitterMs)
	v.Set("engine.stop_on_error", cfg.Engine.StopOnError)
	v.Set("engine.seed", cfg.Engine.Seed)
	v.Set("workspace.dir", cfg.Workspace.Dir)
	v.Set("workspace.csv_output_dir", cfg.Workspace.CSVOutputDir)
	v.Set("workspace.sync_interval", cfg.Workspace.SyncInterval.String())
	v.Set("workspace.watch_enabled", cfg.Workspace.WatchEnabled)
	v.Set("store.data_dir", cfg.Store.DataDir)
	v.Set("store.db_path", cfg.Store.DBPath)
	v.Set("store.profile", cfg.Store.Profile)
	v.Set("output.log_level", cfg.Output.LogLevel)
	v.Set("output.json", cfg.Output.JSON)
	v.Set("output.color", cfg.Output.Color)

	if err := v.WriteConfigAs(path); err != nil {
		return perrors.ConfigWrap(err, op, "failed to write config file")
	}
	return nil
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// LoadFromDirectory loads configuration from a directory.
func LoadFromDirectory(dir string) (*Config, error) {
	return NewLoader().WithSearchPaths(dir).Load()
}

// FindConfigFile searches for a config file and returns its path.
func FindConfigFile(searchPaths ...string) (string, error) {
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}

	for _, searchPath := range searchPaths {
		for _, name := range ConfigFileNames {
			for _, ext := range ConfigFileExtensions {
				configFile := filepath.Join(searchPath, name+"."+ext)
				if _, err := os.Stat(configFile); err == nil {
					return configFile, nil
				}
			}
		}
	}

	return "", perrors.NotFound("config.FindConfigFile", "no config file found")
}
