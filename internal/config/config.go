// Package config loads retrace configuration from a TOML file with an
// environment overlay. Precedence is defaults, then file, then
// RETRACE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"
)

// Precache controls resume-target warming after each warp.
type Precache struct {
	Enabled bool `toml:"enabled"`
	Depth   int  `toml:"depth"`
}

// Assist selects the model provider used by the explain command.
type Assist struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
}

// Config is the full retrace configuration.
type Config struct {
	ServiceURL  string `toml:"service_url"`
	RecordingID string `toml:"recording_id"`
	LogLevel    string `toml:"log_level"`

	CacheDir   string `toml:"cache_dir"`
	StatePath  string `toml:"state_path"`
	ScriptPath string `toml:"script_path"`

	MetricsAddr string `toml:"metrics_addr"`
	TraceExport bool   `toml:"trace_export"`

	Precache Precache `toml:"precache"`
	Assist   Assist   `toml:"assist"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServiceURL: "wss://dispatch.retrace.dev",
		LogLevel:   "info",
		Precache:   Precache{Enabled: true, Depth: 2},
		Assist:     Assist{Provider: "anthropic"},
	}
}

// Load reads path over the defaults and applies the environment
// overlay. A missing file is not an error; the defaults still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus environment only.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays RETRACE_* variables. Set-but-empty values count as
// set, matching os.LookupEnv semantics.
func applyEnv(cfg *Config) error {
	strVars := map[string]*string{
		"RETRACE_SERVICE_URL":        &cfg.ServiceURL,
		"RETRACE_RECORDING_ID":       &cfg.RecordingID,
		"RETRACE_LOG_LEVEL":          &cfg.LogLevel,
		"RETRACE_CACHE_DIR":          &cfg.CacheDir,
		"RETRACE_STATE_PATH":         &cfg.StatePath,
		"RETRACE_SCRIPT_PATH":        &cfg.ScriptPath,
		"RETRACE_METRICS_ADDR":       &cfg.MetricsAddr,
		"RETRACE_ASSIST_PROVIDER":    &cfg.Assist.Provider,
		"RETRACE_ASSIST_MODEL":       &cfg.Assist.Model,
		"RETRACE_ASSIST_API_KEY_ENV": &cfg.Assist.APIKeyEnv,
	}
	for name, field := range strVars {
		if val, ok := os.LookupEnv(name); ok {
			*field = val
		}
	}

	boolVars := map[string]*bool{
		"RETRACE_TRACE_EXPORT": &cfg.TraceExport,
		"RETRACE_PRECACHE":     &cfg.Precache.Enabled,
	}
	for name, field := range boolVars {
		val, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		parsed, err := parseBool(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = parsed
	}

	if val, ok := os.LookupEnv("RETRACE_PRECACHE_DEPTH"); ok {
		depth, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("RETRACE_PRECACHE_DEPTH: %w", err)
		}
		cfg.Precache.Depth = depth
	}

	return nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// Validate checks field values without touching the file system.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	if c.ServiceURL == "" {
		return fmt.Errorf("service_url must not be empty")
	}

	if c.Precache.Depth < 1 || c.Precache.Depth > 4 {
		return fmt.Errorf("precache.depth %d out of range 1..4", c.Precache.Depth)
	}

	switch c.Assist.Provider {
	case "", "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("assist.provider %q is not one of anthropic, openai, gemini", c.Assist.Provider)
	}

	return nil
}
