package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrace.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if !cfg.Precache.Enabled {
		t.Error("Precache.Enabled = false, want true")
	}
	if cfg.Precache.Depth != 2 {
		t.Errorf("Precache.Depth = %d, want 2", cfg.Precache.Depth)
	}
	if cfg.Assist.Provider != "anthropic" {
		t.Errorf("Assist.Provider = %q, want %q", cfg.Assist.Provider, "anthropic")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_url = "wss://replay.example.com"
recording_id = "rec-42"
log_level = "debug"
state_path = "/tmp/retrace-state.yaml"

[precache]
enabled = false
depth = 3

[assist]
provider = "openai"
model = "gpt-4o"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServiceURL != "wss://replay.example.com" {
		t.Errorf("ServiceURL = %q", cfg.ServiceURL)
	}
	if cfg.RecordingID != "rec-42" {
		t.Errorf("RecordingID = %q", cfg.RecordingID)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Precache.Enabled {
		t.Error("Precache.Enabled = true, want false")
	}
	if cfg.Precache.Depth != 3 {
		t.Errorf("Precache.Depth = %d, want 3", cfg.Precache.Depth)
	}
	if cfg.Assist.Provider != "openai" || cfg.Assist.Model != "gpt-4o" {
		t.Errorf("Assist = %+v", cfg.Assist)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `recording_id = "rec-7"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RecordingID != "rec-7" {
		t.Errorf("RecordingID = %q, want %q", cfg.RecordingID, "rec-7")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
	if cfg.Precache.Depth != 2 {
		t.Errorf("Precache.Depth = %d, want default 2", cfg.Precache.Depth)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, `log_level = [unclosed`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with malformed toml should return error")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `log_level = "warn"`)
	t.Setenv("RETRACE_LOG_LEVEL", "debug")
	t.Setenv("RETRACE_RECORDING_ID", "rec-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want env %q", cfg.LogLevel, "debug")
	}
	if cfg.RecordingID != "rec-env" {
		t.Errorf("RecordingID = %q, want env %q", cfg.RecordingID, "rec-env")
	}
}

func TestLoad_EnvBoolAndInt(t *testing.T) {
	t.Setenv("RETRACE_PRECACHE", "off")
	t.Setenv("RETRACE_PRECACHE_DEPTH", "3")
	t.Setenv("RETRACE_TRACE_EXPORT", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Precache.Enabled {
		t.Error("Precache.Enabled = true, want false")
	}
	if cfg.Precache.Depth != 3 {
		t.Errorf("Precache.Depth = %d, want 3", cfg.Precache.Depth)
	}
	if !cfg.TraceExport {
		t.Error("TraceExport = false, want true")
	}
}

func TestLoad_EnvBadBool(t *testing.T) {
	t.Setenv("RETRACE_PRECACHE", "maybe")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() with bad boolean env should return error")
	}
}

func TestLoad_EnvBadInt(t *testing.T) {
	t.Setenv("RETRACE_PRECACHE_DEPTH", "deep")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() with bad integer env should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "empty service url",
			mutate:  func(c *Config) { c.ServiceURL = "" },
			wantErr: "service_url",
		},
		{
			name:    "depth too small",
			mutate:  func(c *Config) { c.Precache.Depth = 0 },
			wantErr: "precache.depth",
		},
		{
			name:    "depth too large",
			mutate:  func(c *Config) { c.Precache.Depth = 5 },
			wantErr: "precache.depth",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Assist.Provider = "cohere" },
			wantErr: "assist.provider",
		},
		{
			name:   "empty provider allowed",
			mutate: func(c *Config) { c.Assist.Provider = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
