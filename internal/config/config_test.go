package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
api:
  base_url: https://nexus.example.com
  analyze_timeout: 90s
export:
  dir: /tmp/exports
  bucket:
    endpoint: minio:9000
    name: guias
    use_ssl: true
ui:
  alt_screen: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://nexus.example.com" {
		t.Fatalf("base url mismatch: %q", cfg.API.BaseURL)
	}
	if cfg.API.AnalyzeTimeout != 90*time.Second {
		t.Fatalf("analyze timeout mismatch: %s", cfg.API.AnalyzeTimeout)
	}
	if cfg.API.Timeout != DefaultTimeout {
		t.Fatalf("unset keys should keep defaults, got timeout %s", cfg.API.Timeout)
	}
	if cfg.Export.Dir != "/tmp/exports" || cfg.Export.Suffix != DefaultSuffix {
		t.Fatalf("export mismatch: %+v", cfg.Export)
	}
	if !cfg.Export.Bucket.Enabled() || !cfg.Export.Bucket.UseSSL {
		t.Fatalf("bucket mismatch: %+v", cfg.Export.Bucket)
	}
	if cfg.UI.AltScreen {
		t.Fatal("alt_screen: false should override the default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("an explicit missing file should fail, got %v", err)
	}
}

func TestLoadDefaultPathMayBeAbsent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != DefaultBaseURL {
		t.Fatalf("expected defaults, got %+v", cfg.API)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "api: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"NEXUS_API_URL":           "http://10.0.0.5:8000",
		"NEXUS_ANALYZE_TIMEOUT":   "10m",
		"NEXUS_EXPORT_DIR":        " /srv/out ",
		"NEXUS_LOG_FILE":          "/tmp/nexus.log",
		"NEXUS_BUCKET_ENDPOINT":   "s3.local:9000",
		"NEXUS_BUCKET_NAME":       "exports",
		"NEXUS_BUCKET_USE_SSL":    "true",
		"NEXUS_BUCKET_SECRET_KEY": "secret",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(key string) string { return env[key] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.API.BaseURL != "http://10.0.0.5:8000" || cfg.API.AnalyzeTimeout != 10*time.Minute {
		t.Fatalf("api mismatch: %+v", cfg.API)
	}
	if cfg.Export.Dir != "/srv/out" || cfg.Log.File != "/tmp/nexus.log" {
		t.Fatalf("paths mismatch: %+v %+v", cfg.Export, cfg.Log)
	}
	if !cfg.Export.Bucket.Enabled() || !cfg.Export.Bucket.UseSSL || cfg.Export.Bucket.SecretKey != "secret" {
		t.Fatalf("bucket mismatch: %+v", cfg.Export.Bucket)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"NEXUS_TIMEOUT", "NEXUS_ANALYZE_TIMEOUT", "NEXUS_BUCKET_USE_SSL"} {
		cfg := Default()
		err := cfg.ApplyEnv(func(k string) string {
			if k == key {
				return "soon"
			}
			return ""
		})
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s: expected error naming the variable, got %v", key, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty url", func(c *Config) { c.API.BaseURL = "" }, "base_url is required"},
		{"relative url", func(c *Config) { c.API.BaseURL = "localhost:8000" }, "absolute http(s) URL"},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }, "api.timeout"},
		{"negative analyze timeout", func(c *Config) { c.API.AnalyzeTimeout = -time.Second }, "api.analyze_timeout"},
		{"half bucket", func(c *Config) { c.Export.Bucket.Endpoint = "minio:9000" }, "export.bucket"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}
