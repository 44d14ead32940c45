// Package config resolves client settings from defaults, an optional YAML
// file and NEXUS_* environment variables. Command-line flags are applied on
// top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultTimeout        = 30 * time.Second
	DefaultAnalyzeTimeout = 5 * time.Minute
	DefaultMaxBodyBytes   = 64 << 20
	DefaultMaxUploadBytes = 50 << 20
	DefaultSuffix         = "_ApuntesPRO.pdf"
)

type API struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	AnalyzeTimeout time.Duration `yaml:"analyze_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type Bucket struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Name      string `yaml:"name"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether exports should go to the bucket instead of disk.
func (b Bucket) Enabled() bool {
	return strings.TrimSpace(b.Endpoint) != "" && strings.TrimSpace(b.Name) != ""
}

type Export struct {
	Dir    string `yaml:"dir"`
	Suffix string `yaml:"suffix"`
	Bucket Bucket `yaml:"bucket"`
}

type Document struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

type Log struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

type UI struct {
	AltScreen bool `yaml:"alt_screen"`
}

// Config is the resolved client configuration.
type Config struct {
	API      API      `yaml:"api"`
	Export   Export   `yaml:"export"`
	Document Document `yaml:"document"`
	Log      Log      `yaml:"log"`
	UI       UI       `yaml:"ui"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        DefaultBaseURL,
			Timeout:        DefaultTimeout,
			AnalyzeTimeout: DefaultAnalyzeTimeout,
			MaxBodyBytes:   DefaultMaxBodyBytes,
		},
		Export:   Export{Suffix: DefaultSuffix},
		Document: Document{MaxBytes: DefaultMaxUploadBytes},
		Log:      Log{Level: "info"},
		UI:       UI{AltScreen: true},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/nexus/config.yaml or the platform
// equivalent. It returns "" when no config directory can be determined.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nexus", "config.yaml")
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path means DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays NEXUS_* variables read through getenv. A nil getenv
// means os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("NEXUS_API_URL", &c.API.BaseURL)
	setString("NEXUS_EXPORT_DIR", &c.Export.Dir)
	setString("NEXUS_LOG_FILE", &c.Log.File)
	setString("NEXUS_LOG_LEVEL", &c.Log.Level)
	setString("NEXUS_BUCKET_ENDPOINT", &c.Export.Bucket.Endpoint)
	setString("NEXUS_BUCKET_ACCESS_KEY", &c.Export.Bucket.AccessKey)
	setString("NEXUS_BUCKET_SECRET_KEY", &c.Export.Bucket.SecretKey)
	setString("NEXUS_BUCKET_NAME", &c.Export.Bucket.Name)
	setString("NEXUS_BUCKET_REGION", &c.Export.Bucket.Region)

	if v := strings.TrimSpace(getenv("NEXUS_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: NEXUS_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if v := strings.TrimSpace(getenv("NEXUS_ANALYZE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: NEXUS_ANALYZE_TIMEOUT: %w", err)
		}
		c.API.AnalyzeTimeout = d
	}
	if v := strings.TrimSpace(getenv("NEXUS_BUCKET_USE_SSL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: NEXUS_BUCKET_USE_SSL: %w", err)
		}
		c.Export.Bucket.UseSSL = b
	}
	return nil
}

// Validate checks the settings the client cannot run without.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(strings.TrimSpace(c.API.BaseURL))
	switch {
	case strings.TrimSpace(c.API.BaseURL) == "":
		errs = append(errs, errors.New("api.base_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("api.base_url %q must be an absolute http(s) URL", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.AnalyzeTimeout <= 0 {
		errs = append(errs, errors.New("api.analyze_timeout must be positive"))
	}
	if c.API.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("api.max_body_bytes must be positive"))
	}
	if c.Document.MaxBytes <= 0 {
		errs = append(errs, errors.New("document.max_bytes must be positive"))
	}
	if b := c.Export.Bucket; (b.Endpoint == "") != (b.Name == "") {
		errs = append(errs, errors.New("export.bucket needs both endpoint and name"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to its slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", name, err)
	}
	return level, nil
}
