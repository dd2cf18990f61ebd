// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ObjectStoreConfig locates scenario artifacts in an S3-compatible bucket.
type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
}

// Enabled reports whether an object store is configured.
func (o ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != ""
}

// Config represents the configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or CLI flags.
type Config struct {
	// Storage. DatabaseURL is postgres://... or sqlite://path; empty keeps
	// jobs in memory. ScenariosDir is used when no object store is configured.
	DatabaseURL  string            `json:"database_url,omitempty"`
	ObjectStore  ObjectStoreConfig `json:"object_store,omitempty"`
	ScenariosDir string            `json:"scenarios_dir,omitempty"`

	// Execution
	Workers             int  `json:"workers,omitempty" validate:"gte=0,lte=256"`
	QueueSize           int  `json:"queue_size,omitempty" validate:"gte=0"`
	Concurrency         int  `json:"concurrency,omitempty" validate:"gte=0,lte=64"`
	StageTimeoutSeconds int  `json:"stage_timeout_seconds,omitempty" validate:"gte=0"`
	RecheckDelayMs      int  `json:"recheck_delay_ms,omitempty" validate:"gte=0"`
	ForceRestart        bool `json:"force_restart,omitempty"`

	// Pipeline. Graph is a workflow template path; empty uses the built-in one.
	Graph                 string            `json:"graph,omitempty"`
	Services              map[string]string `json:"services,omitempty" validate:"omitempty,dive,keys,required,endkeys,required,url"`
	ServiceTimeoutSeconds int               `json:"service_timeout_seconds,omitempty" validate:"gte=0"`

	// Output
	Port       int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	LogLevel   string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat  string `json:"log_format,omitempty" validate:"omitempty,oneof=text json"`
	ReportPath string `json:"report_path,omitempty"`
}

// Defaults returns the built-in configuration values.
func Defaults() Config {
	return Config{
		ScenariosDir:          "scenarios",
		Workers:               4,
		QueueSize:             256,
		Concurrency:           2,
		StageTimeoutSeconds:   900,
		RecheckDelayMs:        500,
		ServiceTimeoutSeconds: 600,
		Port:                  8080,
		LogLevel:              "info",
		LogFormat:             "text",
		ReportPath:            "report.json",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config error: '%s' failed %q validation", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("config error: %w", err)
	}

	if c.DatabaseURL != "" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") &&
		!strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		return fmt.Errorf("config error: 'database_url' must start with postgres://, postgresql:// or sqlite://")
	}

	if c.ObjectStore.Enabled() {
		if strings.Contains(c.ObjectStore.Endpoint, "://") {
			return fmt.Errorf("config error: 'object_store.endpoint' must not include a scheme")
		}
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("config error: 'object_store.bucket' is required when an endpoint is set")
		}
	} else if c.ScenariosDir != "" {
		if info, err := os.Stat(c.ScenariosDir); err == nil && !info.IsDir() {
			return fmt.Errorf("config error: scenarios_dir is not a directory: %s", c.ScenariosDir)
		}
	}

	if c.Graph != "" {
		if _, err := os.Stat(c.Graph); os.IsNotExist(err) {
			return fmt.Errorf("config error: graph file not found: %s", c.Graph)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.ScenariosDir == "" {
		result.ScenariosDir = defaults.ScenariosDir
	}
	if result.Graph == "" {
		result.Graph = defaults.Graph
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}
	if result.LogFormat == "" {
		result.LogFormat = defaults.LogFormat
	}
	if result.ReportPath == "" {
		result.ReportPath = defaults.ReportPath
	}
	if !result.ObjectStore.Enabled() {
		result.ObjectStore = defaults.ObjectStore
	}

	// Int fields: use default if zero
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.QueueSize == 0 {
		result.QueueSize = defaults.QueueSize
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.StageTimeoutSeconds == 0 {
		result.StageTimeoutSeconds = defaults.StageTimeoutSeconds
	}
	if result.RecheckDelayMs == 0 {
		result.RecheckDelayMs = defaults.RecheckDelayMs
	}
	if result.ServiceTimeoutSeconds == 0 {
		result.ServiceTimeoutSeconds = defaults.ServiceTimeoutSeconds
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	// Services: config entries win per operation
	if len(defaults.Services) > 0 {
		merged := make(map[string]string, len(defaults.Services)+len(result.Services))
		for op, url := range defaults.Services {
			merged[op] = url
		}
		for op, url := range result.Services {
			merged[op] = url
		}
		result.Services = merged
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv overlays environment variables onto the configuration. getenv is
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("MINIO_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v := getenv("MINIO_ACCESS_KEY"); v != "" {
		c.ObjectStore.AccessKey = v
	}
	if v := getenv("MINIO_SECRET_KEY"); v != "" {
		c.ObjectStore.SecretKey = v
	}
	if v := getenv("MINIO_BUCKET"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := getenv("MINIO_USE_SSL"); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MINIO_USE_SSL: %v", err)
		}
		c.ObjectStore.UseSSL = useSSL
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	return nil
}

// StageTimeout returns the default per-stage wait.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// RecheckDelay returns the polling interval for synchronous waits.
func (c *Config) RecheckDelay() time.Duration {
	return time.Duration(c.RecheckDelayMs) * time.Millisecond
}

// ServiceTimeout returns the HTTP timeout for extraction services.
func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.ServiceTimeoutSeconds) * time.Second
}
