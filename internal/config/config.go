package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/dify-migration-workbench/internal/telemetry"
)

// EndpointConfig is one Dify instance in the config file.
type EndpointConfig struct {
	Label    string `yaml:"label"`
	BaseURL  string `yaml:"base_url" validate:"required,http_url"`
	APIKey   string `yaml:"api_key" validate:"required,min=10"`
	Email    string `yaml:"email" validate:"required_with=Password,omitempty,email"`
	Password string `yaml:"password" validate:"required_with=Email,omitempty,min=6"`
	Insecure bool   `yaml:"insecure"`
}

// HasConsoleCredentials reports whether the workflow lane can log in.
func (e EndpointConfig) HasConsoleCredentials() bool {
	return e.Email != "" && e.Password != ""
}

// MigrationConfig holds the migration switches.
type MigrationConfig struct {
	SkipExisting     bool          `yaml:"skip_existing"`
	AutoCreate       bool          `yaml:"auto_create"`
	Mode             string        `yaml:"mode" validate:"oneof=streaming buffered batch"`
	IncludeSecrets   bool          `yaml:"include_secrets"`
	DedupOnReuse     bool          `yaml:"dedup_on_reuse"`
	Parallel         bool          `yaml:"parallel"`
	Exclude          []string      `yaml:"exclude"`
	PageSize         int           `yaml:"page_size" validate:"min=1,max=100"`
	AppPageSize      int           `yaml:"app_page_size" validate:"min=1,max=100"`
	SegmentBatchSize int           `yaml:"segment_batch_size" validate:"min=1"`
	MaxPages         int           `yaml:"max_pages" validate:"min=1"`
	RetryAttempts    int           `yaml:"retry_attempts" validate:"min=1"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RateLimit        float64       `yaml:"rate_limit"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ImportTimeout    time.Duration `yaml:"import_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
}

// Config holds all configuration (config file, .env, environment).
type Config struct {
	Sources   []EndpointConfig        `yaml:"sources" validate:"required,min=1,dive"`
	Target    EndpointConfig          `yaml:"target"`
	Migration MigrationConfig         `yaml:"migration"`
	ExportDir string                  `yaml:"export_dir"`
	Server    ServerConfig            `yaml:"server"`
	Logging   telemetry.LoggingConfig `yaml:"logging"`
	Metrics   telemetry.MetricsConfig `yaml:"metrics"`
	Tracing   telemetry.TracingConfig `yaml:"tracing"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Migration: MigrationConfig{
			SkipExisting:     true,
			AutoCreate:       true,
			Mode:             "streaming",
			DedupOnReuse:     true,
			PageSize:         20,
			AppPageSize:      30,
			SegmentBatchSize: 50,
			MaxPages:         10000,
			RetryAttempts:    3,
			RetryDelay:       2 * time.Second,
			RateLimit:        2,
			RequestTimeout:   30 * time.Second,
			ImportTimeout:    60 * time.Second,
		},
		ExportDir: "export_data",
		Server:    ServerConfig{Listen: ":8080", DBPath: "workbench.db"},
		Logging:   telemetry.DefaultLogging(),
		Metrics:   telemetry.MetricsConfig{Enabled: true},
		Tracing:   telemetry.TracingConfig{Exporter: "none", SamplingRate: 1},
	}
}

// LoadOptions says where configuration comes from.
type LoadOptions struct {
	File    string // optional YAML (or JSON) file
	EnvFile string // optional dotenv file, defaults to .env when present
}

// Load reads configuration with precedence: environment variables, then the
// dotenv file, then the config file, then defaults. The result is validated.
func Load(opts LoadOptions) (*Config, error) {
	c := Default()
	if opts.File != "" {
		if err := c.loadFile(opts.File); err != nil {
			return nil, err
		}
	}

	env, err := newEnv(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(env); err != nil {
		return nil, err
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadFile reads a YAML config file over the current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// env looks variables up in the process environment first, then in the
// dotenv file. The process environment is never modified.
type env struct {
	dotenv map[string]string
}

func newEnv(path string) (env, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return env{}, nil
		}
		return env{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return env{dotenv: vals}, nil
}

func (e env) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e.dotenv[key]
}

// getOrFile returns key, or the trimmed contents of the file named by key_FILE.
func (e env) getOrFile(key string) (string, error) {
	if v := e.get(key); v != "" {
		return v, nil
	}
	path := e.get(key + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s_FILE: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Config) applyEnv(e env) error {
	keys, err := e.getOrFile("SOURCE_API_KEYS")
	if err != nil {
		return err
	}
	if keys == "" {
		if keys, err = e.getOrFile("SOURCE_API_KEY"); err != nil {
			return err
		}
	}
	srcPassword, err := e.getOrFile("SOURCE_PASSWORD")
	if err != nil {
		return err
	}
	if base := e.get("SOURCE_BASE_URL"); base != "" || keys != "" {
		// Environment sources replace the file's: one source per key.
		if base == "" && len(c.Sources) > 0 {
			base = c.Sources[0].BaseURL
		}
		c.Sources = nil
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k == "" {
				continue
			}
			c.Sources = append(c.Sources, EndpointConfig{
				BaseURL:  base,
				APIKey:   k,
				Email:    e.get("SOURCE_EMAIL"),
				Password: srcPassword,
			})
		}
	}

	if v := e.get("TARGET_BASE_URL"); v != "" {
		c.Target.BaseURL = v
	}
	if v, err := e.getOrFile("TARGET_API_KEY"); err != nil {
		return err
	} else if v != "" {
		c.Target.APIKey = v
	}
	if v := e.get("TARGET_EMAIL"); v != "" {
		c.Target.Email = v
	}
	if v, err := e.getOrFile("TARGET_PASSWORD"); err != nil {
		return err
	} else if v != "" {
		c.Target.Password = v
	}

	m := &c.Migration
	for key, dst := range map[string]*bool{
		"MIGRATION_SKIP_EXISTING":   &m.SkipExisting,
		"MIGRATION_AUTO_CREATE":     &m.AutoCreate,
		"MIGRATION_INCLUDE_SECRETS": &m.IncludeSecrets,
		"MIGRATION_DEDUP_ON_REUSE":  &m.DedupOnReuse,
		"MIGRATION_PARALLEL":        &m.Parallel,
	} {
		if v := e.get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	if v := e.get("MIGRATION_MODE"); v != "" {
		m.Mode = v
	}
	if v := e.get("MIGRATION_EXCLUDE"); v != "" {
		m.Exclude = splitList(v)
	}
	if v := e.get("MIGRATION_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MIGRATION_RATE_LIMIT: %w", err)
		}
		m.RateLimit = f
	}
	if v := e.get("EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	if v := e.get("WORKBENCH_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := e.get("WORKBENCH_DB"); v != "" {
		c.Server.DBPath = v
	}
	if v := e.get("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := e.get("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalize trims values and labels unnamed sources source-1, source-2, ...
func (c *Config) normalize() {
	trim := func(e *EndpointConfig) {
		e.BaseURL = strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
		e.APIKey = strings.TrimSpace(e.APIKey)
		e.Email = strings.TrimSpace(e.Email)
	}
	for i := range c.Sources {
		trim(&c.Sources[i])
		if c.Sources[i].Label == "" {
			c.Sources[i].Label = fmt.Sprintf("source-%d", i+1)
		}
	}
	trim(&c.Target)
	if c.Target.Label == "" {
		c.Target.Label = "target"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and formats.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", describe(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	seen := map[string]bool{}
	for _, s := range c.Sources {
		if seen[s.Label] {
			return fmt.Errorf("invalid configuration: duplicate source label %q", s.Label)
		}
		seen[s.Label] = true
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "required_with":
			msgs = append(msgs, fmt.Sprintf("%s is required when %s is set", field, fe.Param()))
		case "http_url":
			msgs = append(msgs, field+" must be an http:// or https:// URL")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "email":
			msgs = append(msgs, field+" must be an email address")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// WorkflowEnabled reports whether the workflow lane has credentials on the
// target and on at least one source.
func (c *Config) WorkflowEnabled() bool {
	if !c.Target.HasConsoleCredentials() {
		return false
	}
	for _, s := range c.Sources {
		if s.HasConsoleCredentials() {
			return true
		}
	}
	return false
}
