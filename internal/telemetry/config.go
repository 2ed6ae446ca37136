// Package telemetry sets up logging, metrics and tracing for the workbench.
package telemetry

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is console or json.
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is stdout or none.
	Exporter string `yaml:"exporter"`

	// SamplingRate is the trace sampling ratio between 0 and 1.
	SamplingRate float64 `yaml:"sampling_rate"`
}

// DefaultLogging logs human-readable lines to stderr.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "console", Output: "stderr"}
}
