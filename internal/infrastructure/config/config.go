// Package config loads flyswarm configuration from YAML or TOML files and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// Tracing exporter names.
const (
	ExporterLog    = "log"
	ExporterOTel   = "otel"
	ExporterSQLite = "sqlite"
)

// Config is the complete flyswarm configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Swarm   SwarmConfig   `yaml:"swarm" toml:"swarm"`
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Path    string        `yaml:"-" toml:"-"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string `yaml:"addr" toml:"addr"`
	Region            string `yaml:"region" toml:"region"`
	Instance          string `yaml:"instance" toml:"instance"`
	Version           string `yaml:"version" toml:"version"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
}

// WorkerSpec is one roster entry.
type WorkerSpec struct {
	Type  string `yaml:"type" toml:"type"`
	Count int    `yaml:"count" toml:"count"`
}

// SwarmConfig configures the coordinator and its simulated collaborators.
type SwarmConfig struct {
	ID             string       `yaml:"id" toml:"id"`
	Objective      string       `yaml:"objective" toml:"objective"`
	QueenType      string       `yaml:"queen_type" toml:"queen_type"`
	Workers        []WorkerSpec `yaml:"workers" toml:"workers"`
	MinDelayMS     int          `yaml:"min_delay_ms" toml:"min_delay_ms"`
	MaxDelayMS     int          `yaml:"max_delay_ms" toml:"max_delay_ms"`
	FailureRate    float64      `yaml:"failure_rate" toml:"failure_rate"`
	ApprovalRate   float64      `yaml:"approval_rate" toml:"approval_rate"`
	VoteDelayMS    int          `yaml:"vote_delay_ms" toml:"vote_delay_ms"`
	VotingWindowMS int          `yaml:"voting_window_ms" toml:"voting_window_ms"`
}

// OTelConfig configures the OpenTelemetry exporter.
type OTelConfig struct {
	// Exporter is one of stdout, otlpgrpc or otlphttp.
	Exporter     string            `yaml:"exporter" toml:"exporter"`
	Endpoint     string            `yaml:"endpoint" toml:"endpoint"`
	Insecure     bool              `yaml:"insecure" toml:"insecure"`
	Headers      map[string]string `yaml:"headers" toml:"headers"`
	Sampler      string            `yaml:"sampler" toml:"sampler"`
	SamplerRatio float64           `yaml:"sampler_ratio" toml:"sampler_ratio"`
	ServiceName  string            `yaml:"service_name" toml:"service_name"`
}

// TracingConfig configures the trace sink.
type TracingConfig struct {
	Exporters       []string   `yaml:"exporters" toml:"exporters"`
	QueueSize       int        `yaml:"queue_size" toml:"queue_size"`
	ExportTimeoutMS int        `yaml:"export_timeout_ms" toml:"export_timeout_ms"`
	SQLitePath      string     `yaml:"sqlite_path" toml:"sqlite_path"`
	OTel            OTelConfig `yaml:"otel" toml:"otel"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the built-in configuration: one worker of each type,
// 2-5s simulated work, 70% approval, a 1s vote delay and a 30s voting window.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":3000",
			Region:            "local",
			Instance:          "local-dev",
			Version:           "1.0.0",
			ShutdownTimeoutMS: 10000,
		},
		Swarm: SwarmConfig{
			Objective: "distributed task processing",
			QueenType: "adaptive",
			Workers: []WorkerSpec{
				{Type: string(shared.WorkerTypeResearcher), Count: 1},
				{Type: string(shared.WorkerTypeCoder), Count: 1},
				{Type: string(shared.WorkerTypeAnalyst), Count: 1},
				{Type: string(shared.WorkerTypeTester), Count: 1},
			},
			MinDelayMS:     2000,
			MaxDelayMS:     5000,
			ApprovalRate:   0.7,
			VoteDelayMS:    1000,
			VotingWindowMS: 30000,
		},
		Tracing: TracingConfig{
			Exporters:       []string{ExporterLog},
			QueueSize:       1024,
			ExportTimeoutMS: 2000,
			SQLitePath:      "flyswarm-traces.db",
			OTel: OTelConfig{
				Exporter:     "stdout",
				Insecure:     true,
				Sampler:      "always_on",
				SamplerRatio: 1,
				ServiceName:  "flyswarm",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a config file on top of Default. Files ending in .toml are
// decoded as TOML, everything else as YAML. A leading ~ expands to the home
// directory.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode yaml config: %w", err)
		}
	}

	cfg.Path = resolved
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(path, "~")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

// ApplyEnv overrides fields from FLYSWARM_* variables. FLY_REGION and
// FLY_ALLOC_ID set the region and instance reported by the API, and PORT
// sets the listen port when FLYSWARM_ADDR is absent.
func (c *Config) ApplyEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Addr = ":" + port
	}
	setString("FLYSWARM_ADDR", &c.Server.Addr)
	setString("FLY_REGION", &c.Server.Region)
	setString("FLY_ALLOC_ID", &c.Server.Instance)

	setString("FLYSWARM_SWARM_ID", &c.Swarm.ID)
	setString("FLYSWARM_OBJECTIVE", &c.Swarm.Objective)
	setString("FLYSWARM_QUEEN_TYPE", &c.Swarm.QueenType)
	setInt("FLYSWARM_MIN_DELAY_MS", &c.Swarm.MinDelayMS)
	setInt("FLYSWARM_MAX_DELAY_MS", &c.Swarm.MaxDelayMS)
	setFloat("FLYSWARM_FAILURE_RATE", &c.Swarm.FailureRate)
	setFloat("FLYSWARM_APPROVAL_RATE", &c.Swarm.ApprovalRate)
	setInt("FLYSWARM_VOTE_DELAY_MS", &c.Swarm.VoteDelayMS)
	setInt("FLYSWARM_VOTING_WINDOW_MS", &c.Swarm.VotingWindowMS)

	if v := strings.TrimSpace(os.Getenv("FLYSWARM_TRACING_EXPORTERS")); v != "" {
		c.Tracing.Exporters = splitList(v)
	}
	setString("FLYSWARM_TRACE_DB", &c.Tracing.SQLitePath)
	setString("FLYSWARM_OTEL_EXPORTER", &c.Tracing.OTel.Exporter)
	setString("FLYSWARM_OTEL_ENDPOINT", &c.Tracing.OTel.Endpoint)
	setBool("FLYSWARM_OTEL_INSECURE", &c.Tracing.OTel.Insecure)
	setString("FLYSWARM_OTEL_SAMPLER", &c.Tracing.OTel.Sampler)
	setFloat("FLYSWARM_OTEL_SAMPLER_RATIO", &c.Tracing.OTel.SamplerRatio)
	if v := strings.TrimSpace(os.Getenv("FLYSWARM_OTEL_HEADERS")); v != "" {
		c.Tracing.OTel.Headers = ParseHeaders(v)
	}

	setString("FLYSWARM_LOG_LEVEL", &c.Logging.Level)
	setString("FLYSWARM_LOG_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}

// ParseHeaders parses comma separated key=value pairs, skipping malformed
// entries.
func ParseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && p != "none" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Swarm.Workers) == 0 {
		errs = append(errs, errors.New("swarm.workers must not be empty"))
	}
	for i, w := range c.Swarm.Workers {
		if !shared.WorkerType(w.Type).IsValid() {
			errs = append(errs, fmt.Errorf("swarm.workers[%d].type %q is unknown", i, w.Type))
		}
		if w.Count < 0 {
			errs = append(errs, fmt.Errorf("swarm.workers[%d].count must not be negative", i))
		}
	}
	// Both delays zero selects the executor defaults.
	useDefaults := c.Swarm.MinDelayMS == 0 && c.Swarm.MaxDelayMS == 0
	if !useDefaults && (c.Swarm.MinDelayMS < 1 || c.Swarm.MaxDelayMS < c.Swarm.MinDelayMS) {
		errs = append(errs, errors.New("swarm delays must satisfy 1 <= min_delay_ms <= max_delay_ms, or both be 0 for the defaults"))
	}
	if !inUnit(c.Swarm.FailureRate) {
		errs = append(errs, errors.New("swarm.failure_rate must be within [0, 1]"))
	}
	if !inUnit(c.Swarm.ApprovalRate) {
		errs = append(errs, errors.New("swarm.approval_rate must be within [0, 1]"))
	}
	if c.Swarm.VoteDelayMS < 0 || c.Swarm.VotingWindowMS < 0 {
		errs = append(errs, errors.New("swarm vote timings must not be negative"))
	}

	for _, name := range c.Tracing.Exporters {
		switch name {
		case ExporterLog, ExporterOTel, ExporterSQLite:
		default:
			errs = append(errs, fmt.Errorf("tracing.exporters: unknown exporter %q", name))
		}
		if name == ExporterSQLite && strings.TrimSpace(c.Tracing.SQLitePath) == "" {
			errs = append(errs, errors.New("tracing.sqlite_path is required for the sqlite exporter"))
		}
	}
	switch strings.ToLower(c.Tracing.OTel.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc", "grpc", "otlphttp", "http":
	default:
		errs = append(errs, fmt.Errorf("tracing.otel.exporter: unknown exporter %q", c.Tracing.OTel.Exporter))
	}
	if c.Tracing.QueueSize < 0 || c.Tracing.ExportTimeoutMS < 0 {
		errs = append(errs, errors.New("tracing queue_size and export_timeout_ms must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return shared.NewValidationError(err.Error(), nil)
	}
	return nil
}

func inUnit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

// WorkerRoster converts the worker specs to the coordinator's parallel slices.
func (s SwarmConfig) WorkerRoster() ([]shared.WorkerType, []int) {
	types := make([]shared.WorkerType, len(s.Workers))
	counts := make([]int, len(s.Workers))
	for i, w := range s.Workers {
		types[i] = shared.WorkerType(w.Type)
		counts[i] = w.Count
	}
	return types, counts
}

// MinDelay returns the lower simulated execution bound.
func (s SwarmConfig) MinDelay() time.Duration { return ms(s.MinDelayMS) }

// MaxDelay returns the upper simulated execution bound.
func (s SwarmConfig) MaxDelay() time.Duration { return ms(s.MaxDelayMS) }

// VoteDelay returns the delay before votes are collected.
func (s SwarmConfig) VoteDelay() time.Duration { return ms(s.VoteDelayMS) }

// VotingWindow returns the advisory proposal deadline.
func (s SwarmConfig) VotingWindow() time.Duration { return ms(s.VotingWindowMS) }

// ExportTimeout returns the per-event export timeout.
func (t TracingConfig) ExportTimeout() time.Duration { return ms(t.ExportTimeoutMS) }

// ShutdownTimeout returns the graceful shutdown bound.
func (s ServerConfig) ShutdownTimeout() time.Duration { return ms(s.ShutdownTimeoutMS) }

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
