// Package config loads the scheduler configuration: a YAML document
// checked against an embedded CUE schema, then decoded into Config and
// cross-checked (phase names, system references).
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/schedule"
)

//go:embed schema.cue
var schemaCUE string

// Config is the scheduler configuration.
type Config struct {
	// Workers is the worker pool size: -1 selects the platform policy,
	// 0 cooperative mode.
	Workers int           `yaml:"workers"`
	Log     LogConfig     `yaml:"log"`
	Phases  []string      `yaml:"phases"`
	Tick    TickConfig    `yaml:"tick"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
	Plugins PluginsConfig `yaml:"plugins"`
	// Systems are scripted systems run by the CLI.
	Systems []SystemConfig `yaml:"systems"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TickConfig struct {
	Interval Duration `yaml:"interval"`
	Max      uint64   `yaml:"max"`
}

type TraceConfig struct {
	// Path of the SQLite trace database. Empty disables tracing.
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	// Addr serves Prometheus metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

type PluginsConfig struct {
	// Dir holds per-plugin system configuration files.
	Dir string `yaml:"dir"`
}

// SystemConfig describes a scripted system.
type SystemConfig struct {
	Name         string   `yaml:"name"`
	Phase        string   `yaml:"phase"`
	DependsOn    []string `yaml:"depends_on"`
	Priority     string   `yaml:"priority"`
	Work         Duration `yaml:"work"`
	Result       *bool    `yaml:"result"`
	StopAfter    int      `yaml:"stop_after"`
	RunUnfocused bool     `yaml:"run_unfocused"`
	Panic        bool     `yaml:"panic"`
	Plugin       string   `yaml:"plugin"`
}

// Returns reports the value Run returns; true unless result is set.
func (s SystemConfig) Returns() bool {
	return s.Result == nil || *s.Result
}

// JobPriority parses Priority. Empty means Medium.
func (s SystemConfig) JobPriority() (jobs.Priority, error) {
	return jobs.ParsePriority(s.Priority)
}

// Duration is a time.Duration written as a Go duration string ("16ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Workers: -1,
		Log:     LogConfig{Level: "info", Format: "text"},
		Phases:  schedule.DefaultPhases(),
	}
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	return logging.ParseLevel(c.Log.Level)
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeRead, Message: err.Error()}
	}
	return Parse(path, data)
}

// Parse validates data against the schema and decodes it over Default().
// filename is used in error positions.
func Parse(filename string, data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	if err := Validate(filename, data); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Code: ErrCodeSyntax, Message: err.Error()}
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// check enforces the rules the schema cannot express.
func (c *Config) check() error {
	phases := make(map[string]bool, len(c.Phases))
	for _, p := range c.Phases {
		if phases[p] {
			return &LoadError{Code: ErrCodeDuplicatePhase, Message: fmt.Sprintf("phase %q listed twice", p), Path: "phases"}
		}
		phases[p] = true
	}

	type key struct{ phase, name string }
	seen := make(map[key]bool, len(c.Systems))
	for i, s := range c.Systems {
		path := fmt.Sprintf("systems[%d]", i)
		if !phases[s.Phase] {
			return &LoadError{Code: ErrCodeUnknownPhase, Message: fmt.Sprintf("system %q uses unknown phase %q", s.Name, s.Phase), Path: path}
		}
		for _, dep := range s.DependsOn {
			if !seen[key{s.Phase, dep}] {
				return &LoadError{
					Code:    ErrCodeUnknownDependency,
					Message: fmt.Sprintf("system %q depends on %q, which is not declared earlier in phase %q", s.Name, dep, s.Phase),
					Path:    path,
				}
			}
		}
		k := key{s.Phase, s.Name}
		if seen[k] {
			return &LoadError{Code: ErrCodeDuplicateSystem, Message: fmt.Sprintf("system %q declared twice in phase %q", s.Name, s.Phase), Path: path}
		}
		seen[k] = true
	}
	return nil
}
