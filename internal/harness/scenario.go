package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gents83/INOX-sub002/internal/config"
)

// Scenario defines a scheduler conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Workers sizes the job pool: 0 is cooperative, -1 the platform
	// policy.
	Workers int `yaml:"workers"`

	// Phases in execution order. Empty means the default phases.
	Phases []string `yaml:"phases,omitempty"`

	Systems []config.SystemConfig `yaml:"systems"`

	// Ticks run in order, one RunOnce each.
	Ticks []TickStep `yaml:"ticks"`

	// ExpectError is the ConfigError code registration must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// TickStep is one tick of a scenario.
type TickStep struct {
	// Enabled is the host focus state for the tick. Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
	// Expect is the required tick result, if set.
	Expect *bool `yaml:"expect,omitempty"`
}

// IsEnabled returns the focus state of the step.
func (s TickStep) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Assertion validates the tick trace.
type Assertion struct {
	// Type is one of ran_before, run_count, skipped or status.
	Type string `yaml:"type"`

	// Tick is 1-based. 0 means every tick (ran_before only).
	Tick int `yaml:"tick,omitempty"`

	// System is used by run_count, skipped and status.
	System string `yaml:"system,omitempty"`

	// Before and After are used by ran_before.
	Before string `yaml:"before,omitempty"`
	After  string `yaml:"after,omitempty"`

	// Count is used by run_count.
	Count int `yaml:"count,omitempty"`

	// Status is used by status.
	Status string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertRanBefore = "ran_before"
	AssertRunCount  = "run_count"
	AssertSkipped   = "skipped"
	AssertStatus    = "status"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Workers < -1 {
		return fmt.Errorf("workers must be -1 or more, got %d", s.Workers)
	}
	if s.ExpectError == "" && len(s.Ticks) == 0 {
		return errors.New("at least one tick is required")
	}

	declared := make(map[string]bool, len(s.Systems))
	for i, sys := range s.Systems {
		if sys.Name == "" {
			return fmt.Errorf("systems[%d]: name is required", i)
		}
		if sys.Phase == "" {
			return fmt.Errorf("systems[%d] (%s): phase is required", i, sys.Name)
		}
		declared[sys.Name] = true
	}

	known := func(i int, name string) error {
		if !declared[name] {
			return fmt.Errorf("assertions[%d]: unknown system %q", i, name)
		}
		return nil
	}
	for i, a := range s.Assertions {
		if a.Tick < 0 || a.Tick > len(s.Ticks) {
			return fmt.Errorf("assertions[%d]: tick %d out of range 1..%d", i, a.Tick, len(s.Ticks))
		}
		switch a.Type {
		case AssertRanBefore:
			if err := known(i, a.Before); err != nil {
				return err
			}
			if err := known(i, a.After); err != nil {
				return err
			}
		case AssertRunCount:
			if err := known(i, a.System); err != nil {
				return err
			}
		case AssertSkipped, AssertStatus:
			if err := known(i, a.System); err != nil {
				return err
			}
			if a.Tick == 0 {
				return fmt.Errorf("assertions[%d]: %s requires tick", i, a.Type)
			}
			if a.Type == AssertStatus && !validStatus(a.Status) {
				return fmt.Errorf("assertions[%d]: unknown status %q", i, a.Status)
			}
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}
