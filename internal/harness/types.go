package harness

import "github.com/gents83/INOX-sub002/internal/schedule"

// System statuses in a tick trace.
const (
	StatusOK       = "ok"
	StatusFalse    = "false"
	StatusSkipped  = "skipped"
	StatusPanicked = "panicked"
)

func validStatus(s string) bool {
	switch s {
	case StatusOK, StatusFalse, StatusSkipped, StatusPanicked:
		return true
	}
	return false
}

func statusOf(run schedule.SystemRun) string {
	switch {
	case run.Skipped:
		return StatusSkipped
	case run.Panicked:
		return StatusPanicked
	case run.Result:
		return StatusOK
	default:
		return StatusFalse
	}
}

// SystemTrace is the outcome of one system in one tick.
type SystemTrace struct {
	Phase  string `json:"phase"`
	System string `json:"system"`
	Status string `json:"status"`
}

// TickTrace is the outcome of one tick.
type TickTrace struct {
	Tick    int           `json:"tick"`
	Enabled bool          `json:"enabled"`
	Result  bool          `json:"result"`
	Systems []SystemTrace `json:"systems"`
}

// Status returns the status of system in the tick, or "" if it is absent.
func (t TickTrace) Status(system string) string {
	for _, s := range t.Systems {
		if s.System == system {
			return s.Status
		}
	}
	return ""
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// RegistrationError is the ConfigError code registration failed with.
	RegistrationError string `json:"registration_error,omitempty"`

	Ticks []TickTrace `json:"ticks"`

	// Events is the lifecycle journal ("start physics", "end physics", ...)
	// in the order events happened.
	Events []string `json:"-"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Ticks:  []TickTrace{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
