package harness

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/gents83/INOX-sub002/internal/app"
	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/schedule"
	"github.com/gents83/INOX-sub002/internal/scripted"
)

const tickMarker = "tick "

// eventLog is the lifecycle journal shared by the scenario's systems.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) Record(event string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return int64(len(l.events))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// runRecorder collects the system runs of the current tick.
type runRecorder struct {
	mu   sync.Mutex
	runs []schedule.SystemRun
}

func (r *runRecorder) RecordSystemRun(_ context.Context, run schedule.SystemRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func (r *runRecorder) take() []schedule.SystemRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := r.runs
	r.runs = nil
	return runs
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh Scheduler, Handler and App. A returned error
// means the scenario could not be executed; expectation and assertion
// failures are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()
	events := &eventLog{}
	recorder := &runRecorder{}

	phases := scenario.Phases
	if len(phases) == 0 {
		phases = schedule.DefaultPhases()
	}
	sched, err := schedule.NewWithPhases(phases,
		schedule.WithLogger(logging.Discard()),
		schedule.WithRecorder(recorder),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	_, err = scripted.Register(sched, scenario.Systems, scripted.Options{Journal: events})
	if done := checkRegistration(scenario, err, result); done {
		return result, nil
	}

	handler := jobs.NewHandler(jobs.WithWorkers(scenario.Workers), jobs.WithLogger(logging.Discard()))
	a := app.New(
		app.WithScheduler(sched),
		app.WithHandler(handler),
		app.WithLogger(logging.Discard()),
		app.WithTokens(app.NewSequenceGenerator(scenario.Name)),
	)
	defer a.Shutdown()

	order := declarationOrder(phases, scenario)
	for i, step := range scenario.Ticks {
		n := i + 1
		a.SetEnabled(step.IsEnabled())
		events.Record(tickMarker + strconv.Itoa(n))
		ok := a.RunOnce(ctx)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scenario %s: tick %d: %w", scenario.Name, n, err)
		}

		tick := TickTrace{
			Tick:    n,
			Enabled: step.IsEnabled(),
			Result:  ok,
			Systems: traceSystems(recorder.take(), order),
		}
		result.Ticks = append(result.Ticks, tick)

		if step.Expect != nil && *step.Expect != ok {
			result.AddError((&AssertionError{
				Type:     "tick_result",
				Expected: fmt.Sprintf("tick %d returns %t", n, *step.Expect),
				Actual:   fmt.Sprintf("returned %t", ok),
				Ticks:    result.Ticks,
			}).Error())
		}
	}

	result.Events = events.snapshot()
	for _, assertion := range scenario.Assertions {
		if err := evaluate(result, assertion); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// checkRegistration compares the registration outcome with ExpectError.
// It reports whether the scenario is finished.
func checkRegistration(scenario *Scenario, err error, result *Result) bool {
	want := schedule.ConfigErrorCode(scenario.ExpectError)
	switch {
	case err == nil && want == "":
		return false
	case err == nil:
		result.AddError(fmt.Sprintf("registration succeeded, expected %s", want))
	case want == "":
		result.AddError(fmt.Sprintf("registration failed: %v", err))
	case schedule.HasCode(err, want):
		result.RegistrationError = string(want)
	default:
		result.AddError(fmt.Sprintf("registration failed with %v, expected %s", err, want))
	}
	return true
}

type systemKey struct {
	phase, system string
}

// declarationOrder ranks systems by phase order, then by declaration.
func declarationOrder(phases []string, scenario *Scenario) map[systemKey]int {
	order := make(map[systemKey]int, len(scenario.Systems))
	for pi, phase := range phases {
		for si, sys := range scenario.Systems {
			if sys.Phase == phase {
				order[systemKey{phase, sys.Name}] = pi*len(scenario.Systems) + si
			}
		}
	}
	return order
}

func traceSystems(runs []schedule.SystemRun, order map[systemKey]int) []SystemTrace {
	slices.SortStableFunc(runs, func(a, b schedule.SystemRun) int {
		return order[systemKey{a.Phase, a.System}] - order[systemKey{b.Phase, b.System}]
	})
	systems := make([]SystemTrace, 0, len(runs))
	for _, run := range runs {
		systems = append(systems, SystemTrace{Phase: run.Phase, System: run.System, Status: statusOf(run)})
	}
	return systems
}
