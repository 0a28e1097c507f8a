package harness

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// AssertionError is returned when an assertion fails. It carries the tick
// trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Ticks    []TickTrace
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Ticks) > 0 {
		fmt.Fprintf(&buf, "\nTicks:\n")
		for _, t := range e.Ticks {
			fmt.Fprintf(&buf, "  [%d] enabled=%t result=%t\n", t.Tick, t.Enabled, t.Result)
			for _, s := range t.Systems {
				fmt.Fprintf(&buf, "      %s/%s %s\n", s.Phase, s.System, s.Status)
			}
		}
	}
	return buf.String()
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertRanBefore:
		return assertRanBefore(r, a)
	case AssertRunCount:
		return assertRunCount(r, a)
	case AssertSkipped:
		a.Status = StatusSkipped
		return assertStatus(r, a)
	case AssertStatus:
		return assertStatus(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// tickEvents splits the journal at tick markers. Index 0 holds events
// recorded before the first tick.
func tickEvents(events []string) [][]string {
	out := [][]string{nil}
	for _, e := range events {
		if strings.HasPrefix(e, tickMarker) {
			out = append(out, nil)
			continue
		}
		out[len(out)-1] = append(out[len(out)-1], e)
	}
	return out
}

// assertRanBefore checks that a.Before finished before a.After started.
// With no tick it checks every tick where both ran, and at least one must
// exist.
func assertRanBefore(r *Result, a Assertion) error {
	ticks := tickEvents(r.Events)
	fail := func(actual string) error {
		return &AssertionError{
			Type:     AssertRanBefore,
			Expected: fmt.Sprintf("%s finishes before %s starts%s", a.Before, a.After, inTick(a.Tick)),
			Actual:   actual,
			Ticks:    r.Ticks,
		}
	}

	checked := 0
	for n := 1; n < len(ticks); n++ {
		if a.Tick != 0 && n != a.Tick {
			continue
		}
		end := slices.Index(ticks[n], "end "+a.Before)
		start := slices.Index(ticks[n], "start "+a.After)
		if end < 0 || start < 0 {
			if a.Tick != 0 {
				return fail(fmt.Sprintf("tick %d: %s end=%t, %s start=%t", n, a.Before, end >= 0, a.After, start >= 0))
			}
			continue
		}
		if end > start {
			return fail(fmt.Sprintf("tick %d: %s started first", n, a.After))
		}
		checked++
	}
	if checked == 0 {
		return fail("the systems never ran in the same tick")
	}
	return nil
}

func assertRunCount(r *Result, a Assertion) error {
	count := 0
	for _, e := range r.Events {
		if e == "start "+a.System {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRunCount,
			Expected: fmt.Sprintf("%s runs %d times", a.System, a.Count),
			Actual:   fmt.Sprintf("ran %d times", count),
			Ticks:    r.Ticks,
		}
	}
	return nil
}

func assertStatus(r *Result, a Assertion) error {
	actual := "tick not run"
	if a.Tick >= 1 && a.Tick <= len(r.Ticks) {
		actual = r.Ticks[a.Tick-1].Status(a.System)
		if actual == a.Status {
			return nil
		}
		if actual == "" {
			actual = "absent"
		}
	}
	return &AssertionError{
		Type:     AssertStatus,
		Expected: fmt.Sprintf("%s is %s%s", a.System, a.Status, inTick(a.Tick)),
		Actual:   actual,
		Ticks:    r.Ticks,
	}
}

func inTick(n int) string {
	if n == 0 {
		return ""
	}
	return " in tick " + strconv.Itoa(n)
}
