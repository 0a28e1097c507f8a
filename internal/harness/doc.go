// Package harness runs scheduler conformance scenarios.
//
// A scenario declares phases, scripted systems and a sequence of ticks,
// runs them through a real Scheduler and job Handler, and checks the
// resulting tick trace against assertions and a golden snapshot.
//
// # Scenario Format
//
//	name: diamond
//	description: "dependents wait for every dependency"
//	workers: 2
//	phases: [Update, Render]
//	systems:
//	  - name: input
//	    phase: Update
//	  - name: physics
//	    phase: Update
//	    depends_on: [input]
//	ticks:
//	  - enabled: true
//	  - enabled: false
//	    expect: true
//	assertions:
//	  - type: ran_before
//	    before: input
//	    after: physics
//
// Systems use the same fields as the systems section of the scheduler
// configuration. Ticks default to enabled. A scenario that sets
// expect_error must fail registration with that ConfigError code and runs
// no ticks.
//
// # Assertion Types
//
//   - ran_before: before finished before after started, in tick (or in
//     every tick where both ran)
//   - run_count: system ran exactly count times over the scenario
//   - skipped: system was skipped in tick
//   - status: system ended tick with status (ok, false, skipped, panicked)
//
// # Golden Snapshots
//
// The snapshot lists, per tick, the focus state, the tick result and the
// status of every system in phase then declaration order. It does not
// depend on worker interleaving, so scenarios with workers compare
// deterministically. Regenerate with:
//
//	go test ./internal/harness -update
package harness
