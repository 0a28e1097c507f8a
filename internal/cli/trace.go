package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gents83/INOX-sub002/internal/trace"
)

// TraceOptions holds flags shared by the trace subcommands.
type TraceOptions struct {
	*RootOptions
	Database string
}

// TickView is the output form of a stored tick.
type TickView struct {
	Token    string    `json:"token"`
	Number   uint64    `json:"number"`
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Enabled  bool      `json:"enabled"`
	Result   bool      `json:"result"`
	Runs     []RunView `json:"runs,omitempty"`
}

// RunView is the output form of a stored system run.
type RunView struct {
	Seq      int    `json:"seq"`
	Phase    string `json:"phase"`
	System   string `json:"system"`
	SystemID string `json:"system_id"`
	Duration string `json:"duration"`
	Status   string `json:"status"`
}

// StatsView is the output form of per-system statistics.
type StatsView struct {
	Phase    string `json:"phase"`
	System   string `json:"system"`
	Runs     int    `json:"runs"`
	Skipped  int    `json:"skipped"`
	Failures int    `json:"failures"`
	Panics   int    `json:"panics"`
	Mean     string `json:"mean"`
	Max      string `json:"max"`
}

// NewTraceCommand creates the trace command and its subcommands.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded ticks",
		Long: `Read the tick trace written by "inox run --trace".

Examples:
  inox trace list --db ./trace.db --limit 20
  inox trace show --db ./trace.db 42
  inox trace show --db ./trace.db 0192f3c4-...
  inox trace stats --db ./trace.db --format json
  inox trace prune --db ./trace.db --keep 1000`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite trace database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newTraceListCommand(opts))
	cmd.AddCommand(newTraceShowCommand(opts))
	cmd.AddCommand(newTraceStatsCommand(opts))
	cmd.AddCommand(newTracePruneCommand(opts))
	return cmd
}

func newTraceListCommand(opts *TraceOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the most recent ticks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *trace.Store) error {
				ticks, err := st.ListTicks(cmd.Context(), limit)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list ticks", err)
				}
				views := make([]TickView, 0, len(ticks))
				for _, t := range ticks {
					views = append(views, tickView(t, nil))
				}
				return newFormatter(opts.RootOptions, cmd).Success(views, func(w io.Writer) {
					printTicks(w, views)
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of ticks to list (0 = all)")
	return cmd
}

func newTraceShowCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <tick-number|token>",
		Short:         "Show the system runs of one tick",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *trace.Store) error {
				tick, runs, err := readTick(cmd.Context(), st, args[0])
				if errors.Is(err, sql.ErrNoRows) {
					return NewExitError(ExitFailure, fmt.Sprintf("tick %s not found", args[0]))
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read tick", err)
				}
				view := tickView(tick, runs)
				return newFormatter(opts.RootOptions, cmd).Success(view, func(w io.Writer) {
					printTick(w, view)
				})
			})
		},
	}
}

func newTraceStatsCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Aggregate run statistics per system",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *trace.Store) error {
				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "failed to compute stats", err)
				}
				views := make([]StatsView, 0, len(stats))
				for _, s := range stats {
					views = append(views, StatsView{
						Phase:    s.Phase,
						System:   s.System,
						Runs:     s.Runs,
						Skipped:  s.Skipped,
						Failures: s.Failures,
						Panics:   s.Panics,
						Mean:     s.Mean().String(),
						Max:      s.Max.String(),
					})
				}
				return newFormatter(opts.RootOptions, cmd).Success(views, func(w io.Writer) {
					printStats(w, views)
				})
			})
		},
	}
}

func newTracePruneCommand(opts *TraceOptions) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:           "prune",
		Short:         "Delete all but the most recent ticks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return NewExitError(ExitCommandError, "--keep must not be negative")
			}
			return withStore(opts, func(st *trace.Store) error {
				deleted, err := st.Prune(cmd.Context(), keep)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to prune", err)
				}
				data := map[string]int64{"deleted": deleted}
				return newFormatter(opts.RootOptions, cmd).Success(data, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %d tick(s)\n", deleted)
				})
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 1000, "number of most recent ticks to keep")
	return cmd
}

// withStore opens an existing trace database for fn.
func withStore(opts *TraceOptions, fn func(*trace.Store) error) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "trace database not found", err)
	}
	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()
	return fn(st)
}

// readTick looks ref up as a tick number first, then as a token.
func readTick(ctx context.Context, st *trace.Store, ref string) (trace.Tick, []trace.Run, error) {
	if n, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return st.ReadTickByNumber(ctx, n)
	}
	return st.ReadTick(ctx, ref)
}

func tickView(t trace.Tick, runs []trace.Run) TickView {
	v := TickView{
		Token:    t.Token,
		Number:   t.Number,
		Started:  t.Started,
		Duration: t.Duration.String(),
		Enabled:  t.Enabled,
		Result:   t.Result,
	}
	for _, r := range runs {
		v.Runs = append(v.Runs, RunView{
			Seq:      r.Seq,
			Phase:    r.Phase,
			System:   r.System,
			SystemID: r.SystemID,
			Duration: r.Duration.String(),
			Status:   runStatus(r),
		})
	}
	return v
}

func runStatus(r trace.Run) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Panicked:
		return "panicked"
	case r.Result:
		return "ok"
	default:
		return "false"
	}
}

func printTicks(w io.Writer, ticks []TickView) {
	if len(ticks) == 0 {
		fmt.Fprintln(w, "No ticks recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tTOKEN\tDURATION\tENABLED\tRESULT")
	for _, t := range ticks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\n", t.Number, t.Token, t.Duration, t.Enabled, t.Result)
	}
	tw.Flush()
}

func printTick(w io.Writer, t TickView) {
	fmt.Fprintf(w, "Tick %d (%s)\n", t.Number, t.Token)
	fmt.Fprintf(w, "  started: %s  duration: %s  enabled: %t  result: %t\n",
		t.Started.Format(time.RFC3339Nano), t.Duration, t.Enabled, t.Result)
	if len(t.Runs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SEQ\tPHASE\tSYSTEM\tDURATION\tSTATUS")
	for _, r := range t.Runs {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", r.Seq, r.Phase, r.System, r.Duration, r.Status)
	}
	tw.Flush()
}

func printStats(w io.Writer, stats []StatsView) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSYSTEM\tRUNS\tSKIPPED\tFAILURES\tPANICS\tMEAN\tMAX")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Phase, s.System, s.Runs, s.Skipped, s.Failures, s.Panics, s.Mean, s.Max)
	}
	tw.Flush()
}
