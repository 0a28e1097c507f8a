package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gents83/INOX-sub002/internal/app"
	"github.com/gents83/INOX-sub002/internal/config"
	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/schedule"
	"github.com/gents83/INOX-sub002/internal/scripted"
	"github.com/gents83/INOX-sub002/internal/sysconfig"
	"github.com/gents83/INOX-sub002/internal/trace"
)

// RunOptions holds flags for the run command. Flags that are set override
// the configuration file.
type RunOptions struct {
	*RootOptions
	Config   string
	Workers  int
	Ticks    uint64
	Interval time.Duration
	Trace    string
	Metrics  string
	Plugins  string

	// Tokens overrides the tick token generator (for testing).
	Tokens app.TokenGenerator
}

// RunSummary is the result of the run command.
type RunSummary struct {
	Ticks   uint64 `json:"ticks"`
	Systems int    `json:"systems"`
	Reason  string `json:"reason"`
	Trace   string `json:"trace,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tick the configured systems",
		Long: `Build the scheduler from a configuration file and tick it until a system
returns false, the tick limit is reached or the process is interrupted.

Example:
  inox run --config ./inox.yaml
  inox run --config ./inox.yaml --ticks 100 --trace ./trace.db
  inox run --config ./inox.yaml --metrics :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to the YAML configuration")
	cmd.Flags().IntVar(&opts.Workers, "workers", -1, "worker count (-1 platform policy, 0 cooperative)")
	cmd.Flags().Uint64Var(&opts.Ticks, "ticks", 0, "stop after this many ticks (0 = unbounded)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "minimum time between tick starts")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "path to the SQLite trace database")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.Plugins, "plugins", "", "directory of per-plugin system configuration")

	return cmd
}

func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			var le *config.LoadError
			if errors.As(err, &le) && le.Code == config.ErrCodeRead {
				return nil, WrapExitError(ExitCommandError, "failed to read config", err)
			}
			return nil, WrapExitError(ExitFailure, "invalid config", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("ticks") {
		cfg.Tick.Max = opts.Ticks
	}
	if flags.Changed("interval") {
		cfg.Tick.Interval = config.Duration(opts.Interval)
	}
	if flags.Changed("trace") {
		cfg.Trace.Path = opts.Trace
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Addr = opts.Metrics
	}
	if flags.Changed("plugins") {
		cfg.Plugins.Dir = opts.Plugins
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func runScheduler(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadRunConfig(opts, cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLoggerWithWriter(cfg.LogLevel(), cfg.Log.Format, cmd.ErrOrStderr())

	var recorder *trace.Recorder
	if cfg.Trace.Path != "" {
		store, err := trace.Open(cfg.Trace.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace database", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				logger.Error("error closing trace database", "error", closeErr)
			}
		}()
		recorder = trace.NewRecorder(store)
	}

	schedOpts := []schedule.Option{schedule.WithLogger(logger)}
	if recorder != nil {
		schedOpts = append(schedOpts, schedule.WithRecorder(recorder))
	}
	sched, err := schedule.NewWithPhases(cfg.Phases, schedOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid phases", err)
	}

	sysOpts := scripted.Options{}
	if cfg.Plugins.Dir != "" {
		sysOpts.Loader = &sysconfig.Loader{Dir: cfg.Plugins.Dir}
	}
	systems, err := scripted.Register(sched, cfg.Systems, sysOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register systems", err)
	}

	metrics := jobs.NewMetrics("inox")
	handler := jobs.NewHandler(
		jobs.WithWorkers(cfg.Workers),
		jobs.WithMetrics(metrics),
		jobs.WithLogger(logger),
	)

	appOpts := []app.Option{
		app.WithScheduler(sched),
		app.WithHandler(handler),
		app.WithLogger(logger),
		app.WithTokens(opts.Tokens),
		app.WithConfig(app.Config{Interval: cfg.Tick.Interval.Std(), MaxTicks: cfg.Tick.Max}),
	}
	if recorder != nil {
		appOpts = append(appOpts, app.WithRecorder(recorder))
	}
	a := app.New(appOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.Addr != "" {
		_, stop, err := serveMetrics(cfg.Metrics.Addr, metrics, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stop()
	}

	logger.Info("scheduler starting", "phases", len(cfg.Phases), "systems", len(systems),
		"workers", handler.Size(), "trace", cfg.Trace.Path)
	runErr := a.Run(ctx)
	a.Shutdown()

	summary := RunSummary{
		Ticks:   a.Frame(),
		Systems: len(systems),
		Reason:  stopReason(runErr, cfg.Tick.Max, a.Frame()),
		Trace:   cfg.Trace.Path,
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	return newFormatter(opts.RootOptions, cmd).Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Ran %d tick(s) of %d system(s): %s\n", summary.Ticks, summary.Systems, summary.Reason)
		if summary.Trace != "" {
			fmt.Fprintf(w, "Trace written to %s\n", summary.Trace)
		}
	})
}

func stopReason(runErr error, maxTicks, ticks uint64) string {
	switch {
	case runErr != nil:
		return "interrupted"
	case maxTicks > 0 && ticks >= maxTicks:
		return "tick limit reached"
	default:
		return "a system requested stop"
	}
}

// serveMetrics exposes the handler's registry on addr/metrics. It returns
// the bound address and a func that shuts the server down.
func serveMetrics(addr string, metrics *jobs.Metrics, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
