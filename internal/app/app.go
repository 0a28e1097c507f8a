// Package app is the host application context: it owns the Scheduler, the
// job Handler and the id counter, and drives ticks until a system asks to
// stop.
package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gents83/INOX-sub002/internal/jobs"
	"github.com/gents83/INOX-sub002/internal/logging"
	"github.com/gents83/INOX-sub002/internal/schedule"
	"github.com/gents83/INOX-sub002/internal/trace"
	"github.com/gents83/INOX-sub002/internal/uid"
)

// Config holds loop configuration.
type Config struct {
	// Interval is the minimum time between tick starts. 0 ticks back to back.
	Interval time.Duration
	// MaxTicks stops Run after that many ticks. 0 means unbounded.
	MaxTicks uint64
}

// App is the host application context.
//
// Thread-safety: SetEnabled, NextName and the accessors are safe from any
// goroutine. RunOnce, Run and Shutdown are called by the host goroutine.
type App struct {
	scheduler *schedule.Scheduler
	handler   *jobs.Handler
	names     *uid.Counter
	ticks     *uid.Counter
	tokens    TokenGenerator
	recorder  *trace.Recorder
	logger    *slog.Logger
	config    Config

	enabled     atomic.Bool
	canContinue atomic.Bool
	startOnce   sync.Once
}

// Option configures an App.
type Option func(*App)

// WithScheduler uses s instead of a scheduler with the default phases.
func WithScheduler(s *schedule.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

// WithHandler uses h instead of a handler sized by the platform policy.
func WithHandler(h *jobs.Handler) Option {
	return func(a *App) { a.handler = h }
}

// WithLogger sets the logger of the app and of the components it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTokens sets the tick token generator. Defaults to UUIDv7Generator.
func WithTokens(g TokenGenerator) Option {
	return func(a *App) {
		if g != nil {
			a.tokens = g
		}
	}
}

// WithRecorder writes every tick to a trace recorder. When the app creates
// its own scheduler the recorder also receives system runs.
func WithRecorder(r *trace.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithConfig sets the loop configuration.
func WithConfig(cfg Config) Option {
	return func(a *App) { a.config = cfg }
}

// New creates an app. It starts enabled.
func New(opts ...Option) *App {
	a := &App{
		names:  uid.NewCounter(),
		ticks:  uid.NewCounter(),
		tokens: UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.handler == nil {
		a.handler = jobs.NewHandler(jobs.WithLogger(a.logger))
	}
	if a.scheduler == nil {
		schedOpts := []schedule.Option{
			schedule.WithLogger(a.logger),
			schedule.WithTickCounter(a.ticks),
		}
		if a.recorder != nil {
			schedOpts = append(schedOpts, schedule.WithRecorder(a.recorder))
		}
		a.scheduler = schedule.NewWithDefaultPhases(schedOpts...)
	}
	a.logger = a.logger.With("component", "app")
	a.enabled.Store(true)
	return a
}

// Scheduler returns the app's scheduler.
func (a *App) Scheduler() *schedule.Scheduler {
	return a.scheduler
}

// Handler returns the app's job handler.
func (a *App) Handler() *jobs.Handler {
	return a.handler
}

// SetEnabled records the host focus state. It takes effect at the next
// tick: disabled ticks run only systems that run while unfocused, and the
// worker pool is stopped until the app is enabled again.
func (a *App) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// IsEnabled returns the focus state last set.
func (a *App) IsEnabled() bool {
	return a.enabled.Load()
}

// NextName returns a unique name with the given prefix, e.g. "plugin_3".
func (a *App) NextName(prefix string) string {
	return a.names.Name(prefix)
}

// Frame returns the number of completed ticks.
func (a *App) Frame() uint64 {
	return a.scheduler.Ticks()
}

// Start brings up the job handler and initializes every registered system.
// RunOnce starts the app on first use.
func (a *App) Start() {
	a.startOnce.Do(func() {
		a.handler.Start(&a.canContinue)
		a.scheduler.Start()
	})
}

// RunOnce executes one tick and reports whether the host should keep
// going.
//
// The tick runs with a context logger carrying the tick token. After the
// scheduler has run, the worker pool is reconciled with the focus state
// (which also drains background jobs in cooperative mode) and the tick is
// written to the recorder, if any.
func (a *App) RunOnce(ctx context.Context) bool {
	a.Start()

	token := a.tokens.Generate()
	enabled := a.enabled.Load()
	started := time.Now()
	logger := a.logger.With("token", token)
	ctx = logging.WithLogger(ctx, logger)

	if a.recorder != nil {
		a.recorder.BeginTick(token, enabled, started)
	}

	ok := a.scheduler.RunOnce(ctx, enabled, a.handler)
	a.handler.UpdateWorkers(enabled)

	if a.recorder != nil {
		if err := a.recorder.EndTick(ctx, a.scheduler.Ticks(), ok); err != nil {
			logger.Warn("tick trace not written", "error", err)
		}
	}
	logger.Debug("tick finished", "tick", a.scheduler.Ticks(), "enabled", enabled,
		"continue", ok, "duration", time.Since(started))
	return ok
}

// Run ticks until a tick returns false, MaxTicks is reached or ctx is
// done. It returns ctx.Err() when ctx ended the loop, nil otherwise.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("app loop started", "interval", a.config.Interval, "max_ticks", a.config.MaxTicks)

	var tick <-chan time.Time
	if a.config.Interval > 0 {
		ticker := time.NewTicker(a.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := uint64(1); ; n++ {
		if err := ctx.Err(); err != nil {
			a.logger.Info("app loop stopping (context cancelled)", "ticks", n-1)
			return err
		}
		if !a.RunOnce(ctx) {
			a.logger.Info("app loop stopping (a system requested stop)", "ticks", n)
			return nil
		}
		if a.config.MaxTicks > 0 && n >= a.config.MaxTicks {
			a.logger.Info("app loop stopping (max ticks reached)", "ticks", n)
			return nil
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				a.logger.Info("app loop stopping (context cancelled)", "ticks", n)
				return ctx.Err()
			case <-tick:
			}
		}
	}
}

// Shutdown uninitializes every system and stops the worker pool.
func (a *App) Shutdown() {
	a.scheduler.Uninit()
	a.handler.Stop()
	a.logger.Info("app shut down", "ticks", a.scheduler.Ticks())
}
