package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/localchat/component"
	"github.com/kbukum/localchat/logger"
)

const defaultGracefulTimeout = 15 * time.Second

// App is a service with a typed config C and a managed set of components.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger
	Summary    *Summary

	gracefulTimeout time.Duration
	onConfigure     []func(ctx context.Context, app *App[C]) error
	onStart         []Hook
	onReady         []Hook
	onStop          []Hook
}

// NewApp applies defaults to cfg, validates it and sets up logging.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	base := cfg.GetServiceConfig()
	o := resolveOptions(opts)

	log := o.logger
	if log == nil {
		logger.Init(base.Logging)
		log = logger.GetGlobalLogger()
	}

	timeout := o.gracefulTimeout
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	out := o.summaryOut
	if out == nil {
		out = os.Stdout
	}

	return &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		Components:      component.NewRegistry(log),
		Logger:          log,
		Summary:         NewSummary(base.Name, base.Version, out),
		gracefulTimeout: timeout,
	}, nil
}

// RegisterComponent adds a component to the application's registry.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// OnConfigure registers a callback for the configure phase, which runs
// after the components are up. Business-layer wiring belongs here.
func (a *App[C]) OnConfigure(fn func(ctx context.Context, app *App[C]) error) {
	a.onConfigure = append(a.onConfigure, fn)
}

// ReadyCheck reports every component that is not healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var errs []error
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		if h.Message != "" {
			errs = append(errs, fmt.Errorf("%s is %s: %s", h.Name, h.Status, h.Message))
		} else {
			errs = append(errs, fmt.Errorf("%s is %s", h.Name, h.Status))
		}
	}
	return errors.Join(errs...)
}

// Run starts the application, blocks until SIGINT, SIGTERM or ctx is done,
// then shuts down gracefully. Signals are handled from the start, so an
// interrupt during a slow component start unwinds what was started instead
// of killing the process.
func (a *App[C]) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(sigCtx); err != nil {
		if sigCtx.Err() != nil {
			a.Logger.Info("Startup interrupted", map[string]interface{}{logger.FieldError: err})
		}
		return err
	}

	<-sigCtx.Done()
	stop()
	if ctx.Err() == nil {
		a.Logger.Info("Shutdown signal received")
	} else {
		a.Logger.Info("Context canceled, shutting down")
	}

	return a.Shutdown(context.WithoutCancel(ctx))
}

// Start runs the startup sequence without blocking: components, OnStart
// hooks, configure callbacks, ready check, OnReady hooks, summary.
func (a *App[C]) Start(ctx context.Context) error {
	begin := time.Now()
	a.Logger.Info("Starting application", map[string]interface{}{
		"name":    a.Name,
		"version": a.Version,
	})

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	if err := runHooks(ctx, "start", a.onStart); err != nil {
		return a.abort(ctx, err)
	}
	for _, fn := range a.onConfigure {
		if err := fn(ctx, a); err != nil {
			return a.abort(ctx, fmt.Errorf("configure: %w", err))
		}
	}

	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", map[string]interface{}{logger.FieldError: err})
	}
	if err := runHooks(ctx, "ready", a.onReady); err != nil {
		return a.abort(ctx, err)
	}

	a.Summary.SetStartupDuration(time.Since(begin))
	a.Summary.Display(ctx, a.Components)
	a.Logger.Info("Application ready")
	return nil
}

// abort stops the already started components after a failed startup.
func (a *App[C]) abort(ctx context.Context, cause error) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.gracefulTimeout)
	defer cancel()
	if err := a.Components.StopAll(stopCtx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Shutdown runs the OnStop hooks and stops all components in reverse
// order, bounded by the graceful timeout.
func (a *App[C]) Shutdown(ctx context.Context) error {
	a.Logger.Info("Shutting down application", map[string]interface{}{
		"timeout": a.gracefulTimeout.String(),
	})
	ctx, cancel := context.WithTimeout(ctx, a.gracefulTimeout)
	defer cancel()

	var errs []error
	if err := runHooks(ctx, "stop", a.onStop); err != nil {
		a.Logger.Error("Stop hook failed", map[string]interface{}{logger.FieldError: err})
		errs = append(errs, err)
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown completed with errors", map[string]interface{}{logger.FieldError: err})
		errs = append(errs, err)
	}

	a.Logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}
