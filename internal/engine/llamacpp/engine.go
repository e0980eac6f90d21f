// Package llamacpp runs the model behind a llama.cpp server and talks to it
// over its HTTP API. The server either runs as a supervised child process
// or, with ExternalURL set, is attached to as-is.
package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/localchat/component"
	"github.com/kbukum/localchat/httpclient"
	"github.com/kbukum/localchat/httpclient/rest"
	"github.com/kbukum/localchat/internal/engine"
	"github.com/kbukum/localchat/logger"
	"github.com/kbukum/localchat/process"
	"github.com/kbukum/localchat/resilience"
)

const (
	componentName  = "llm-engine"
	probeTimeout   = 2 * time.Second
	versionTimeout = 5 * time.Second
)

var errServerExited = errors.New("llama-server exited")

// Engine is an engine.Engine backed by llama-server.
type Engine struct {
	cfg Config
	log *logger.Logger

	api   *rest.Client
	probe *rest.Client

	mu      sync.RWMutex
	proc    *process.Handle
	cancel  context.CancelFunc
	ready   bool
	version string
}

var (
	_ engine.Engine         = (*Engine)(nil)
	_ engine.Streamer       = (*Engine)(nil)
	_ component.Component   = (*Engine)(nil)
	_ component.Describable = (*Engine)(nil)
)

// New validates cfg and prepares the HTTP clients. Nothing is spawned or
// contacted until Start.
func New(cfg Config, log *logger.Logger) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("llamacpp: %w", err)
	}
	if log == nil {
		log = logger.Get(componentName)
	}

	// Completions are not idempotent on the slot state, so they are never
	// retried. The breaker stops hammering a server that keeps failing.
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = httpclient.NoTimeout
	}
	api, err := rest.New(httpclient.Config{
		BaseURL:        cfg.BaseURL(),
		Timeout:        timeout,
		CircuitBreaker: httpclient.DefaultCircuitBreakerConfig(componentName),
	})
	if err != nil {
		return nil, fmt.Errorf("llamacpp: %w", err)
	}
	// The probe sees 503 for the whole model load, which must not trip a breaker.
	probe, err := rest.New(httpclient.Config{BaseURL: cfg.BaseURL(), Timeout: probeTimeout})
	if err != nil {
		return nil, fmt.Errorf("llamacpp: %w", err)
	}

	return &Engine{cfg: cfg, log: log, api: api, probe: probe}, nil
}

// Name implements component.Component.
func (e *Engine) Name() string { return componentName }

// Start spawns the server when managed and blocks until it reports ready,
// the startup timeout passes, or the child exits.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}

	if e.cfg.Managed() {
		if err := e.spawnLocked(); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := e.waitReady(ctx, e.proc); err != nil {
		e.shutdownLocked(context.WithoutCancel(ctx))
		return engine.Wrap(engine.OpLoad, err)
	}
	e.ready = true

	e.log.Info("Model loaded", logger.Fields(
		"model", filepath.Base(e.cfg.ModelPath),
		"url", e.cfg.BaseURL(),
		"context_size", e.cfg.ContextSize,
		"gpu_layers", e.cfg.GPULayers,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return nil
}

func (e *Engine) spawnLocked() error {
	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine.Wrap(engine.OpLoad, fmt.Errorf("%w: %s", engine.ErrModelNotFound, e.cfg.ModelPath))
		}
		return engine.Wrap(engine.OpLoad, err)
	}

	version, err := e.serverVersion()
	if err != nil {
		return engine.Wrap(engine.OpLoad, err)
	}
	e.version = version

	// The child outlives the Start call, so it gets its own context.
	procCtx, cancel := context.WithCancel(context.Background())
	serverLog := e.log.WithComponent("llama-server")
	proc, err := process.Start(procCtx, process.Command{
		Binary:      e.cfg.ServerBinary,
		Args:        e.cfg.serverArgs(),
		Stdout:      process.LineWriter(func(line string) { serverLog.Debug(line) }),
		Stderr:      process.LineWriter(func(line string) { serverLog.Debug(line) }),
		GracePeriod: e.cfg.StopGrace,
	})
	if err != nil {
		cancel()
		return engine.Wrap(engine.OpLoad, err)
	}

	e.proc, e.cancel = proc, cancel
	e.log.Info("llama-server started", logger.Fields(
		"pid", proc.Pid(),
		"binary", e.cfg.ServerBinary,
		"version", e.version,
		"args", strings.Join(e.cfg.serverArgs(), " "),
	))
	return nil
}

// serverVersion asks the binary for its build. A binary that cannot be
// found is an error; one that does not understand --version is not.
func (e *Engine) serverVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()

	res, err := process.Run(ctx, process.Command{
		Binary:      e.cfg.ServerBinary,
		Args:        []string{"--version"},
		GracePeriod: time.Second,
	})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return "", err
		}
		e.log.Debug("llama-server --version failed", logger.Fields("error", err))
		return "unknown", nil
	}
	return parseVersion(string(res.Stdout) + "\n" + string(res.Stderr)), nil
}

// parseVersion picks the "version: 4589 (abc123)" line llama.cpp tools print.
func parseVersion(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "version:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return "unknown"
}

// waitReady polls /health at HealthInterval. proc is nil for an external
// server.
func (e *Engine) waitReady(ctx context.Context, proc *process.Handle) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StartupTimeout)
	defer cancel()

	attempts := int(e.cfg.StartupTimeout/e.cfg.HealthInterval) + 1
	err := resilience.RetryFunc(ctx, resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: e.cfg.HealthInterval,
		MaxBackoff:     e.cfg.HealthInterval,
		BackoffFactor:  1,
		RetryIf: func(err error) bool {
			// 404 means whatever answers is not llama-server.
			return !errors.Is(err, errServerExited) && !httpclient.IsNotFound(err) && resilience.DefaultRetryIf(err)
		},
	}, func() error {
		if proc != nil && !proc.Running() {
			return fmt.Errorf("%w with code %d: %v", errServerExited, proc.ExitCode(), proc.Err())
		}
		return e.checkHealth(ctx)
	})
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("server not ready after %s: %w", e.cfg.StartupTimeout, err)
	}
	return err
}

func (e *Engine) checkHealth(ctx context.Context) error {
	resp, err := rest.Get[healthResponse](ctx, e.probe, "/health")
	if err != nil {
		if resp != nil && resp.Data.Error != nil {
			return fmt.Errorf("%w: %s", err, resp.Data.Error.Message)
		}
		return err
	}
	if resp.Data.Status != "" && resp.Data.Status != "ok" {
		return fmt.Errorf("server status %q", resp.Data.Status)
	}
	return nil
}

// Stop terminates a managed server. It is a no-op for an external one.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdownLocked(ctx)
}

func (e *Engine) shutdownLocked(ctx context.Context) error {
	e.ready = false
	if e.proc == nil {
		return nil
	}
	err := e.proc.Stop(ctx)
	if errors.Is(err, process.ErrNotRunning) {
		err = nil
	}
	e.cancel()
	e.log.Info("llama-server stopped", logger.Fields("uptime", e.proc.Uptime().Round(time.Second).String()))
	e.proc, e.cancel = nil, nil
	return err
}

// Health implements component.Component.
func (e *Engine) Health(ctx context.Context) component.Health {
	h := component.Health{Name: componentName, Status: component.StatusHealthy}

	e.mu.RLock()
	ready, proc := e.ready, e.proc
	e.mu.RUnlock()

	switch {
	case !ready:
		h.Status, h.Message = component.StatusUnhealthy, "model not loaded"
	case proc != nil && !proc.Running():
		h.Status, h.Message = component.StatusUnhealthy, "llama-server exited"
	default:
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := e.checkHealth(ctx); err != nil {
			h.Status, h.Message = component.StatusUnhealthy, err.Error()
		} else if e.api.HTTP().CircuitState() != resilience.StateClosed {
			h.Status, h.Message = component.StatusDegraded, "circuit "+e.api.HTTP().CircuitState().String()
		}
	}
	return h
}

// Describe implements component.Describable.
func (e *Engine) Describe() component.Description {
	e.mu.RLock()
	mode := "managed"
	if e.version != "" {
		mode += " " + e.version
	}
	e.mu.RUnlock()
	if !e.cfg.Managed() {
		mode = "external"
	}
	return component.Description{
		Name:    "llama.cpp",
		Type:    "engine",
		Details: fmt.Sprintf("%s ctx=%d ngl=%d %s %s", filepath.Base(e.cfg.ModelPath), e.cfg.ContextSize, e.cfg.GPULayers, mode, e.cfg.BaseURL()),
		Port:    e.cfg.Port,
	}
}

// ContextSize is the context window the server was configured with.
func (e *Engine) ContextSize() int { return e.cfg.ContextSize }

func (e *Engine) isReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Prime evaluates prefix into the configured slot without generating.
func (e *Engine) Prime(ctx context.Context, prefix string) (engine.CacheHandle, error) {
	if !e.isReady() {
		return engine.CacheHandle{}, engine.Wrap(engine.OpPrime, engine.ErrNotReady)
	}
	resp, err := rest.Post[completionResponse](ctx, e.api, "/completion", completionRequest{
		Prompt:      prefix,
		NPredict:    0,
		CachePrompt: true,
		IDSlot:      e.cfg.Slot,
	})
	if err != nil {
		return engine.CacheHandle{}, engine.Wrap(engine.OpPrime, err)
	}
	return engine.CacheHandle{
		Slot:         e.cfg.Slot,
		PrefixTokens: resp.Data.TokensEvaluated,
		PrimedAt:     time.Now(),
	}, nil
}

// Invoke completes req.Prompt on the slot named by req.Cache, falling back
// to the configured slot when no cache handle is given.
func (e *Engine) Invoke(ctx context.Context, req engine.Request) (engine.Completion, error) {
	if !e.isReady() {
		return engine.Completion{}, engine.Wrap(engine.OpInvoke, engine.ErrNotReady)
	}

	start := time.Now()
	resp, err := rest.Post[completionResponse](ctx, e.api, "/completion", e.completionFor(req, false))
	if err != nil {
		return engine.Completion{}, engine.Wrap(engine.OpInvoke, err)
	}
	return completion(resp.Data, resp.Data.Content, time.Since(start)), nil
}

// InvokeStream is Invoke with server-sent events. onToken sees each piece
// as llama-server emits it, with leading whitespace of the reply dropped.
func (e *Engine) InvokeStream(ctx context.Context, req engine.Request, onToken engine.TokenFunc) (engine.Completion, error) {
	if !e.isReady() {
		return engine.Completion{}, engine.Wrap(engine.OpInvoke, engine.ErrNotReady)
	}

	// DoStream has no client timeout, so an opt-in bound applies here.
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	stream, err := e.api.HTTP().DoStream(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/completion",
		Body:   e.completionFor(req, true),
	})
	if err != nil {
		return engine.Completion{}, engine.Wrap(engine.OpInvoke, err)
	}
	defer func() { _ = stream.Close() }()
	if stream.SSE == nil {
		return engine.Completion{}, engine.Wrap(engine.OpInvoke, errors.New("server did not stream the completion"))
	}

	var text strings.Builder
	for {
		ev, err := stream.SSE.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return engine.Completion{}, engine.Wrap(engine.OpInvoke, err)
		}
		var chunk completionResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return engine.Completion{}, engine.Wrap(engine.OpInvoke, fmt.Errorf("decode stream event: %w", err))
		}

		piece := chunk.Content
		if text.Len() == 0 {
			piece = strings.TrimLeft(piece, " \t\n")
		}
		if piece != "" {
			text.WriteString(piece)
			onToken(piece)
		}
		if chunk.Stop {
			return completion(chunk, text.String(), time.Since(start)), nil
		}
	}
}

func (e *Engine) completionFor(req engine.Request, stream bool) completionRequest {
	slot := e.cfg.Slot
	if !req.Cache.IsZero() {
		slot = req.Cache.Slot
	}
	s := req.Sampling
	return completionRequest{
		Prompt:      req.Prompt,
		NPredict:    s.MaxTokens,
		CachePrompt: true,
		IDSlot:      slot,
		Stop:        s.Stop,
		Temperature: &s.Temperature,
		TopK:        &s.TopK,
		TopP:        &s.TopP,
		Stream:      stream,
	}
}

func completion(d completionResponse, text string, took time.Duration) engine.Completion {
	return engine.Completion{
		Text:            strings.TrimSpace(text),
		PromptTokens:    d.TokensEvaluated,
		CachedTokens:    d.TokensCached,
		PredictedTokens: d.TokensPredicted,
		StopReason:      stopReason(d),
		Duration:        took,
	}
}

// CountTokens tokenizes text on the server.
func (e *Engine) CountTokens(ctx context.Context, text string) (int, error) {
	if !e.isReady() {
		return 0, engine.Wrap(engine.OpTokenize, engine.ErrNotReady)
	}
	resp, err := rest.Post[tokenizeResponse](ctx, e.api, "/tokenize", tokenizeRequest{Content: text})
	if err != nil {
		return 0, engine.Wrap(engine.OpTokenize, err)
	}
	return len(resp.Data.Tokens), nil
}

func stopReason(d completionResponse) engine.StopReason {
	switch {
	case d.StoppedWord:
		return engine.StopWord
	case d.StoppedEOS:
		return engine.StopEOS
	case d.StoppedLimit:
		return engine.StopLimit
	default:
		return engine.StopNone
	}
}
