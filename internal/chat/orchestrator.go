// Package chat runs a user message through validation, history truncation,
// prompt caching and inference, and exposes it over HTTP.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/kbukum/localchat/errors"
	"github.com/kbukum/localchat/internal/conversation"
	"github.com/kbukum/localchat/internal/engine"
	"github.com/kbukum/localchat/internal/prompt"
	"github.com/kbukum/localchat/internal/promptcache"
	"github.com/kbukum/localchat/logger"
	"github.com/kbukum/localchat/observability"
	"github.com/kbukum/localchat/resilience"
	"github.com/kbukum/localchat/util"
	"github.com/kbukum/localchat/validation"
)

// Reply is the outcome of one successful exchange.
type Reply struct {
	Text string `json:"response"`

	UserTurn      conversation.Turn `json:"-"`
	AssistantTurn conversation.Turn `json:"-"`
	HistoryTurns  int               `json:"-"`
	DroppedTurns  int               `json:"-"`
	Completion    engine.Completion `json:"-"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics records request, inference and truncation metrics on m.
func WithMetrics(m *observability.ChatMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver reports every state transition to fn.
func WithObserver(fn StateObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithCounter overrides the token counter chosen by Config.TokenCounter.
func WithCounter(c prompt.Counter) Option {
	return func(o *Orchestrator) { o.counter = c }
}

// Orchestrator owns the session and serializes access to the engine.
type Orchestrator struct {
	cfg         Config
	contextSize int

	session  *conversation.Session
	engine   engine.Engine
	cache    *promptcache.Controller
	counter  prompt.Counter
	bulkhead *resilience.Bulkhead

	log      *logger.Logger
	metrics  *observability.ChatMetrics
	observer StateObserver
}

// New creates an orchestrator with a fresh session. contextSize is the
// engine's context window in tokens; the prompt plus the generation budget
// must fit in it.
func New(cfg Config, eng engine.Engine, contextSize int, opts ...Option) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if contextSize <= cfg.Generation.MaxTokens {
		return nil, errors.New("chat: context size must exceed generation.max_tokens")
	}

	o := &Orchestrator{cfg: cfg, contextSize: contextSize, engine: eng}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get("chat")
	}
	if o.counter == nil {
		if cfg.TokenCounter == CounterEstimate {
			o.counter = prompt.CharEstimator{CharsPerToken: cfg.CharsPerToken}
		} else {
			o.counter = eng
		}
	}

	o.session = conversation.NewSession(cfg.Instruction, conversation.WithMaxTurns(cfg.MaxTurns))
	o.cache = promptcache.New(eng, promptcache.WithLogger(o.log.WithComponent("promptcache")), promptcache.WithMetrics(o.metrics))
	o.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "engine",
		MaxConcurrent: 1,
		Block:         cfg.BusyPolicy == BusyBlock,
		OnReject: func(_ string, err error) {
			if errors.Is(err, resilience.ErrBulkheadFull) || errors.Is(err, resilience.ErrBulkheadTimeout) {
				o.metrics.RecordBusy(context.Background())
			}
		},
	})
	return o, nil
}

// Session returns the conversation the orchestrator appends to.
func (o *Orchestrator) Session() *conversation.Session { return o.session }

// Cache returns the prompt cache controller.
func (o *Orchestrator) Cache() *promptcache.Controller { return o.cache }

// Warm primes the prompt cache with the instruction prefix so the first
// request does not pay for it. A failure is logged and left for the first
// request to retry.
func (o *Orchestrator) Warm(ctx context.Context) error {
	return o.bulkhead.Execute(ctx, func() error {
		_, err := o.cache.EnsureCached(context.WithoutCancel(ctx), o.cfg.Template.Prefix(o.session.Instruction))
		return err
	})
}

// Handle answers message. Errors are *errors.AppError. The history is only
// changed when a reply is returned.
func (o *Orchestrator) Handle(ctx context.Context, message string) (Reply, error) {
	return o.handle(ctx, message, nil)
}

// HandleStream is Handle with the reply delivered to onToken as it is
// generated. Engines that cannot stream deliver the whole reply at once.
// onToken runs while the engine slot is held and must not block for long.
// A reply that fails after some pieces were delivered is not stored.
func (o *Orchestrator) HandleStream(ctx context.Context, message string, onToken engine.TokenFunc) (Reply, error) {
	if onToken == nil {
		onToken = func(string) {}
	}
	return o.handle(ctx, message, onToken)
}

func (o *Orchestrator) handle(ctx context.Context, message string, onToken engine.TokenFunc) (reply Reply, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "chat.handle",
		attribute.String(observability.AttrSessionID, o.session.ID),
		attribute.String(observability.AttrRequestID, logger.RequestIDFromContext(ctx)),
		attribute.Bool(observability.AttrStream, onToken != nil),
	)
	t := o.track(ctx)
	defer func() {
		code := "ok"
		if err != nil {
			appErr := toAppError(err)
			code = string(appErr.Code)
			err = appErr
			t.enter(StateErrored)
			o.logFailure(ctx, appErr)
		}
		o.metrics.RecordRequest(ctx, code, time.Since(start))
		observability.EndSpan(span, err)
	}()

	t.enter(StateReceived)
	text, err := o.validate(message)
	if err != nil {
		return Reply{}, err
	}
	t.enter(StateValidated)

	reply, err = resilience.ExecuteWithResult(o.bulkhead, ctx, func() (Reply, error) {
		return o.exchange(ctx, t, text, onToken)
	})
	if err != nil {
		return Reply{}, err
	}
	t.enter(StateResponded)

	if o.cfg.LogConversation {
		o.log.WithContext(ctx).Info("Conversation", logger.Fields(
			"user", util.Truncate(text, 500),
			"bot", util.Truncate(reply.Text, 500),
		))
	}
	return reply, nil
}

func (o *Orchestrator) validate(message string) (string, error) {
	text := strings.TrimSpace(message)
	if appErr := validation.New().
		Required("message", text).
		UTF8("message", text).
		MaxBytes("message", text, o.cfg.MaxMessageBytes).
		NoControl("message", text).
		Validate(); appErr != nil {
		return "", appErr
	}
	return text, nil
}

// exchange runs with the engine slot held. Engine calls are detached from
// the caller's cancellation: the server cannot be interrupted mid-request,
// and letting go of the slot while it still computes would overlap the next
// request with this one.
func (o *Orchestrator) exchange(ctx context.Context, t *tracker, text string, onToken engine.TokenFunc) (Reply, error) {
	engineCtx := context.WithoutCancel(ctx)
	instruction := o.session.Instruction
	store := o.session.Store

	measure := prompt.Measure(o.cfg.Template, o.counter, instruction, text)
	window, err := store.TruncateToBudget(engineCtx, o.contextSize, o.cfg.Generation.MaxTokens, measure)
	if err != nil {
		return Reply{}, err
	}
	if window.Dropped > 0 {
		o.metrics.RecordDroppedTurns(ctx, window.Dropped)
		o.log.WithContext(ctx).Info("History truncated to fit context window", logger.Fields(
			"dropped_turns", window.Dropped,
			"kept_turns", len(window.Kept),
			"prompt_tokens", window.Tokens,
		))
	}
	snap := o.cfg.Template.Build(instruction, window.Kept, text)
	t.enter(StatePromptBuilt)

	handle, err := o.ensureCached(engineCtx, instruction)
	if err != nil {
		return Reply{}, err
	}
	t.enter(StateCacheResolved)

	completion, err := o.invoke(engineCtx, snap, handle, onToken)
	if err != nil {
		return Reply{}, err
	}
	t.enter(StateInferred)

	stored, err := store.Commit(window,
		conversation.UserMessage(text),
		conversation.AssistantMessage(completion.Text),
	)
	if err != nil {
		return Reply{}, err
	}
	t.enter(StatePersisted)

	return Reply{
		Text:          completion.Text,
		UserTurn:      stored[0],
		AssistantTurn: stored[1],
		HistoryTurns:  snap.HistoryTurns,
		DroppedTurns:  window.Dropped,
		Completion:    completion,
	}, nil
}

func (o *Orchestrator) ensureCached(ctx context.Context, instruction string) (engine.CacheHandle, error) {
	ctx, span := observability.StartSpan(ctx, "chat.ensure_cached")
	_, wasCached := o.cache.Current()
	handle, err := o.cache.EnsureCached(ctx, o.cfg.Template.Prefix(instruction))
	span.SetAttributes(attribute.Bool(observability.AttrCacheHit, wasCached && err == nil))
	observability.EndSpan(span, err)
	return handle, err
}

func (o *Orchestrator) invoke(ctx context.Context, snap prompt.Snapshot, handle engine.CacheHandle, onToken engine.TokenFunc) (engine.Completion, error) {
	ctx, span := observability.StartSpan(ctx, "chat.invoke",
		attribute.Int(observability.AttrHistoryTurns, snap.HistoryTurns),
	)

	start := time.Now()
	req := engine.Request{Prompt: snap.Text, Cache: handle, Sampling: o.cfg.Generation}
	var (
		c   engine.Completion
		err error
	)
	if streamer, ok := o.engine.(engine.Streamer); ok && onToken != nil {
		c, err = streamer.InvokeStream(ctx, req, onToken)
	} else {
		c, err = o.engine.Invoke(ctx, req)
		if err == nil && onToken != nil && strings.TrimSpace(c.Text) != "" {
			onToken(strings.TrimSpace(c.Text))
		}
	}
	if err == nil {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			err = engine.ErrEmptyCompletion
		}
	}
	err = engine.Wrap(engine.OpInvoke, err)
	o.metrics.RecordInference(ctx, time.Since(start), c.PromptTokens, err == nil)

	span.SetAttributes(attribute.Int(observability.AttrPromptTokens, c.PromptTokens))
	observability.EndSpan(span, err)
	if err != nil {
		return engine.Completion{}, err
	}

	o.log.WithContext(ctx).Debug("Completion", logger.Fields(
		"prompt_tokens", c.PromptTokens,
		"cached_tokens", c.CachedTokens,
		"predicted_tokens", c.PredictedTokens,
		"stop", string(c.StopReason),
		logger.FieldDuration, c.Duration.Milliseconds(),
	))
	return c, nil
}

func (o *Orchestrator) logFailure(ctx context.Context, appErr *apperrors.AppError) {
	log := o.log.WithContext(ctx)
	fields := logger.Fields("code", string(appErr.Code))
	if appErr.Cause != nil {
		fields["error"] = appErr.Cause
	}
	if appErr.HTTPStatus >= 500 {
		log.Error(appErr.Message, fields)
		return
	}
	log.Warn(appErr.Message, fields)
}

// toAppError maps domain errors onto the client-facing error codes.
func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	var overflow *conversation.OverflowError
	switch {
	case errors.As(err, &overflow):
		return apperrors.ContextOverflow(overflow.Required, overflow.Budget)
	case errors.Is(err, resilience.ErrBulkheadFull), errors.Is(err, resilience.ErrBulkheadTimeout):
		return apperrors.EngineBusy()
	case engine.IsEngineError(err):
		return apperrors.EngineError(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("waiting for the engine").WithCause(err)
	default:
		return apperrors.Internal(err)
	}
}

// tracker follows one request through its states.
type tracker struct {
	ctx      context.Context
	id       string
	state    State
	log      *logger.Logger
	observer StateObserver
}

func (o *Orchestrator) track(ctx context.Context) *tracker {
	return &tracker{
		ctx:      ctx,
		id:       logger.RequestIDFromContext(ctx),
		log:      o.log,
		observer: o.observer,
	}
}

func (t *tracker) enter(to State) {
	from := t.state
	if from != "" && !from.CanTransition(to) {
		t.log.Error("Illegal chat state transition", logger.Fields("from", string(from), "to", string(to)))
		return
	}
	t.state = to
	observability.AddEvent(t.ctx, "chat.state", attribute.String(observability.AttrState, string(to)))
	if t.observer != nil {
		t.observer(t.id, from, to)
	}
}
