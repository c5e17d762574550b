package chatflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/recovery"
	"github.com/aretw0/chatflow/internal/resolver"
	"github.com/aretw0/chatflow/internal/runtime"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/aretw0/chatflow/pkg/session"
)

// Engine runs conversations. Every inbound message goes through
// HandleTurn, which never lets a runtime fault reach the caller raw:
// failed turns are intercepted by the recovery subsystem and degrade to
// a usable result.
type Engine struct {
	sessions *session.Manager
	executor *runtime.Executor
	recovery *recovery.Subsystem

	registry *prometheus.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger

	store       ports.SessionStore
	locker      ports.DistributedLocker
	hook        ports.StageHook
	hookTimeout time.Duration

	sessionCfg  session.Config
	resolverCfg resolver.Config
	recoveryCfg recovery.Config
}

// Option configures the Engine.
type Option func(*Engine)

// WithStore replaces the default in-memory session store.
func WithStore(store ports.SessionStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithLocker adds a distributed lock layer for multi-instance
// deployments. Single-instance hosts can skip it; the in-process
// per-session locks still serialize turns.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = locker }
}

// WithStageHook wires the external funnel collaborator.
func WithStageHook(hook ports.StageHook) Option {
	return func(e *Engine) { e.hook = hook }
}

// WithHookTimeout bounds one stage hook invocation.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Engine) { e.hookTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSessionConfig tunes session lifecycle behavior.
func WithSessionConfig(cfg session.Config) Option {
	return func(e *Engine) { e.sessionCfg = cfg }
}

// WithResolverConfig tunes selection resolution.
func WithResolverConfig(cfg resolver.Config) Option {
	return func(e *Engine) { e.resolverCfg = cfg }
}

// WithRecoveryConfig tunes the error recovery subsystem.
func WithRecoveryConfig(cfg recovery.Config) Option {
	return func(e *Engine) { e.recoveryCfg = cfg }
}

// WithRegistry supplies the Prometheus registry metrics register on.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// New builds an Engine serving the given templates from the source.
func New(source ports.GraphSource, templates []string, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("a graph source is required")
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("at least one template id is required")
	}

	e := &Engine{
		registry:    prometheus.NewRegistry(),
		logger:      logging.NewNop(),
		resolverCfg: resolver.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.metrics = observability.NewMetrics(e.registry)
	if e.store == nil {
		e.store = memory.NewStore()
	}

	managerOpts := []session.Option{
		session.WithLogger(e.logger),
		session.WithMetrics(e.metrics),
	}
	if e.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(e.locker))
	}
	e.sessions = session.NewManager(e.store, e.sessionCfg, managerOpts...)

	executorOpts := []runtime.Option{
		runtime.WithLogger(e.logger),
		runtime.WithMetrics(e.metrics),
	}
	if e.hook != nil {
		executorOpts = append(executorOpts, runtime.WithStageHook(e.hook))
	}
	if e.hookTimeout > 0 {
		executorOpts = append(executorOpts, runtime.WithHookTimeout(e.hookTimeout))
	}
	e.executor = runtime.NewExecutor(e.sessions, source, templates, resolver.New(e.resolverCfg), executorOpts...)

	planLookup := func(ctx context.Context, templateID string) (*domain.CompiledPlan, error) {
		graph, err := source.GetGraph(ctx, templateID)
		if err != nil {
			return nil, err
		}
		return e.executor.Plans().GetOrCompile(graph)
	}
	e.recovery = recovery.NewSubsystem(e.sessions, planLookup, e.recoveryCfg,
		recovery.WithLogger(e.logger),
		recovery.WithMetrics(e.metrics))

	return e, nil
}

// HandleTurn processes one inbound message. It always returns a usable
// result for flow-level faults; the error return is reserved for
// conditions recovery itself could not absorb, which in practice means
// it is nil.
func (e *Engine) HandleTurn(ctx context.Context, userID, tenantID, text string) (*domain.TurnResult, error) {
	start := time.Now()

	result, checkpoint, err := e.turn(ctx, userID, tenantID, text)
	if err == nil {
		e.metrics.ObserveTurn("ok", time.Since(start).Seconds())
		return result, nil
	}

	result = e.recovery.Recover(ctx, recovery.Input{
		Err:        err,
		UserID:     userID,
		TenantID:   tenantID,
		Checkpoint: checkpoint,
		Retry: func(ctx context.Context) (*domain.TurnResult, *domain.Checkpoint, error) {
			return e.turn(ctx, userID, tenantID, text)
		},
	})
	e.metrics.ObserveTurn("recovered", time.Since(start).Seconds())
	return result, nil
}

// turn runs the executor with a panic guard so a crashing step becomes
// a recoverable fault instead of taking the process down.
func (e *Engine) turn(ctx context.Context, userID, tenantID, text string) (result *domain.TurnResult, checkpoint *domain.Checkpoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during turn: %v", r)
		}
	}()
	return e.executor.Turn(ctx, userID, tenantID, text)
}

// Session returns the session by id. An active session whose TTL has
// elapsed is soft-expired and surfaces as domain.ErrSessionExpired;
// already-ended sessions come back with their terminal status so
// callers can inspect how a conversation finished.
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Get(ctx, sessionID)
}

// Sessions lists every stored session for a user within a tenant.
func (e *Engine) Sessions(ctx context.Context, userID, tenantID string) ([]*domain.Session, error) {
	return e.sessions.ListByUser(ctx, userID, tenantID)
}

// EndSession terminates a session with the given reason. Critical data
// already captured stays on the stored record.
func (e *Engine) EndSession(ctx context.Context, sessionID string, reason domain.EndReason) error {
	return e.sessions.Expire(ctx, sessionID, reason)
}

// StartCleanup launches the background session sweeper. It stops when
// the context is cancelled.
func (e *Engine) StartCleanup(ctx context.Context) {
	e.sessions.StartCleanup(ctx)
}

// Registry exposes the Prometheus registry for the transport layer.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// SessionManager exposes the underlying manager for hosts that need
// lifecycle control beyond turns.
func (e *Engine) SessionManager() *session.Manager {
	return e.sessions
}
