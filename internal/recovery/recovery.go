package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/session"
)

// Outcome names the terminal state of one recovery attempt.
type Outcome string

const (
	OutcomeRecovered Outcome = "recovered"
	OutcomeFallback  Outcome = "fallback"
	OutcomeEmergency Outcome = "emergency"
	OutcomeRetried   Outcome = "retried"
)

// PlanLookup resolves the compiled plan for a template. The recovery
// subsystem validates rollback targets against it.
type PlanLookup func(ctx context.Context, templateID string) (*domain.CompiledPlan, error)

// Config tunes the recovery subsystem.
type Config struct {
	// MaxRetries bounds re-execution attempts for retryable faults.
	MaxRetries int

	// RetryBackoff is the base delay between retries; the delay grows
	// linearly with the attempt number.
	RetryBackoff time.Duration

	// ActionTimeout bounds each individual rollback action.
	ActionTimeout time.Duration

	// SafeNodeID is the rollback target used when no node from the
	// session's history survives in the plan. Empty means fall back to
	// the plan's entry step.
	SafeNodeID string

	// UserMessage is shown to the user after a successful recovery.
	UserMessage string

	// EmergencyMessage is shown when even the fallback path fails.
	EmergencyMessage string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 2 * time.Second
	}
	if c.UserMessage == "" {
		c.UserMessage = "Lo siento, tuve un problema con tu último mensaje. Retomemos donde estábamos."
	}
	if c.EmergencyMessage == "" {
		c.EmergencyMessage = "Lo siento, algo salió mal. Tus datos están guardados; intenta de nuevo en un momento."
	}
	return c
}

// Input carries everything the subsystem knows about a failed turn.
type Input struct {
	Err      error
	UserID   string
	TenantID string

	// Checkpoint is the pre-turn snapshot the executor took before
	// mutating anything. May be nil when the fault happened before a
	// session was loaded.
	Checkpoint *domain.Checkpoint

	// Retry re-executes the original turn. Nil disables retries.
	Retry func(ctx context.Context) (*domain.TurnResult, *domain.Checkpoint, error)
}

// preserved is the critical-data snapshot taken before any rollback
// action runs. It is built from the pre-fault checkpoint when one
// exists, so a fault that corrupted the live session cannot corrupt
// the snapshot.
type preserved struct {
	lead      *domain.Lead
	collected map[string]any
}

func (p preserved) criticalValues() map[string]string {
	out := map[string]string{}
	if p.lead == nil {
		return out
	}
	if p.lead.Name != "" {
		out["name"] = p.lead.Name
	}
	if p.lead.Phone != "" {
		out["phone"] = p.lead.Phone
	}
	if p.lead.Email != "" {
		out["email"] = p.lead.Email
	}
	return out
}

// action is one step of a rollback plan.
type action struct {
	name     string
	optional bool
	run      func(ctx context.Context, working *domain.Session) error
}

// Subsystem turns runtime faults into graceful degradation. Every
// failed turn flows through Recover, which always produces a result
// for the user; raw errors never escape it.
type Subsystem struct {
	sessions *session.Manager
	plans    PlanLookup
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subsystem) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires recovery outcome counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Subsystem) { s.metrics = m }
}

// WithSleep replaces the retry backoff sleeper. Tests use this to run
// without real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Subsystem) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewSubsystem builds a recovery subsystem over the session manager.
func NewSubsystem(sessions *session.Manager, plans PlanLookup, cfg Config, opts ...Option) *Subsystem {
	s := &Subsystem{
		sessions: sessions,
		plans:    plans,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recover handles one failed turn. It never returns an error and never
// panics: in the worst case it degrades to an emergency fallback result.
func (s *Subsystem) Recover(ctx context.Context, in Input) (result *domain.TurnResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic inside recovery, emergency fallback",
				slog.Any("panic", r))
			s.observe(OutcomeEmergency)
			result = s.emergencyResult(in)
		}
	}()

	class := Classify(in.Err)
	s.logger.Warn("turn failed, entering recovery",
		slog.String("type", string(class.Type)),
		slog.String("severity", string(class.Severity)),
		slog.Bool("critical_data", class.AffectsCriticalData),
		slog.String("error", class.Message))

	if class.Retryable && in.Retry != nil {
		if res := s.retry(ctx, in); res != nil {
			return res
		}
	}

	snapshot := s.preserveCritical(in)

	if in.Checkpoint == nil {
		// Nothing to roll back to; hand the user a fresh-start fallback.
		s.observe(OutcomeFallback)
		return s.fallbackResult(in, "")
	}

	working, err := s.rollback(ctx, in, snapshot)
	if err != nil {
		s.logger.Error("rollback failed, degrading to fallback",
			slog.String("session_id", in.Checkpoint.SessionID),
			slog.String("error", err.Error()))
		return s.fallback(ctx, in, snapshot)
	}

	if err := s.validate(ctx, working, snapshot); err != nil {
		s.logger.Error("recovered state failed validation, degrading to fallback",
			slog.String("session_id", working.ID),
			slog.String("error", err.Error()))
		return s.fallback(ctx, in, snapshot)
	}

	s.observe(OutcomeRecovered)
	s.logger.Info("session recovered",
		slog.String("session_id", working.ID),
		slog.String("node_id", working.CurrentNodeID),
		slog.String("type", string(class.Type)))

	return &domain.TurnResult{
		SessionID: working.ID,
		Messages:  []domain.Message{{Text: s.cfg.UserMessage, Options: working.OfferedOptions}},
		Recovered: true,
		Success:   true,
	}
}

// retry re-runs the original turn with linear backoff. A nil return
// means every attempt failed and the caller should proceed to rollback.
func (s *Subsystem) retry(ctx context.Context, in Input) *domain.TurnResult {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.sleep(ctx, time.Duration(attempt)*s.cfg.RetryBackoff); err != nil {
			return nil
		}
		res, _, err := in.Retry(ctx)
		if err == nil {
			s.observe(OutcomeRetried)
			s.logger.Info("turn succeeded on retry",
				slog.Int("attempt", attempt))
			res.Recovered = true
			return res
		}
		s.logger.Warn("retry failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return nil
}

// preserveCritical snapshots the lead bag and collected data before any
// rollback touches the session. The checkpoint is preferred because it
// predates the fault.
func (s *Subsystem) preserveCritical(in Input) preserved {
	p := preserved{collected: map[string]any{}}
	if in.Checkpoint != nil && in.Checkpoint.Session != nil {
		src := in.Checkpoint.Session
		p.lead = src.Lead.Clone()
		for k, v := range src.CollectedData {
			p.collected[k] = v
		}
	}
	return p
}

// rollback builds and executes the rollback plan against a working copy
// of the session. The first mandatory action failure aborts the plan;
// optional actions may fail without aborting.
func (s *Subsystem) rollback(ctx context.Context, in Input, snapshot preserved) (*domain.Session, error) {
	working := s.loadWorking(ctx, in)
	plan, err := s.plans(ctx, working.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("resolving plan for rollback: %w", err)
	}

	actions := s.buildPlan(plan, snapshot)
	for _, a := range actions {
		actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
		err := a.run(actx, working)
		cancel()
		if err == nil {
			continue
		}
		if a.optional {
			s.logger.Warn("optional rollback action failed",
				slog.String("action", a.name),
				slog.String("error", err.Error()))
			continue
		}
		return nil, fmt.Errorf("rollback action %s: %w", a.name, err)
	}
	return working, nil
}

// loadWorking returns the most current view of the faulted session: the
// live store copy when it is still readable, otherwise the checkpoint.
func (s *Subsystem) loadWorking(ctx context.Context, in Input) *domain.Session {
	live, err := s.sessions.Store().Load(ctx, in.Checkpoint.SessionID)
	if err == nil {
		return live.Clone()
	}
	return in.Checkpoint.Session.Clone()
}

func (s *Subsystem) buildPlan(plan *domain.CompiledPlan, snapshot preserved) []action {
	return []action{
		{
			name: "restore-critical-data",
			run: func(_ context.Context, working *domain.Session) error {
				working.Lead = snapshot.lead.Clone()
				return nil
			},
		},
		{
			name: "restore-step",
			run: func(_ context.Context, working *domain.Session) error {
				return s.restoreStep(plan, working)
			},
		},
		{
			name:     "restore-collected-data",
			optional: true,
			run: func(_ context.Context, working *domain.Session) error {
				if working.CollectedData == nil {
					working.CollectedData = map[string]any{}
				}
				for k, v := range snapshot.collected {
					if _, ok := working.CollectedData[k]; !ok {
						working.CollectedData[k] = v
					}
				}
				return nil
			},
		},
		{
			name: "persist",
			run: func(actx context.Context, working *domain.Session) error {
				return s.sessions.Save(actx, working)
			},
		},
	}
}

// restoreStep rewinds the session to the most recent history node that
// still exists in the plan, then the configured safe node, then the
// plan's entry step.
func (s *Subsystem) restoreStep(plan *domain.CompiledPlan, working *domain.Session) error {
	target := ""
	for i := len(working.History) - 1; i >= 0; i-- {
		if plan.Step(working.History[i].NodeID) != nil {
			target = working.History[i].NodeID
			break
		}
	}
	if target == "" && s.cfg.SafeNodeID != "" && plan.Step(s.cfg.SafeNodeID) != nil {
		target = s.cfg.SafeNodeID
	}
	if target == "" {
		if len(plan.Steps) == 0 {
			return errors.New("plan has no steps to rewind to")
		}
		target = plan.Steps[0].NodeID
	}

	step := plan.Step(target)
	working.CurrentNodeID = target
	working.Status = domain.SessionActive
	working.EndReason = ""
	if step.WaitsForReply && len(step.Options) > 0 {
		working.OfferedOptions = append([]domain.Option(nil), step.Options...)
	} else {
		working.OfferedOptions = nil
	}
	return nil
}

// validate round-trips the persisted session and checks that every
// preserved critical value survived the rollback and that the restored
// step exists in the plan.
func (s *Subsystem) validate(ctx context.Context, working *domain.Session, snapshot preserved) error {
	stored, err := s.sessions.Store().Load(ctx, working.ID)
	if err != nil {
		return fmt.Errorf("reloading recovered session: %w", err)
	}
	want := snapshot.criticalValues()
	got := map[string]string{}
	if stored.Lead != nil {
		got["name"] = stored.Lead.Name
		got["phone"] = stored.Lead.Phone
		got["email"] = stored.Lead.Email
	}
	for key, value := range want {
		if got[key] != value {
			return fmt.Errorf("critical value %s lost during rollback", key)
		}
	}
	plan, err := s.plans(ctx, stored.TemplateID)
	if err != nil {
		return fmt.Errorf("resolving plan for validation: %w", err)
	}
	if plan.Step(stored.CurrentNodeID) == nil {
		return fmt.Errorf("recovered node %s not in plan", stored.CurrentNodeID)
	}
	return nil
}

// fallback resets the session to its checkpoint state with critical
// data reapplied. It is best-effort: a failure here degrades further
// to the emergency result, which touches nothing.
func (s *Subsystem) fallback(ctx context.Context, in Input, snapshot preserved) *domain.TurnResult {
	working := in.Checkpoint.Session.Clone()
	working.Lead = snapshot.lead.Clone()
	working.Status = domain.SessionActive
	working.EndReason = ""
	if err := s.sessions.Save(ctx, working); err != nil {
		s.logger.Error("fallback save failed, emergency fallback",
			slog.String("session_id", working.ID),
			slog.String("error", err.Error()))
		s.observe(OutcomeEmergency)
		return s.emergencyResult(in)
	}
	s.observe(OutcomeFallback)
	return s.fallbackResult(in, working.ID)
}

func (s *Subsystem) fallbackResult(in Input, sessionID string) *domain.TurnResult {
	if sessionID == "" && in.Checkpoint != nil {
		sessionID = in.Checkpoint.SessionID
	}
	return &domain.TurnResult{
		SessionID: sessionID,
		Messages:  []domain.Message{{Text: s.cfg.UserMessage}},
		Recovered: true,
		Success:   true,
	}
}

// emergencyResult is the last line of defense: a static apology with no
// store interaction at all. Whatever was durably persisted before the
// fault stays untouched.
func (s *Subsystem) emergencyResult(in Input) *domain.TurnResult {
	sessionID := ""
	if in.Checkpoint != nil {
		sessionID = in.Checkpoint.SessionID
	}
	return &domain.TurnResult{
		SessionID: sessionID,
		Messages:  []domain.Message{{Text: s.cfg.EmergencyMessage}},
		Recovered: true,
		Success:   false,
	}
}

func (s *Subsystem) observe(outcome Outcome) {
	if s.metrics != nil {
		s.metrics.ObserveRecovery(string(outcome))
	}
}
