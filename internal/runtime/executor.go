// Package runtime drives conversational turns over compiled plans. One
// call to HandleTurn is one atomic unit: load session, compute, persist,
// return. Per-session locks in the session manager serialize turns.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/resolver"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/aretw0/chatflow/pkg/session"
)

// Executor runs one conversational turn at a time per session.
type Executor struct {
	sessions *session.Manager
	plans    *compiler.Cache
	source   ports.GraphSource
	resolver *resolver.Resolver

	// templates lists the template IDs this executor serves, in entry
	// matching order.
	templates []string

	hook        ports.StageHook
	hookTimeout time.Duration

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures the Executor.
type Option func(*Executor)

// WithStageHook wires the external funnel collaborator.
func WithStageHook(hook ports.StageHook) Option {
	return func(e *Executor) {
		e.hook = hook
	}
}

// WithHookTimeout bounds one stage hook invocation.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.hookTimeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics wires the Prometheus collector set.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor over the given session manager,
// template source, and selection resolver.
func NewExecutor(sessions *session.Manager, source ports.GraphSource, templates []string, res *resolver.Resolver, opts ...Option) *Executor {
	e := &Executor{
		sessions:    sessions,
		plans:       compiler.NewCache(),
		source:      source,
		resolver:    res,
		templates:   append([]string(nil), templates...),
		hookTimeout: 5 * time.Second,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plans exposes the plan cache so hosts can pre-compile and invalidate.
func (e *Executor) Plans() *compiler.Cache {
	return e.plans
}

// plan fetches and compiles the template, hitting the plan cache.
func (e *Executor) plan(ctx context.Context, templateID string) (*domain.CompiledPlan, error) {
	graph, err := e.source.GetGraph(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}
	return e.plans.GetOrCompile(graph)
}

// Turn is the raw executor entry point: it resumes or starts a session
// for the inbound text and advances the flow. Faults propagate to the
// caller; the recovery subsystem wraps this at the engine level.
func (e *Executor) Turn(ctx context.Context, userID, tenantID, text string) (*domain.TurnResult, *domain.Checkpoint, error) {
	active, err := e.activeSession(ctx, userID, tenantID)
	if err != nil {
		return nil, nil, err
	}

	if active == nil {
		return e.enterFlow(ctx, userID, tenantID, text)
	}

	var (
		result     *domain.TurnResult
		checkpoint *domain.Checkpoint
		superseded bool
	)
	err = e.sessions.WithLock(ctx, active.ID, func(ctx context.Context) error {
		// Re-read under the lock: a turn that won the race for this
		// session may have advanced or ended it since selection. Both
		// the checkpoint and the working copy must come from the
		// authoritative state.
		s, err := e.sessions.Store().Load(ctx, active.ID)
		if err != nil {
			return err
		}
		if !s.IsActive() || s.IsExpiredAt(e.now()) {
			superseded = true
			return nil
		}
		checkpoint = domain.NewCheckpoint(s)
		result, err = e.resumeTurn(ctx, s, text)
		return err
	})
	if err != nil {
		return nil, checkpoint, err
	}
	if superseded {
		// The session ended while this turn waited for its lock; the
		// message belongs to a fresh flow entry.
		return e.enterFlow(ctx, userID, tenantID, text)
	}
	return result, checkpoint, nil
}

// activeSession finds the user's single resumable session, if any.
func (e *Executor) activeSession(ctx context.Context, userID, tenantID string) (*domain.Session, error) {
	sessions, err := e.sessions.ListByUser(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var latest *domain.Session
	for _, s := range sessions {
		if !s.IsActive() || s.IsExpiredAt(now) {
			continue
		}
		if latest == nil || s.LastActivityAt.After(latest.LastActivityAt) {
			latest = s
		}
	}
	return latest, nil
}

// enterFlow matches inbound text against entry keywords across the
// served templates and, on a match, starts a session there.
func (e *Executor) enterFlow(ctx context.Context, userID, tenantID, text string) (*domain.TurnResult, *domain.Checkpoint, error) {
	for _, templateID := range e.templates {
		plan, err := e.plan(ctx, templateID)
		if err != nil {
			return nil, nil, err
		}
		if !plan.MatchesKeyword(text) {
			continue
		}

		s, err := e.sessions.GetOrCreate(ctx, userID, tenantID, session.CreateOptions{
			TemplateID:  templateID,
			EntryNodeID: plan.EntryNodeID,
			ForceNew:    true,
		})
		if err != nil {
			return nil, nil, err
		}

		var (
			result     *domain.TurnResult
			checkpoint *domain.Checkpoint
		)
		err = e.sessions.WithLock(ctx, s.ID, func(ctx context.Context) error {
			fresh, err := e.sessions.Store().Load(ctx, s.ID)
			if err != nil {
				return err
			}
			checkpoint = domain.NewCheckpoint(fresh)
			messages, terminated, err := e.advance(ctx, fresh, plan, plan.EntryNodeID, true)
			if err != nil {
				return err
			}
			result, err = e.finishTurn(ctx, fresh, messages, terminated)
			return err
		})
		if err != nil {
			return nil, checkpoint, err
		}
		return result, checkpoint, nil
	}

	e.logger.Debug("no entry keyword match", "user_id", userID, "text", text)
	return &domain.TurnResult{Success: true, NoEntryMatch: true}, nil, nil
}

// resumeTurn applies inbound text to a session parked at a waiting step.
func (e *Executor) resumeTurn(ctx context.Context, s *domain.Session, text string) (*domain.TurnResult, error) {
	plan, err := e.plan(ctx, s.TemplateID)
	if err != nil {
		return nil, err
	}

	step := plan.Step(s.CurrentNodeID)
	if step == nil {
		return nil, fmt.Errorf("session %s at node %s: %w", s.ID, s.CurrentNodeID, domain.ErrNodeNotInPlan)
	}

	if !step.WaitsForReply {
		// Parked at a flow-through step (should not persist like this):
		// just continue the walk.
		messages, terminated, err := e.advance(ctx, s, plan, s.CurrentNodeID, true)
		if err != nil {
			return nil, err
		}
		return e.finishTurn(ctx, s, messages, terminated)
	}

	if domain.IsChoiceKind(step.Kind) {
		return e.resumeChoice(ctx, s, plan, step, text)
	}

	// Input step: store the raw text verbatim and follow the single edge.
	s.CollectedData[step.Variable] = text
	e.captureLead(s, step.Variable, text)

	if step.Next == "" {
		return e.finishTurn(ctx, s, nil, true)
	}
	messages, terminated, err := e.advance(ctx, s, plan, step.Next, false)
	if err != nil {
		return nil, err
	}
	return e.finishTurn(ctx, s, messages, terminated)
}

// resumeChoice resolves the reply against the offered options.
func (e *Executor) resumeChoice(ctx context.Context, s *domain.Session, plan *domain.CompiledPlan, step *domain.Step, text string) (*domain.TurnResult, error) {
	offered := s.OfferedOptions
	if len(offered) == 0 {
		offered = step.Options
	}

	match, ok := e.resolver.Resolve(text, offered, step.Kind == domain.KindList)
	if !ok {
		// Not an answer to the pending choice. The session stays
		// parked; re-prompting is the caller's call.
		e.logger.Debug("reply did not resolve to an option",
			"session_id", s.ID,
			"node", step.NodeID,
		)
		return &domain.TurnResult{SessionID: s.ID, Success: true}, nil
	}
	e.metrics.ObserveResolver(string(match.Strategy))

	chosen := offered[match.Index]
	value := chosen.Value
	if value == "" {
		value = chosen.Label
	}
	s.CollectedData[step.Variable] = value
	e.captureLead(s, step.Variable, value)

	target := step.HandleTargets[match.Handle]
	if target == "" {
		return nil, fmt.Errorf("choice %s has no branch for handle %s: %w",
			step.NodeID, match.Handle, domain.ErrNodeNotInPlan)
	}

	s.OfferedOptions = nil
	messages, terminated, err := e.advance(ctx, s, plan, target, false)
	if err != nil {
		return nil, err
	}
	return e.finishTurn(ctx, s, messages, terminated)
}

// advance walks the plan from nodeID, collapsing non-waiting steps into
// one outbound turn. It stops the instant it reaches a step that waits
// for a reply, or the flow ends.
//
// skipFirstVisit avoids double-recording the node a freshly created
// session already starts on.
func (e *Executor) advance(ctx context.Context, s *domain.Session, plan *domain.CompiledPlan, nodeID string, skipFirstVisit bool) ([]domain.Message, bool, error) {
	var messages []domain.Message
	maxHistory := e.sessions.Config().MaxHistory
	first := true

	for nodeID != "" {
		step := plan.Step(nodeID)
		if step == nil {
			return nil, false, fmt.Errorf("node %s: %w", nodeID, domain.ErrNodeNotInPlan)
		}

		if !(first && skipFirstVisit) {
			s.Visit(nodeID, e.now(), maxHistory)
		} else {
			s.CurrentNodeID = nodeID
		}
		first = false

		if step.StageTrigger != "" {
			e.dispatchStage(ctx, s, step.StageTrigger)
		}

		if step.Content != "" {
			msg := domain.Message{Text: step.Content}
			if domain.IsChoiceKind(step.Kind) {
				msg.Options = step.Options
			}
			messages = append(messages, msg)
		}

		if step.Kind == domain.KindEnd {
			return messages, true, nil
		}

		if step.WaitsForReply {
			if domain.IsChoiceKind(step.Kind) {
				s.OfferedOptions = append([]domain.Option(nil), step.Options...)
			} else {
				s.OfferedOptions = nil
			}
			return messages, false, nil
		}

		if step.Next == "" {
			// Implicit end of this branch.
			return messages, true, nil
		}
		nodeID = step.Next
	}

	return messages, true, nil
}

// finishTurn persists the session with a slid TTL window and shapes the
// turn result. Persisting is part of the turn's atomic unit: a failed
// save fails the turn and lands in the recovery subsystem.
func (e *Executor) finishTurn(ctx context.Context, s *domain.Session, messages []domain.Message, terminated bool) (*domain.TurnResult, error) {
	now := e.now()
	if terminated {
		s.End(domain.SessionTerminated, domain.EndReasonCompleted, now)
		s.OfferedOptions = nil
	} else {
		s.Touch(now, e.sessions.Config().TTL)
	}

	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to persist session %s after turn: %w", s.ID, err)
	}

	return &domain.TurnResult{
		SessionID:  s.ID,
		Messages:   messages,
		Terminated: terminated,
		Success:    true,
	}, nil
}

// dispatchStage invokes the stage hook. Failures are recoverable and
// non-fatal: the turn completes either way.
func (e *Executor) dispatchStage(ctx context.Context, s *domain.Session, stageID string) {
	if e.hook == nil {
		return
	}

	hookCtx, cancel := context.WithTimeout(ctx, e.hookTimeout)
	defer cancel()

	if err := e.hook.OnStageTrigger(hookCtx, stageID, s); err != nil {
		e.metrics.ObserveHookFailure()
		e.logger.Warn("stage hook failed",
			"session_id", s.ID,
			"stage", stageID,
			"err", &domain.HookFault{StageID: stageID, Err: err},
		)
		return
	}

	if s.Lead == nil {
		s.Lead = &domain.Lead{}
	}
	s.Lead.Stage = stageID
}

// captureLead promotes name/phone/email-shaped answers into the
// critical-data bag so they fall under the preservation guarantee.
func (e *Executor) captureLead(s *domain.Session, variable, value string) {
	kind := domain.CriticalKeyKind(variable)
	if kind == "" || value == "" {
		return
	}
	if s.Lead == nil {
		s.Lead = &domain.Lead{}
	}
	switch kind {
	case "name":
		s.Lead.Name = value
	case "phone":
		s.Lead.Phone = value
	case "email":
		s.Lead.Email = value
	}
}
