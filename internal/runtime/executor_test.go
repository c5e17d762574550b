package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/chatflow/internal/resolver"
	"github.com/aretw0/chatflow/internal/runtime"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mapSource serves graphs from a fixed map.
type mapSource map[string]*domain.Graph

func (m mapSource) GetGraph(_ context.Context, templateID string) (*domain.Graph, error) {
	g, ok := m[templateID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return g, nil
}

func leadGraph() *domain.Graph {
	return &domain.Graph{
		TemplateID:  "tpl-lead",
		Version:     "v1",
		EntryNodeID: "greet",
		Keywords:    []string{"hola"},
		Nodes: []domain.GraphNode{
			{ID: "greet", Kind: domain.KindMessage, Content: "¡Hola!", StageTrigger: "engaged"},
			{ID: "ask-name", Kind: domain.KindInput, Content: "¿Cómo te llamas?", Variable: "name"},
			{ID: "ask-phone", Kind: domain.KindInput, Content: "¿Tu teléfono?", Variable: "phone"},
			{ID: "menu", Kind: domain.KindButtons, Content: "¿Qué te interesa?", Options: []domain.Option{
				{Label: "Ver precios", Handle: "prices"},
				{Label: "Agendar visita", Handle: "visit"},
			}},
			{ID: "prices", Kind: domain.KindMessage, Content: "Desde $100."},
			{ID: "visit", Kind: domain.KindMessage, Content: "Te contactamos.", StageTrigger: "qualified"},
			{ID: "bye", Kind: domain.KindEnd, Content: "¡Gracias!"},
		},
		Edges: []domain.GraphEdge{
			{Source: "greet", Target: "ask-name"},
			{Source: "ask-name", Target: "ask-phone"},
			{Source: "ask-phone", Target: "menu"},
			{Source: "menu", Target: "prices", SourceHandle: "prices"},
			{Source: "menu", Target: "visit", SourceHandle: "visit"},
			{Source: "prices", Target: "bye"},
			{Source: "visit", Target: "bye"},
		},
	}
}

type testEnv struct {
	exec    *runtime.Executor
	manager *session.Manager
	store   *memory.Store
	clock   *fakeClock
}

func newEnv(t *testing.T, opts ...runtime.Option) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewStore()
	manager := session.NewManager(store, session.Config{}, session.WithClock(clock.Now))
	source := mapSource{"tpl-lead": leadGraph()}
	res := resolver.New(resolver.DefaultConfig())
	opts = append([]runtime.Option{runtime.WithClock(clock.Now)}, opts...)
	exec := runtime.NewExecutor(manager, source, []string{"tpl-lead"}, res, opts...)
	return &testEnv{exec: exec, manager: manager, store: store, clock: clock}
}

func TestTurn_EntryKeywordStartsFlow(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	result, checkpoint, err := env.exec.Turn(ctx, "user-1", "tenant-1", "Hola")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.True(t, result.Success)

	// The walk collapses the greeting into the same turn and parks at
	// the first input.
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "¡Hola!", result.Messages[0].Text)
	assert.Equal(t, "¿Cómo te llamas?", result.Messages[1].Text)

	s, err := env.manager.Get(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ask-name", s.CurrentNodeID)
	assert.True(t, s.IsActive())
}

func TestTurn_NoEntryMatch(t *testing.T) {
	env := newEnv(t)

	result, checkpoint, err := env.exec.Turn(context.Background(), "user-1", "tenant-1", "asdf qwerty")
	require.NoError(t, err)
	assert.Nil(t, checkpoint)
	assert.True(t, result.Success)
	assert.True(t, result.NoEntryMatch)
	assert.Empty(t, result.SessionID)
}

func TestTurn_InputCapturedVerbatimAndLeadPromoted(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)

	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "  Ana María  ")
	require.NoError(t, err)

	s, err := env.manager.Get(ctx, first.SessionID)
	require.NoError(t, err)
	// Free text is stored exactly as typed, whitespace included.
	assert.Equal(t, "  Ana María  ", s.CollectedData["name"])
	require.NotNil(t, s.Lead)
	assert.Equal(t, "  Ana María  ", s.Lead.Name)
	assert.Equal(t, "ask-phone", s.CurrentNodeID)
}

func TestTurn_ChoiceByOrdinalAdvancesBranch(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "Ana")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "555-0101")
	require.NoError(t, err)

	beforeChoice, err := env.manager.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "menu", beforeChoice.CurrentNodeID)
	assert.Len(t, beforeChoice.OfferedOptions, 2)
	historyBefore := len(beforeChoice.History)

	result, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "1")
	require.NoError(t, err)
	assert.True(t, result.Terminated)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "Desde $100.", result.Messages[0].Text)
	assert.Equal(t, "¡Gracias!", result.Messages[1].Text)

	after, err := env.store.Load(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTerminated, after.Status)
	assert.Equal(t, domain.EndReasonCompleted, after.EndReason)
	assert.Empty(t, after.OfferedOptions, "pending options cleared once resolved")
	assert.Equal(t, "Ver precios", after.CollectedData["menu"])
	assert.Greater(t, len(after.History), historyBefore)
}

func TestTurn_UnresolvedChoiceLeavesSessionParked(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "Ana")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "555-0101")
	require.NoError(t, err)

	result, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "zzz nothing zzz")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Messages)

	s, err := env.manager.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "menu", s.CurrentNodeID)
	assert.Len(t, s.OfferedOptions, 2, "options still pending")
}

// failingHook always errors; stage dispatch must stay non-fatal.
type failingHook struct {
	mu    sync.Mutex
	calls []string
}

func (h *failingHook) OnStageTrigger(_ context.Context, stageID string, _ *domain.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, stageID)
	return errors.New("crm unreachable")
}

func TestTurn_HookFailureIsNonFatal(t *testing.T) {
	hook := &failingHook{}
	env := newEnv(t, runtime.WithStageHook(hook))
	ctx := context.Background()

	result, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"engaged"}, hook.calls)

	// A failed hook must not record the stage on the lead.
	s, err := env.manager.Get(ctx, result.SessionID)
	require.NoError(t, err)
	if s.Lead != nil {
		assert.Empty(t, s.Lead.Stage)
	}
}

// recordingHook succeeds and remembers what it saw.
type recordingHook struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHook) OnStageTrigger(_ context.Context, stageID string, _ *domain.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, stageID)
	return nil
}

func TestTurn_StageHookRecordsLeadStage(t *testing.T) {
	hook := &recordingHook{}
	env := newEnv(t, runtime.WithStageHook(hook))
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "Ana")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "555-0101")
	require.NoError(t, err)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "Agendar visita")
	require.NoError(t, err)

	assert.Equal(t, []string{"engaged", "qualified"}, hook.calls)

	s, err := env.store.Load(ctx, first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, s.Lead)
	assert.Equal(t, "qualified", s.Lead.Stage)
}

func TestTurn_TouchSlidesExpiry(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)
	before, err := env.store.Load(ctx, first.SessionID)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	_, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "Ana")
	require.NoError(t, err)

	after, err := env.store.Load(ctx, first.SessionID)
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
}

func TestTurn_ExpiredSessionFallsBackToEntryMatching(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)

	// The old session is past its TTL, so the text goes through entry
	// matching again and a new session starts.
	result, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)
	assert.False(t, result.NoEntryMatch)
	assert.NotEqual(t, first.SessionID, result.SessionID)
}

// gateHook parks the first stage dispatch until released, keeping the
// session lock held so another turn queues up behind it.
type gateHook struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *gateHook) OnStageTrigger(context.Context, string, *domain.Session) error {
	h.once.Do(func() {
		close(h.entered)
		<-h.release
	})
	return nil
}

func TestTurn_QueuedTurnResumesFreshState(t *testing.T) {
	hook := &gateHook{entered: make(chan struct{}), release: make(chan struct{})}
	env := newEnv(t, runtime.WithStageHook(hook))
	ctx := context.Background()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
		assert.NoError(t, err)
	}()

	// The opening turn is parked inside the stage hook with the session
	// lock held; the store still shows the session at the entry node.
	<-hook.entered

	var second *domain.TurnResult
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		var err error
		second, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "Ana")
		assert.NoError(t, err)
	}()

	// Let the reply queue up on the lock, then release the opening turn.
	time.Sleep(20 * time.Millisecond)
	close(hook.release)
	<-firstDone
	<-secondDone

	// The reply applies to the state the opening turn persisted, not to
	// the snapshot taken before the lock was acquired.
	require.NotNil(t, second)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "¿Tu teléfono?", second.Messages[0].Text)

	s, err := env.store.Load(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ask-phone", s.CurrentNodeID)
	assert.Equal(t, "Ana", s.CollectedData["name"])
}

func TestTurn_SessionEndedWhileQueuedStartsFreshFlow(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, _, err := env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	lockDone := make(chan struct{})
	go func() {
		defer close(lockDone)
		_ = env.manager.WithLock(ctx, first.SessionID, func(context.Context) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	var result *domain.TurnResult
	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		var err error
		result, _, err = env.exec.Turn(ctx, "user-1", "tenant-1", "hola")
		assert.NoError(t, err)
	}()

	// Let the turn select the still-active session and queue on its
	// lock, then end the session behind its back, as a racing turn that
	// won the lock would.
	time.Sleep(20 * time.Millisecond)
	s, err := env.store.Load(ctx, first.SessionID)
	require.NoError(t, err)
	s.End(domain.SessionTerminated, domain.EndReasonManual, env.clock.Now())
	require.NoError(t, env.store.Save(ctx, s))
	close(release)
	<-lockDone
	<-turnDone

	// The queued turn re-reads under the lock, finds the session ended,
	// and routes the message through entry matching instead.
	require.NotNil(t, result)
	assert.False(t, result.NoEntryMatch)
	assert.NotEqual(t, first.SessionID, result.SessionID)
}
