package ports

import (
	"context"

	"github.com/aretw0/chatflow/pkg/domain"
)

// StageHook is the side-channel into the external sales funnel. The
// executor invokes it synchronously whenever a turn crosses a node
// carrying a stage trigger. A hook failure is non-fatal to the turn.
type StageHook interface {
	OnStageTrigger(ctx context.Context, stageID string, session *domain.Session) error
}

// StageHookFunc adapts a plain function to the StageHook interface.
type StageHookFunc func(ctx context.Context, stageID string, session *domain.Session) error

func (f StageHookFunc) OnStageTrigger(ctx context.Context, stageID string, session *domain.Session) error {
	return f(ctx, stageID, session)
}

// GraphSource supplies conversation templates by ID. The engine is
// unaware of the storage format behind it.
type GraphSource interface {
	GetGraph(ctx context.Context, templateID string) (*domain.Graph, error)
}
