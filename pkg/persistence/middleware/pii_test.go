package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/persistence/middleware"
)

func TestPII_MasksMatchingKeysInStoredCopy(t *testing.T) {
	inner := memory.NewStore()
	store := middleware.Chain(inner, middleware.NewPIIMiddleware([]string{"(?i)ssn", "tax_id"}))
	ctx := context.Background()

	s := domain.NewSession("user-1", "tenant-1", "tpl", "greet", time.Now(), time.Hour)
	s.CollectedData["name"] = "Ana"
	s.CollectedData["SSN"] = "123-45-6789"
	s.CollectedData["extra"] = map[string]any{"tax_id": "XYZ", "city": "Lima"}
	require.NoError(t, store.Save(ctx, s))

	stored, err := inner.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", stored.CollectedData["name"])
	assert.Equal(t, "***", stored.CollectedData["SSN"])
	nested := stored.CollectedData["extra"].(map[string]any)
	assert.Equal(t, "***", nested["tax_id"])
	assert.Equal(t, "Lima", nested["city"])

	// The in-memory session the engine holds is untouched.
	assert.Equal(t, "123-45-6789", s.CollectedData["SSN"])
	assert.Equal(t, "XYZ", s.CollectedData["extra"].(map[string]any)["tax_id"])
}

func TestPII_LeavesLeadIntact(t *testing.T) {
	inner := memory.NewStore()
	store := middleware.Chain(inner, middleware.NewPIIMiddleware([]string{"phone"}))
	ctx := context.Background()

	s := domain.NewSession("user-1", "tenant-1", "tpl", "greet", time.Now(), time.Hour)
	s.CollectedData["phone"] = "555-0101"
	s.Lead = &domain.Lead{Phone: "555-0101"}
	require.NoError(t, store.Save(ctx, s))

	stored, err := inner.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "***", stored.CollectedData["phone"])
	require.NotNil(t, stored.Lead)
	assert.Equal(t, "555-0101", stored.Lead.Phone)
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	inner := memory.NewStore()
	// PII masks first, then encryption seals the masked payload.
	store := middleware.Chain(inner,
		middleware.NewPIIMiddleware([]string{"ssn"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: testKey(9)}),
	)
	ctx := context.Background()

	s := domain.NewSession("user-1", "tenant-1", "tpl", "greet", time.Now(), time.Hour)
	s.CollectedData["ssn"] = "123"
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "***", loaded.CollectedData["ssn"])
}
