package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"filing-engine/internal/model"
	"filing-engine/internal/store/storetest"
)

func TestStore(t *testing.T) {
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, s)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "filings.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	f, err := s.CreateFiling(ctx, 2024, model.FilingTrust)
	require.NoError(t, err)
	require.NoError(t, s.SaveFormData(ctx, f.Trust.ID, model.FormData{
		"beneficiaries.list": []any{map[string]any{"name": "Kit", "share": float64(50)}},
	}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	got, err := s.GetFiling(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Trust)
	assert.Equal(t, []any{map[string]any{"name": "Kit", "share": float64(50)}}, got.Trust.FormData["beneficiaries.list"])
}
