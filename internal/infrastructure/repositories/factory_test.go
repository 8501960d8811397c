package repositories

import (
	"context"
	"testing"

	"quickdowntime/internal/core/domain"
	"quickdowntime/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRepositoryFactory_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RemoteStore.Backend = config.StoreMemory

	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.Equal(t, config.StoreMemory, f.Backend())
	require.NoError(t, f.HealthCheck(context.Background()))

	d, err := f.DowntimeRepository().Insert(context.Background(), &domain.Downtime{MachineID: "M-1"})
	require.NoError(t, err)
	assert.NotZero(t, d.ID)
	require.NoError(t, f.AnalysisRepository().Insert(context.Background(), &domain.Analysis{DowntimeID: d.ID}))
}

func TestNewRepositoryFactory_UnreachablePostgres(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RemoteStore.Backend = config.StorePostgres
	cfg.Postgres.DSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	_, err := NewRepositoryFactory(context.Background(), cfg, nil)
	assert.Error(t, err)
}
