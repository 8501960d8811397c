package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"quickdowntime/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	k := newKeys("")
	assert.Equal(t, "quickdowntime:schema:version", k.schemaVersion())
	assert.Equal(t, "quickdowntime:downtime:12", k.downtime(12))
	assert.Equal(t, "quickdowntime:analysis:downtime:3", k.analyses(3))

	custom := newKeys("plant-a")
	assert.Equal(t, "plant-a:downtime:seq", custom.downtimeSeq())
}

func TestIndexMember(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	z := indexMember(&domain.Downtime{ID: 9, CreatedAt: created})

	assert.Equal(t, "9", z.Member)
	assert.Equal(t, float64(created.UnixMilli()), z.Score)
}

func TestMigrationsAreOrdered(t *testing.T) {
	migrations := getMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
	}
	assert.Equal(t, currentSchemaVersion, migrations[len(migrations)-1].Version)
}

// Requires a reachable Redis; set QUICKDOWNTIME_TEST_REDIS to its address.
func TestDowntimeRepository_Redis(t *testing.T) {
	addr := os.Getenv("QUICKDOWNTIME_TEST_REDIS")
	if addr == "" {
		t.Skip("QUICKDOWNTIME_TEST_REDIS not set")
	}

	prefix := "qdtest-" + uuid.NewString()
	client, err := NewRedisClient(Options{Address: addr, PoolSize: 2, KeyPrefix: prefix}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = CloseRedisClient(client)
	})

	repo := NewDowntimeRepository(client, prefix)
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	first, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-1", Reason: "Jam"})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, &domain.Downtime{MachineID: "M-2", Reason: "Power"})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jam", got.Reason)

	resolved := domain.StatusResolved
	updated, err := repo.Update(ctx, first.ID, domain.DowntimePatch{Status: &resolved})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, updated.Status)

	count, err := repo.Count(ctx, domain.DowntimeFilter{Status: domain.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	seen := true
	_, err = repo.Update(ctx, first.ID, domain.DowntimePatch{Seen: &seen})
	require.NoError(t, err)
	unseen, err := repo.Query(ctx, domain.DowntimeFilter{Unseen: true})
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "M-2", unseen[0].MachineID)

	_, err = repo.GetByID(ctx, 999999)
	assert.ErrorIs(t, err, domain.ErrDowntimeNotFound)

	analyses := NewAnalysisRepository(client, prefix)
	require.NoError(t, analyses.Insert(ctx, &domain.Analysis{DowntimeID: first.ID, RootCause: "belt"}))
	list, err := analyses.ByDowntime(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "belt", list[0].RootCause)
}
