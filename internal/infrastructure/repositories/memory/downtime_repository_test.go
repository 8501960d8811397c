package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"quickdowntime/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDowntimeRepository_InsertAssignsIDs(t *testing.T) {
	repo := NewDowntimeRepository()
	ctx := context.Background()

	first, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-1", Reason: "Jam"})
	require.NoError(t, err)
	second, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-2", Reason: "Power"})
	require.NoError(t, err)

	assert.Equal(t, domain.DowntimeID(1), first.ID)
	assert.Equal(t, domain.DowntimeID(2), second.ID)
	assert.Equal(t, domain.StatusOpen, first.Status)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)
}

func TestDowntimeRepository_ReturnsCopies(t *testing.T) {
	repo := NewDowntimeRepository()
	ctx := context.Background()

	in := &domain.Downtime{MachineID: "M-1", Reason: "Jam"}
	stored, err := repo.Insert(ctx, in)
	require.NoError(t, err)

	in.Reason = "changed"
	stored.Reason = "changed too"

	got, err := repo.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jam", got.Reason)
	assert.Zero(t, in.ID, "caller's value must not be modified")
}

func TestDowntimeRepository_Update(t *testing.T) {
	repo := NewDowntimeRepository()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	ctx := context.Background()

	stored, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-1"})
	require.NoError(t, err)

	resolved := domain.StatusResolved
	by := domain.UserID("mgr-1")
	at := fixed.Add(time.Hour)
	repo.now = func() time.Time { return at }

	updated, err := repo.Update(ctx, stored.ID, domain.DowntimePatch{
		Status:     &resolved,
		ResolvedBy: &by,
		ResolvedAt: &at,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, updated.Status)
	assert.Equal(t, by, updated.ResolvedBy)
	require.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, at, *updated.ResolvedAt)
	assert.Equal(t, at, updated.UpdatedAt)

	_, err = repo.Update(ctx, 99, domain.DowntimePatch{Status: &resolved})
	assert.ErrorIs(t, err, domain.ErrDowntimeNotFound)
}

func TestDowntimeRepository_GetByIDNotFound(t *testing.T) {
	repo := NewDowntimeRepository()

	_, err := repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrDowntimeNotFound)
}

func TestDowntimeRepository_QueryAndCount(t *testing.T) {
	repo := NewDowntimeRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, m := range []string{"M-1", "M-2", "M-1", "M-3", "M-1"} {
		_, err := repo.Insert(ctx, &domain.Downtime{
			MachineID: m,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := repo.Query(ctx, domain.DowntimeFilter{MachineID: "M-1", Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.DowntimeID(5), got[0].ID)
	assert.Equal(t, domain.DowntimeID(3), got[1].ID)

	count, err := repo.Count(ctx, domain.DowntimeFilter{MachineID: "M-1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, count, "count ignores paging")

	since := base.Add(3 * time.Minute)
	recent, err := repo.Query(ctx, domain.DowntimeFilter{CreatedAfter: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDowntimeRepository_SeenFilter(t *testing.T) {
	repo := NewDowntimeRepository()
	ctx := context.Background()

	first, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-1"})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, &domain.Downtime{MachineID: "M-2"})
	require.NoError(t, err)

	seen := true
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	by := domain.UserID("mgr-1")
	marked, err := repo.Update(ctx, first.ID, domain.DowntimePatch{Seen: &seen, SeenAt: &at, SeenBy: &by})
	require.NoError(t, err)
	assert.True(t, marked.Seen)
	assert.Equal(t, by, marked.SeenBy)
	require.NotNil(t, marked.SeenAt)

	*marked.SeenAt = at.Add(time.Hour)
	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, at, *got.SeenAt)

	unseen, err := repo.Query(ctx, domain.DowntimeFilter{Unseen: true})
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "M-2", unseen[0].MachineID)
}

func TestDowntimeRepository_CancelledContext(t *testing.T) {
	repo := NewDowntimeRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, repo.Ping(ctx), context.Canceled)
}

func TestDowntimeRepository_ConcurrentInsert(t *testing.T) {
	repo := NewDowntimeRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, &domain.Downtime{MachineID: "M-1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := repo.Count(ctx, domain.DowntimeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestAnalysisRepository_Insert(t *testing.T) {
	repo := NewAnalysisRepository()
	ctx := context.Background()

	a := &domain.Analysis{DowntimeID: 7, RootCause: "worn belt"}
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, &domain.Analysis{DowntimeID: 8}))

	assert.Equal(t, int64(1), a.ID)
	got := repo.ByDowntime(7)
	require.Len(t, got, 1)
	assert.Equal(t, "worn belt", got[0].RootCause)
}
