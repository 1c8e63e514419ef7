package staging

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRepository(client, time.Hour), mr
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrNoTable)

	table := cementTable()
	require.NoError(t, repo.Save(ctx, "s1", table))
	require.True(t, mr.Exists("sitestock:staging:s1"))
	require.Equal(t, time.Hour, mr.TTL("sitestock:staging:s1"))

	got, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, table.ID, got.ID)
	require.Equal(t, table.Revision, got.Revision)
	require.True(t, got.Rows[0].Quantity.Equal(dec("10")))
	require.True(t, got.Rows[0].UnitPrice.Equal(dec("500")))
	require.Equal(t, table.Rows[0].Category, got.Rows[0].Category)
	require.True(t, got.Rows[0].Selected)
}

func TestRepositorySaveEmptyDeletes(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "s1", cementTable()))
	require.NoError(t, repo.Save(ctx, "s1", Table{ID: "t1"}))
	require.False(t, mr.Exists("sitestock:staging:s1"))

	_, err := repo.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrNoTable)
}

func TestRepositoryExpires(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "s1", cementTable()))
	mr.FastForward(2 * time.Hour)
	_, err := repo.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrNoTable)
}

func TestRepositoryDecodeError(t *testing.T) {
	repo, mr := newTestRepository(t)
	require.NoError(t, mr.Set("sitestock:staging:s1", "{not json"))
	_, err := repo.Load(context.Background(), "s1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoTable)
}
