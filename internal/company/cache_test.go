package company

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	configs map[int64]SyncConfig
	gets    int
}

func (s *countingSource) Get(ctx context.Context, companyID int64) (SyncConfig, error) {
	s.gets++
	cfg, ok := s.configs[companyID]
	if !ok {
		return SyncConfig{}, ErrNotFound
	}
	return cfg, nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testConfig() SyncConfig {
	return SyncConfig{
		CompanyID:  1,
		Enabled:    true,
		Mode:       ModeRealtime,
		WebhookURL: "https://erp.example.com/hooks",
		Auth:       AuthConfig{Type: AuthBearer, Token: "sekrit"},
	}
}

func TestCachedRepositoryServesFromCache(t *testing.T) {
	source := &countingSource{configs: map[int64]SyncConfig{1: testConfig()}}
	repo := NewCachedRepository(source, testRedis(t), time.Minute)
	ctx := context.Background()

	first, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, testConfig(), first)
	require.Equal(t, 1, source.gets)

	second, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, source.gets, "second lookup must come from cache")
}

func TestCachedRepositoryMissPropagatesNotFound(t *testing.T) {
	source := &countingSource{}
	repo := NewCachedRepository(source, testRedis(t), time.Minute)

	_, err := repo.Get(context.Background(), 7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCachedRepositoryInvalidate(t *testing.T) {
	source := &countingSource{configs: map[int64]SyncConfig{1: testConfig()}}
	repo := NewCachedRepository(source, testRedis(t), time.Minute)
	ctx := context.Background()

	_, err := repo.Get(ctx, 1)
	require.NoError(t, err)

	updated := testConfig()
	updated.WebhookURL = "https://erp.example.com/hooks/v2"
	source.configs[1] = updated
	require.NoError(t, repo.Invalidate(ctx, 1))

	cfg, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, updated.WebhookURL, cfg.WebhookURL)
	require.Equal(t, 2, source.gets)
}

func TestCachedRepositoryExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := &countingSource{configs: map[int64]SyncConfig{1: testConfig()}}
	repo := NewCachedRepository(source, client, time.Second)
	ctx := context.Background()

	_, err := repo.Get(ctx, 1)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, source.gets)
}

func TestCachedRepositoryDegradesWhenCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	source := &countingSource{configs: map[int64]SyncConfig{1: testConfig()}}
	repo := NewCachedRepository(source, client, time.Minute)

	cfg, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, testConfig(), cfg)
}

func TestCachedRepositoryNilClientFallsThrough(t *testing.T) {
	source := &countingSource{configs: map[int64]SyncConfig{1: testConfig()}}
	repo := NewCachedRepository(source, nil, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := repo.Get(context.Background(), 1)
		require.NoError(t, err)
	}
	require.Equal(t, 3, source.gets)
}

func TestCachedRepositoryIgnoresCorruptCacheEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set("sync:config:1", "{not json"))

	source := &countingSource{configs: map[int64]SyncConfig{1: testConfig()}}
	repo := NewCachedRepository(source, client, time.Minute)

	cfg, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, testConfig(), cfg)
	require.Equal(t, 1, source.gets)
}
