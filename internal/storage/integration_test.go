package storage_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BuuCoder/TuTien2D-sub000/internal/storage"
	"github.com/BuuCoder/TuTien2D-sub000/internal/storage/migrations"
)

// setupPostgres 啟動 PostgreSQL 容器、跑遷移、返回持久層
func setupPostgres(t *testing.T) *storage.PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	migrator, err := migrations.New(dsn, logger)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	store, err := storage.NewPostgresStore(ctx, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

// setupRedis 啟動 Redis 容器並返回客戶端
func setupRedis(t *testing.T) *storage.CachedChatStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := storage.NewRedisClient(ctx, endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return storage.NewCachedChatStore(storage.NewMemoryStore(), client, 100, slog.New(slog.DiscardHandler))
}

// TestPostgresChatRoundTrip 測試聊天訊息的寫入與讀取
func TestPostgresChatRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("短模式下跳過容器測試")
	}
	ctx := context.Background()
	store := setupPostgres(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveChat(ctx, chatMessage("acc-a", "thanh-van-mon", 1, "訊息")))
	}
	require.NoError(t, store.SaveChat(ctx, chatMessage("acc-b", "hac-phong-son", 1, "別圖的訊息")))

	messages, err := store.RecentChat(ctx, "thanh-van-mon", 1, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].ID, messages[i-1].ID, "歷史由舊到新")
	}
}

// TestPostgresFriendshipUpsert 測試好友關係的 upsert 語義
func TestPostgresFriendshipUpsert(t *testing.T) {
	if testing.Short() {
		t.Skip("短模式下跳過容器測試")
	}
	ctx := context.Background()
	store := setupPostgres(t)

	require.NoError(t, store.UpsertFriendship(ctx, storage.Friendship{
		RequesterID: "acc-a", AddresseeID: "acc-b", Status: storage.FriendPending,
	}))
	require.NoError(t, store.UpsertFriendship(ctx, storage.Friendship{
		RequesterID: "acc-a", AddresseeID: "acc-b", Status: storage.FriendAccepted,
	}))

	f, err := store.Friendship(ctx, "acc-a", "acc-b")
	require.NoError(t, err)
	assert.Equal(t, storage.FriendAccepted, f.Status)

	all, err := store.Friendships(ctx, "acc-b")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.Friendship(ctx, "acc-b", "acc-a")
	assert.ErrorIs(t, err, storage.ErrNotFound, "關係方向有別")
}

// TestCachedChatStoreReadThrough 測試快取寫入後的讀取
func TestCachedChatStoreReadThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("短模式下跳過容器測試")
	}
	ctx := context.Background()
	cached := setupRedis(t)

	for i := 1; i <= 3; i++ {
		msg := chatMessage("acc-a", "thanh-van-mon", 1, "快取訊息")
		msg.ID = int64(i)
		require.NoError(t, cached.SaveChat(ctx, msg))
	}

	messages, err := cached.RecentChat(ctx, "thanh-van-mon", 1, 10)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "快取訊息", messages[0].Content)
}

// TestCachedChatStoreRefill 測試快取未命中時回源
func TestCachedChatStoreRefill(t *testing.T) {
	if testing.Short() {
		t.Skip("短模式下跳過容器測試")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := storage.NewRedisClient(ctx, endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// 後端先有資料，快取是空的
	backend := storage.NewMemoryStore()
	require.NoError(t, backend.SaveChat(ctx, chatMessage("acc-a", "thanh-van-mon", 1, "只在後端")))

	cached := storage.NewCachedChatStore(backend, client, 100, slog.New(slog.DiscardHandler))

	messages, err := cached.RecentChat(ctx, "thanh-van-mon", 1, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "只在後端", messages[0].Content)

	// 回填後第二次讀取命中快取（即便後端已清空也讀得到）
	backend2 := storage.NewMemoryStore()
	cachedAfter := storage.NewCachedChatStore(backend2, client, 100, slog.New(slog.DiscardHandler))
	messages, err = cachedAfter.RecentChat(ctx, "thanh-van-mon", 1, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1, "回填後應命中快取")
}
