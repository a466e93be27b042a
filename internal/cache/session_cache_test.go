package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/repository/memstore"
)

// testRedisClient はテスト用のRedisクライアントを返す。接続できない場合はスキップする。
func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	client, err := NewClient(context.Background(), url)
	if err != nil {
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// unreachableClient は接続できないアドレスを指すクライアントを返す。
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(context.Background(), "://bad"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

// Redis障害時は下位リポジトリの結果をそのまま返す
func TestSessionCache_FallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New().AuthSessions()
	c := NewSessionCache(repo, unreachableClient(t), time.Minute)

	session := &model.AuthSession{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	if err := c.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := c.FindByID(ctx, "s1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got == nil || got.UserID != "u1" {
		t.Fatalf("FindByID() = %+v, want session for u1", got)
	}

	// キャッシュから取り除けない場合、ログアウトは成功扱いにしない
	if err := c.DeleteByID(ctx, "s1"); err == nil {
		t.Fatal("DeleteByID() should fail when the cached entry cannot be evicted")
	}
	if stored, _ := repo.FindByID(ctx, "s1"); stored != nil {
		t.Error("session should be removed from the underlying store")
	}
	got, _ = c.FindByID(ctx, "s1")
	if got != nil {
		t.Error("deleted session should not be found")
	}
}

func TestSessionCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	client := testRedisClient(t)
	repo := memstore.New().AuthSessions()
	c := NewSessionCache(repo, client, time.Minute)

	id := "cache-test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { client.Del(context.Background(), sessionKey(id)) })

	now := time.Now().Truncate(time.Millisecond)
	if err := repo.Create(ctx, &model.AuthSession{ID: id, UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	// 初回はリポジトリから読み込みキャッシュに格納する
	got, err := c.FindByID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %+v, %v", got, err)
	}
	ttl, err := client.TTL(ctx, sessionKey(id)).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v, want (0, 1m]", ttl, err)
	}

	// キャッシュ経由で同じ内容が返る
	cached, ok := c.load(ctx, id)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if cached.UserID != "u1" || !cached.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("cached = %+v", cached)
	}

	if err := c.DeleteByID(ctx, id); err != nil {
		t.Fatal(err)
	}
	if n, _ := client.Exists(ctx, sessionKey(id)).Result(); n != 0 {
		t.Error("cache entry should be removed on delete")
	}
}

func TestSessionCache_ExpiredCachedEntry(t *testing.T) {
	ctx := context.Background()
	client := testRedisClient(t)
	c := NewSessionCache(memstore.New().AuthSessions(), client, time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now.Add(-2 * time.Hour) }
	id := "cache-expired-" + now.Format("150405.000000000")
	t.Cleanup(func() { client.Del(context.Background(), sessionKey(id)) })

	// 2時間前の時点で有効な1時間セッションをキャッシュに入れる
	c.store(ctx, &model.AuthSession{ID: id, UserID: "u1", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)})

	c.now = time.Now
	got, err := c.FindByID(ctx, id)
	if err != nil || got != nil {
		t.Errorf("FindByID() = %+v, %v, want nil, nil", got, err)
	}
}
