// Package cache はRedisを使ったログインセッション参照のキャッシュを提供する。
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/timecard/internal/model"
	"github.com/hitoshi/timecard/internal/repository"
)

// KeyAuthSession はログインセッションのキャッシュキーの接頭辞。
const KeyAuthSession = "timecard:auth_session:"

// NewClient はURLからRedisクライアントを生成し、疎通を確認する。
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redisに接続しました", slog.String("addr", opts.Addr))
	return client, nil
}

// SessionCache はAuthSessionRepositoryの前段に置くリードスルーキャッシュ。
// Redisの障害時は警告ログを出して下位リポジトリにフォールバックする。
type SessionCache struct {
	next   repository.AuthSessionRepository
	client *redis.Client
	maxTTL time.Duration
	now    func() time.Time
}

// NewSessionCache はSessionCacheを生成する。
// maxTTLはキャッシュ保持期間の上限で、セッションの残り有効期間の方が短い場合はそちらを使う。
func NewSessionCache(next repository.AuthSessionRepository, client *redis.Client, maxTTL time.Duration) *SessionCache {
	return &SessionCache{
		next:   next,
		client: client,
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

func sessionKey(id string) string {
	return KeyAuthSession + id
}

// Create はセッションを永続化し、キャッシュにも格納する。
func (c *SessionCache) Create(ctx context.Context, session *model.AuthSession) error {
	if err := c.next.Create(ctx, session); err != nil {
		return err
	}
	c.store(ctx, session)
	return nil
}

// FindByID はキャッシュを優先してセッションを取得する。期限切れの場合はnilを返す。
func (c *SessionCache) FindByID(ctx context.Context, id string) (*model.AuthSession, error) {
	if session, ok := c.load(ctx, id); ok {
		if !session.ExpiresAt.After(c.now()) {
			return nil, nil
		}
		return session, nil
	}

	session, err := c.next.FindByID(ctx, id)
	if err != nil || session == nil {
		return session, err
	}
	c.store(ctx, session)
	return session, nil
}

// DeleteByID はセッションを削除し、キャッシュからも取り除く。
// キャッシュの削除に失敗した場合、キャッシュ上のセッションは最大maxTTLの間有効なままになるためエラーを返す。
// 下位リポジトリの削除は冪等なので、呼び出し元は再試行できる。
func (c *SessionCache) DeleteByID(ctx context.Context, id string) error {
	if err := c.next.DeleteByID(ctx, id); err != nil {
		return err
	}
	if err := c.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to evict cached session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。キャッシュ側はTTLで失効する。
func (c *SessionCache) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return c.next.DeleteExpired(ctx, now)
}

func (c *SessionCache) store(ctx context.Context, session *model.AuthSession) {
	ttl := session.ExpiresAt.Sub(c.now())
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	if ttl <= 0 {
		return
	}

	key := sessionKey(session.ID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":    session.UserID,
		"expires_at": session.ExpiresAt.UnixMilli(),
		"created_at": session.CreatedAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("セッションキャッシュの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

func (c *SessionCache) load(ctx context.Context, id string) (*model.AuthSession, bool) {
	result, err := c.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		slog.Warn("セッションキャッシュの読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}

	expiresAt, err1 := strconv.ParseInt(result["expires_at"], 10, 64)
	createdAt, err2 := strconv.ParseInt(result["created_at"], 10, 64)
	if err1 != nil || err2 != nil || result["user_id"] == "" {
		return nil, false
	}

	return &model.AuthSession{
		ID:        id,
		UserID:    result["user_id"],
		ExpiresAt: time.UnixMilli(expiresAt),
		CreatedAt: time.UnixMilli(createdAt),
	}, true
}

// compile-time interface check
var _ repository.AuthSessionRepository = (*SessionCache)(nil)
