package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey は集約ランのロックキー。
const DefaultKey = "ainews:lock:aggregate"

// releaseScript は自分のトークンを保持している場合のみキーを削除する。
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock はRedisのSET NX PXによるプロセス間ランロック。
// TTLはランがクラッシュした場合にロックが残り続けないための上限。
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLock はRedisLockを生成する。
func NewRedisLock(client *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RedisLock {
	if key == "" {
		key = DefaultKey
	}
	return &RedisLock{client: client, key: key, ttl: ttl, logger: logger}
}

// TryAcquire はランダムなトークンでキーを作成する。既に存在する場合はErrLockedを返す。
func (l *RedisLock) TryAcquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ランロックの取得に失敗: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	release := func() {
		// 呼び出し元のコンテキストがキャンセル済みでも解放できるよう独立させる
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.Error("ランロックの解放に失敗しました",
				slog.String("key", l.key),
				slog.String("error", err.Error()),
			)
		}
	}
	return release, nil
}

// Connect はREDIS_URLからクライアントを生成し、疎通を確認する。
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return client, nil
}

var _ Locker = (*RedisLock)(nil)
