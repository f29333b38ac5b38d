package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld 同一学员的另一次提交正在处理
var ErrLockHeld = errors.New("submission already in progress")

// SubmissionLocker 按 (问卷, 学员) 加互斥锁，返回的函数用于释放
type SubmissionLocker interface {
	Lock(ctx context.Context, surveyID, userID uint) (func(), error)
}

func lockKey(surveyID, userID uint) string {
	return fmt.Sprintf("advancedsurvey:lock:%d:%d", surveyID, userID)
}

// 只有持有者才能删除锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) SubmissionLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisLocker{client: client, ttl: ttl}
}

func (l *redisLocker) Lock(ctx context.Context, surveyID, userID uint) (func(), error) {
	key := lockKey(surveyID, userID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		unlockScript.Run(context.Background(), l.client, []string{key}, token)
	}, nil
}

// localLocker 未启用 Redis 时的单进程实现
type localLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() SubmissionLocker {
	return &localLocker{held: make(map[string]bool)}
}

func (l *localLocker) Lock(ctx context.Context, surveyID, userID uint) (func(), error) {
	key := lockKey(surveyID, userID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}
