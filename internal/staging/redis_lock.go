package staging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	pkgDatabase "terminal-terrace/sdm/packages/database"
	"terminal-terrace/sdm/packages/response"
)

const redisLockPrefix = "staging:lock:"

// 仅当 token 匹配时续约 / 删除
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker 基于 SET NX PX 的分布式锁，适用于多实例共享暂存目录
// 持有者崩溃后锁在 StaleAfter 后自动过期
type RedisLocker struct {
	redis *pkgDatabase.RedisClient
	opts  LockOptions
}

func NewRedisLocker(redis *pkgDatabase.RedisClient, opts LockOptions) *RedisLocker {
	opts.setDefaults()
	return &RedisLocker{redis: redis, opts: opts}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Lease, error) {
	lockKey := redisLockPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	for {
		ok, err := l.redis.SetNX(waitCtx, lockKey, token, l.opts.StaleAfter).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, errors.Wrap(err, "acquire staging lock")
		}
		if ok {
			return newRedisLease(l.redis, lockKey, token, l.opts.StaleAfter), nil
		}

		select {
		case <-waitCtx.Done():
			return nil, response.Busy("upload %s is locked by another request", key)
		case <-time.After(lockPollInterval):
		}
	}
}

type redisLease struct {
	redis *pkgDatabase.RedisClient
	key   string
	token string
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newRedisLease(client *pkgDatabase.RedisClient, key, token string, ttl time.Duration) *redisLease {
	rl := &redisLease{redis: client, key: key, token: token, ttl: ttl, stop: make(chan struct{})}
	rl.wg.Add(1)
	go rl.heartbeat()
	return rl
}

func (rl *redisLease) heartbeat() {
	defer rl.wg.Done()
	every := rl.ttl / 3
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			renewScript.Run(ctx, rl.redis, []string{rl.key}, rl.token, rl.ttl.Milliseconds())
			cancel()
		}
	}
}

func (rl *redisLease) Release() error {
	var err error
	rl.once.Do(func() {
		close(rl.stop)
		rl.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		n, rerr := releaseScript.Run(ctx, rl.redis, []string{rl.key}, rl.token).Int()
		if rerr != nil {
			err = errors.Wrap(rerr, "release staging lock")
			return
		}
		if n == 0 {
			err = errors.Errorf("lock %s expired before release", rl.key)
		}
	})
	return err
}
