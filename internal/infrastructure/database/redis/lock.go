package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

var ErrLockNotHeld = errors.New(errors.CodeConflict, "lock not held by this owner")

// DefaultLockTTL is the lease of a lock whose holder never releases it.
const DefaultLockTTL = 10 * time.Minute

// Deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// LockFactory hands out single-attempt mutual exclusion locks. The docking
// orchestrator uses it so that two processes never dock the same session at
// the same time.
type LockFactory struct {
	client *Client
	ttl    time.Duration
	logger logging.Logger
}

func NewLockFactory(client *Client, ttl time.Duration, log logging.Logger) *LockFactory {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &LockFactory{client: client, ttl: ttl, logger: log.Named("lock")}
}

// TryAcquire attempts the lock once. When acquired, release deletes the key
// if this caller still owns it and reports ErrLockNotHeld otherwise.
func (f *LockFactory) TryAcquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	rdb, err := f.client.Redis()
	if err != nil {
		return nil, false, err
	}
	fullKey := f.client.Key("lock:" + key)
	token := uuid.NewString()

	ok, err := rdb.SetNX(ctx, fullKey, token, f.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.CodeCacheError, "acquire lock")
	}
	if !ok {
		f.logger.Debug("lock busy", logging.String("key", fullKey))
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := unlockScript.Run(ctx, rdb, []string{fullKey}, token).Int64()
		if err != nil {
			return errors.Wrap(err, errors.CodeCacheError, "release lock")
		}
		if n == 0 {
			return ErrLockNotHeld.WithDetail("key=" + fullKey)
		}
		return nil
	}
	return release, true, nil
}
