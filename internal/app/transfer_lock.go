package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTransferLocked is returned while another worker holds the transfer's lock.
var ErrTransferLocked = errors.New("transfer is locked by another delivery")

var releaseTransferLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// TransferLocker serializes deliveries for one transfer across workers.
type TransferLocker interface {
	Acquire(ctx context.Context, transferID string) (release func(), err error)
}

// RedisTransferLocker implements TransferLocker with SET NX and a token-checked release.
type RedisTransferLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisTransferLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTransferLocker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "payout:transfer_lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &RedisTransferLocker{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (l *RedisTransferLocker) Acquire(ctx context.Context, transferID string) (func(), error) {
	key := fmt.Sprintf("%s:%s", l.prefix, strings.TrimSpace(transferID))
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire transfer lock: %w", err)
	}
	if !ok {
		return nil, ErrTransferLocked
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseTransferLockScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
