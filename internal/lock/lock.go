// Package lock: сериализация одновременных заявок с одинаковым
// (kind, owner, target) между репликами API.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
)

// ErrHeld: блокировку держит другая заявка.
var ErrHeld = errors.New("lock held by another submission")

// Release освобождает блокировку. Ошибки не возвращает, только логирует.
type Release func(ctx context.Context)

// Locker захватывает именованные блокировки.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// RedisLocker: реализация Locker на bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker создаёт Locker, блокировки которого истекают через ttl.
func NewRedisLocker(rdb redislock.RedisClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		logger: logger.With(slog.String("component", "submission_lock")),
	}
}

// Acquire захватывает "lock:<key>" без повторных попыток.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	lk, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func(ctx context.Context) {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("Ошибка освобождения блокировки",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}

// Noop: Locker, который всегда успешен. Используется без Redis.
type Noop struct{}

// Acquire возвращает пустой Release.
func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) {}, nil
}
