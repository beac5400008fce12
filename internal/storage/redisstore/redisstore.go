// Package redisstore: клиент Redis и хранящиеся в нём короткоживущие
// маркеры повторных заявок.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/stl-directory/internal/config"
)

// NewClient создаёт клиент Redis и проверяет его ping-ом.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// Markers хранит с TTL флаги "владелец уже отправлял заявку на эту цель".
// Маркер даёт только быстрый положительный ответ, его отсутствие ничего
// не доказывает.
type Markers struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMarkers создаёт хранилище маркеров.
func NewMarkers(client *redis.Client, ttl time.Duration) *Markers {
	return &Markers{client: client, ttl: ttl}
}

// MarkerKey строит ключ для (kind, owner, target). target может быть пустым.
func MarkerKey(kind, ownerID, targetID string) string {
	if targetID == "" {
		return "dup:" + kind + ":" + ownerID
	}
	return "dup:" + kind + ":" + ownerID + ":" + targetID
}

// Exists сообщает, установлен ли маркер.
func (m *Markers) Exists(ctx context.Context, key string) (bool, error) {
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Set сохраняет маркер на заданный TTL.
func (m *Markers) Set(ctx context.Context, key string) error {
	return m.client.Set(ctx, key, "1", m.ttl).Err()
}

// ReadinessChecker проверяет Redis для /health/ready. Redis опционален,
// поэтому его недоступность даёт degraded, а не fail.
type ReadinessChecker struct {
	client *redis.Client
}

// NewReadinessChecker создаёт проверку.
func NewReadinessChecker(client *redis.Client) *ReadinessChecker {
	return &ReadinessChecker{client: client}
}

// CheckReady выполняет ping с таймаутом 2s.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return "degraded", fmt.Sprintf("redis unreachable: %v", err)
	}
	return "ok", "redis reachable"
}
