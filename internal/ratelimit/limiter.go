// Package ratelimit: локальный для процесса лимитер с фиксированным окном
// по ключу (identity, action).
//
// Окно открывается первой попыткой и целиком заменяется первой попыткой
// после его истечения. Счётчик не растёт выше максимума и теряется при
// перезапуске.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ld_ratelimit_rejections_total",
		Help: "Количество попыток отправки, отклонённых лимитером.",
	},
	[]string{"action"},
)

// Decision: результат TryAcquire.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter возвращает время до сброса окна (не меньше нуля).
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

type key struct {
	action   string
	identity string
}

type counter struct {
	count   int
	resetAt time.Time
}

// Limiter хранит счётчики для каждой пары (identity, action).
type Limiter struct {
	mu      sync.Mutex
	entries map[key]*counter
	now     func() time.Time
	logger  *slog.Logger
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithClock подменяет time.Now (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger задаёт логгер фоновой очистки.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger.With(slog.String("component", "rate_limiter")) }
}

// New создаёт пустой Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[key]*counter),
		now:     time.Now,
		logger:  slog.Default().With(slog.String("component", "rate_limiter")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now возвращает текущее время по часам лимитера.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// TryAcquire учитывает попытку и сообщает, разрешена ли она.
func (l *Limiter) TryAcquire(identity, action string, maxAttempts int, window time.Duration) Decision {
	now := l.now()
	k := key{action: action, identity: identity}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.entries[k]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{count: 1, resetAt: now.Add(window)}
		l.entries[k] = c
		return Decision{Allowed: true, Remaining: maxAttempts - 1, ResetAt: c.resetAt}
	}

	if c.count >= maxAttempts {
		rejectionsTotal.WithLabelValues(action).Inc()
		return Decision{Allowed: false, Remaining: 0, ResetAt: c.resetAt}
	}

	c.count++
	return Decision{Allowed: true, Remaining: maxAttempts - c.count, ResetAt: c.resetAt}
}

// Sweep удаляет истёкшие счётчики и возвращает их количество.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, c := range l.entries {
		if !now.Before(c.resetAt) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len возвращает число отслеживаемых счётчиков.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunJanitor периодически удаляет истёкшие счётчики до отмены ctx.
func (l *Limiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Удалены истёкшие счётчики лимитера", slog.Int("removed", n))
			}
		}
	}
}
