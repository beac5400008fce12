// throttle.go: token bucket на клиента перед API. Не связан с квотами
// заявок на пользователя, которые проверяет сервисный слой.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/stl-directory/internal/api/errors"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle держит по одному rate.Limiter на адрес клиента.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
	logger   *slog.Logger
}

// NewThrottle разрешает perSecond запросов в секунду на клиента с заданным burst.
func NewThrottle(perSecond float64, burst int, logger *slog.Logger) *Throttle {
	return &Throttle{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "throttle")),
	}
}

// Allow забирает токен клиента. Если токенов нет, возвращает время
// ожидания следующего.
func (t *Throttle) Allow(client string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := t.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[client] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware отвечает 429 с Retry-After, когда у клиента кончились токены.
func (t *Throttle) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r)
			if ok, wait := t.Allow(client); !ok {
				t.logger.Warn("Клиент ограничен throttle",
					slog.String("client", client),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(wait)))
				apierrors.TooManyRequests(w, fmt.Sprintf("Too many requests, retry in %s", wait.Round(time.Second)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sweep забывает клиентов, неактивных дольше idle.
func (t *Throttle) Sweep(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-idle)
	removed := 0
	for k, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, k)
			removed++
		}
	}
	return removed
}

// RunJanitor периодически удаляет неактивных клиентов до отмены ctx.
func (t *Throttle) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(idle); n > 0 {
				t.logger.Debug("Удалены неактивные клиенты", slog.Int("removed", n))
			}
		}
	}
}

// ClientIP: хост запроса без порта. RealIP из chi выполняется раньше,
// поэтому прокси уже учтены.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RetryAfterSeconds округляет d вверх до целых секунд, минимум 1.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
