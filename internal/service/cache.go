package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/stl-directory/internal/domain/model"
)

// Метрики кэша карточек.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_cache_hits_total",
		Help: "Попадания в кэш карточек.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_cache_misses_total",
		Help: "Промахи кэша карточек.",
	})
)

// BusinessCache: LRU карточек с TTL, свой в каждом экземпляре.
// Запись сбрасывается, когда модерация меняет её счётчики.
type BusinessCache struct {
	cache *expirable.LRU[string, *model.Business]
}

// NewBusinessCache создаёт кэш не более чем на maxSize записей.
func NewBusinessCache(maxSize int, ttl time.Duration) *BusinessCache {
	return &BusinessCache{cache: expirable.NewLRU[string, *model.Business](maxSize, nil, ttl)}
}

// Get возвращает карточку из кэша.
func (c *BusinessCache) Get(id string) (*model.Business, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или заменяет запись.
func (c *BusinessCache) Set(id string, b *model.Business) {
	c.cache.Add(id, b)
}

// Delete сбрасывает запись.
func (c *BusinessCache) Delete(id string) {
	c.cache.Remove(id)
}

// Len возвращает число живых записей.
func (c *BusinessCache) Len() int {
	return c.cache.Len()
}
