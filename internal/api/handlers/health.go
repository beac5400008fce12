// health.go: /health/live, /health/ready and /metrics.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/stl-directory/internal/config"
)

// ReadinessChecker сообщает статус зависимости: "ok", "degraded" или "fail".
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// NamedChecker: проверка и её ключ в ответе readiness.
type NamedChecker struct {
	Name    string
	Checker ReadinessChecker
}

// HealthHandler обслуживает пробы и метрики.
type HealthHandler struct {
	checkers    []NamedChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик. Checker == nil даёт "fail".
func NewHealthHandler(checkers ...NamedChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive возвращает 200, пока процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "directory-api",
	})
}

// HealthReady выполняет все проверки. 503, если хоть одна провалена.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "directory-api",
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	statuses := make([]string, 0, len(h.checkers))
	for _, c := range h.checkers {
		res := healthCheckResult{Status: "fail", Message: "not initialized"}
		if c.Checker != nil {
			res.Status, res.Message = c.Checker.CheckReady()
		}
		resp.Checks[c.Name] = res
		statuses = append(statuses, res.Status)
	}
	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics отдаёт метрики Prometheus.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: "fail", если есть проваленная проверка, "degraded",
// если есть деградированная, иначе "ok".
func overallStatus(statuses ...string) string {
	degraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "ok"
}
