// dephealth.go: мониторинг зависимостей через topologymetrics.
//
// directory-api отслеживает:
//   - PostgreSQL через существующий pgxpool (режим пула, critical)
//   - JWKS endpoint провайдера по HTTP (critical)
//
// Метрики отдаются на /metrics рядом с метриками сервиса:
// app_dependency_health, app_dependency_latency_seconds,
// app_dependency_status, app_dependency_status_detail.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрирует фабрику HTTP-проверок
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService выполняет периодические проверки зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService регистрирует метрики в глобальном реестре Prometheus.
//
//   - db: *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
//   - pgConnURL только для меток зависимости PostgreSQL, соединение по нему не открывается
//   - jwksURL проверяется GET-запросом по его собственному пути
func NewDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, pgConnURL, jwksURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer использует registerer вместо
// глобального реестра. Для тестов.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, pgConnURL, jwksURL, checkInterval,
		logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	parsed, err := url.Parse(jwksURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid JWKS URL %q", jwksURL)
	}
	healthPath := parsed.Path
	if healthPath == "" {
		healthPath = "/"
	}

	idpOpts := []dephealth.DependencyOption{
		dephealth.FromURL(jwksURL),
		dephealth.WithHTTPHealthPath(healthPath),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}
	if parsed.Scheme == "https" {
		idpOpts = append(idpOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP("identity-provider", idpOpts...),
	}
	if db != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(pgConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает периодические проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health: имя зависимости и результат её последней проверки.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
