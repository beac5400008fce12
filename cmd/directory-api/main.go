// Точка входа directory-api: сервис приёма заявок и чтения каталога
// местного бизнеса. Загружает конфигурацию, применяет миграции и
// подключается к PostgreSQL, подключает объектное хранилище и
// опциональные Redis и Kafka, собирает сервисы и запускает HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/stl-directory/internal/api/handlers"
	"github.com/bigkaa/stl-directory/internal/api/middleware"
	"github.com/bigkaa/stl-directory/internal/config"
	"github.com/bigkaa/stl-directory/internal/database"
	"github.com/bigkaa/stl-directory/internal/events"
	"github.com/bigkaa/stl-directory/internal/lock"
	"github.com/bigkaa/stl-directory/internal/ratelimit"
	"github.com/bigkaa/stl-directory/internal/repository"
	"github.com/bigkaa/stl-directory/internal/server"
	"github.com/bigkaa/stl-directory/internal/service"
	"github.com/bigkaa/stl-directory/internal/storage/objectstore"
	"github.com/bigkaa/stl-directory/internal/storage/redisstore"
	"github.com/bigkaa/stl-directory/internal/validation"
)

const (
	serviceID      = "directory-api"
	dephealthGroup = "stl-directory"
)

func main() {
	// 1. Конфигурация из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логгер
	logger := config.SetupLogger(cfg)
	logger.Info("directory-api запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	// 3. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Пул соединений PostgreSQL
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 *sql.DB поверх пула для проверок зависимостей
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Объектное хранилище
	var (
		objects objectstore.Store
		media   http.Handler
	)
	switch cfg.StorageBackend {
	case config.StorageBackendGCS:
		gcs, err := objectstore.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON, cfg.StoragePublicBaseURL)
		if err != nil {
			logger.Error("Ошибка создания клиента GCS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer gcs.Close()
		if err := gcs.BucketReachable(ctx); err != nil {
			logger.Warn("Бакет GCS пока недоступен",
				slog.String("bucket", cfg.GCSBucket),
				slog.String("error", err.Error()),
			)
		}
		objects = gcs
	default:
		local, err := objectstore.NewLocalStore(cfg.StorageLocalRoot, cfg.StoragePublicBaseURL)
		if err != nil {
			logger.Error("Ошибка открытия локального хранилища",
				slog.String("root", cfg.StorageLocalRoot),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		objects = local
		media = local.Handler()
	}

	// 6. Redis (опционально): маркеры дубликатов и блокировки заявок
	var (
		markers      service.MarkerStore
		locker       lock.Locker = lock.Noop{}
		redisChecker handlers.ReadinessChecker
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.NewClient(ctx, cfg)
		if err != nil {
			logger.Warn("Redis недоступен, работаем без маркеров и блокировок",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		} else {
			defer rdb.Close()
			markers = redisstore.NewMarkers(rdb, cfg.MarkerTTL)
			locker = lock.NewRedisLocker(rdb, cfg.SubmissionLockTTL, logger)
			redisChecker = redisstore.NewReadinessChecker(rdb)
			logger.Info("Redis подключён", slog.String("addr", cfg.RedisAddr))
		}
	}

	// 7. Kafka (опционально): доменные события
	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaPub.Close(); err != nil {
				logger.Warn("Ошибка закрытия Kafka writer", slog.String("error", err.Error()))
			}
		}()
		publisher = kafkaPub
		logger.Info("Публикация событий в Kafka включена",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	// 8. Репозитории и сервисы
	store := repository.NewStore(pool)
	txRunner := repository.NewTxRunner(pool)

	limiter := ratelimit.New(ratelimit.WithLogger(logger))
	go limiter.RunJanitor(ctx, cfg.RateLimitSweepEvery)

	guard := service.NewGuard(store.Reviews, store.Businesses, markers, cfg.BusinessPerOwner, logger)
	stager := service.NewStager(objects, cfg.MaxUploadSize, cfg.StagingConcurrency, logger)

	submissions := service.NewSubmissionService(service.SubmissionDeps{
		Store:   store,
		Tx:      txRunner,
		Guard:   guard,
		Stager:  stager,
		Limiter: limiter,
		Limits: service.SubmissionLimits{
			Review:   service.RateLimit{Max: cfg.ReviewRateMax, Window: cfg.ReviewRateWindow},
			Business: service.RateLimit{Max: cfg.BusinessRateMax, Window: cfg.BusinessRateWindow},
			Contact:  service.RateLimit{Max: cfg.ContactRateMax, Window: cfg.ContactRateWindow},
		},
		Locker:    locker,
		Publisher: publisher,
		Logger:    logger,
	})

	cache := service.NewBusinessCache(cfg.CacheSize, cfg.CacheTTL)
	directory := service.NewDirectoryService(store, txRunner, cache, publisher, logger)

	// 9. Проверки готовности
	idpChecker, err := middleware.NewIdPReadinessChecker(cfg.JWTJWKSURL, "", cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания проверки готовности IdP", slog.String("error", err.Error()))
		os.Exit(1)
	}
	checkers := []handlers.NamedChecker{
		{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		{Name: "identity_provider", Checker: idpChecker},
	}
	if redisChecker != nil {
		checkers = append(checkers, handlers.NamedChecker{Name: "redis", Checker: redisChecker})
	}
	healthHandler := handlers.NewHealthHandler(checkers...)

	// 10. API handler
	// все вложения самой большой формы (logo, banner, gallery) плюс 1 MiB на поля
	maxBody := cfg.MaxUploadSize*int64(validation.MaxGalleryImages+2) + 1<<20
	apiHandler := handlers.NewAPIHandler(submissions, directory, handlers.Options{
		MaxBodySize: maxBody,
		Production:  cfg.IsProduction(),
		AdminRole:   cfg.AdminRole,
	}, logger)

	// 11. JWT middleware и HTTP throttle
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		"",
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	throttle := middleware.NewThrottle(cfg.HTTPRatePerSecond, cfg.HTTPRateBurst, logger)
	go throttle.RunJanitor(ctx, cfg.RateLimitSweepEvery, cfg.RateLimitSweepEvery)

	// 12. topologymetrics: PostgreSQL и IdP
	dephealthSvc, err := service.NewDephealthService(
		serviceID,
		dephealthGroup,
		pgDB,
		cfg.DatabaseURL("postgres"),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, мониторинг зависимостей отключён",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. HTTP-сервер (блокирует до SIGINT/SIGTERM)
	srv := server.New(cfg, logger, server.Routes{
		API:      apiHandler,
		Health:   healthHandler,
		JWTAuth:  jwtAuth,
		Throttle: throttle,
		Media:    media,
	})
	runErr := srv.Run()

	// 14. Остановка фоновых задач
	cancel()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("directory-api остановлен")
}
