package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/stl-directory/internal/config"
)

// setupTestDB запускает PostgreSQL в контейнере и возвращает конфигурацию
// для подключения к нему.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("directory_test"),
		postgres.WithUsername("directory"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	t.Setenv("LD_DB_HOST", host)
	t.Setenv("LD_DB_PORT", port.Port())
	t.Setenv("LD_DB_NAME", "directory_test")
	t.Setenv("LD_DB_USER", "directory")
	t.Setenv("LD_DB_PASSWORD", "test-password")
	t.Setenv("LD_DB_SSL_MODE", "disable")
	t.Setenv("LD_JWT_JWKS_URL", "http://localhost:8180/certs")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	status, _ := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady status = %q, want ok", status)
	}
}

func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// повторный запуск получает ErrNoChange
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"businesses", "business_images", "reviews", "contact_messages"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s not created", table)
		}
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := &config.Config{
		DBHost: "127.0.0.1", DBPort: 1, DBName: "x", DBUser: "x", DBPassword: "x", DBSSLMode: "disable",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg, testLogger()); err == nil {
		t.Fatal("Connect to closed port succeeded")
	}
}
