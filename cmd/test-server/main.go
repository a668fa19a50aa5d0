// Command test-server runs a complete ChitBox against throwaway dependencies for
// local end-to-end testing: Postgres in a container, an in-memory SMTP relay on
// port 1025 and a seeded user with a known app password.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"

	"github.com/chitbox/chitbox/internal/app"
	"github.com/chitbox/chitbox/internal/config"
	"github.com/chitbox/chitbox/internal/crypto"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/testutil"
)

const (
	testEmail       = "test@example.com"
	testAppPassword = "test-app-password"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("test server failed")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := testutil.NewTestSMTPServerForE2E()
	if err != nil {
		return fmt.Errorf("failed to start test SMTP relay: %w", err)
	}
	defer relay.Close()
	log.Info().Str("address", relay.Address).Msg("test SMTP relay started")

	if err := setupTestEnvironment(relay); err != nil {
		return err
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.SetLevel(cfg.LogLevel)

	postgresContainer, connStr, err := startPostgres(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to terminate Postgres container")
		}
	}()

	pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := seedTestUser(ctx, pool, cfg); err != nil {
		return err
	}

	chitbox, err := app.New(ctx, cfg, pool)
	if err != nil {
		return err
	}
	if err := chitbox.Listen(); err != nil {
		return err
	}

	log.Info().
		Str("http", chitbox.HTTPAddr()).
		Str("smtp", chitbox.SMTPAddr()).
		Str("imap", chitbox.IMAPAddr()).
		Str("user", testEmail).
		Str("app_password", testAppPassword).
		Msg("ChitBox test server ready, press Ctrl+C to stop")

	return chitbox.Serve(ctx)
}

// setupTestEnvironment points configuration at the throwaway dependencies.
// Values already present in the environment win.
func setupTestEnvironment(relay *testutil.TestSMTPServer) error {
	defaults := map[string]string{
		"CHITBOX_ENV":                   "test",
		"CHITBOX_TEST_MODE":             "true",
		"CHITBOX_DEFAULT_USER":          testEmail,
		"CHITBOX_ENCRYPTION_KEY_BASE64": "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM=",
		"CHITBOX_DB_PASSWORD":           "chitbox",
		"CHITBOX_DOMAIN":                "example.com",
		"CHITBOX_BLOB_DIR":              filepath.Join(os.TempDir(), "chitbox-test-blobs"),
		"RELAY_PROVIDER":                config.RelayProviderSMTP,
		"RELAY_HOST":                    relay.Host(),
		"RELAY_PORT":                    relay.Port(),
		"RELAY_USERNAME":                relay.Username(),
		"RELAY_PASSWORD":                relay.Password(),
		"OUTBOUND_RETRY_COOLDOWN":       "10s",
		"LOG_LEVEL":                     "debug",
	}

	for key, value := range defaults {
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	return nil
}

// startPostgres starts a test Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Info().Msg("starting test Postgres database")
	container, err := testutil.StartPostgres(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	return container, connStr, nil
}

// setupDatabase creates a database connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := testutil.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("connected to database and ran migrations")
	return pool, nil
}

// seedTestUser creates the test user with a known app password so SMTP AUTH and
// IMAP LOGIN work out of the box.
func seedTestUser(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
	userID, err := db.GetOrCreateUser(ctx, pool, testEmail)
	if err != nil {
		return fmt.Errorf("failed to get or create user: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}

	sealed, err := encryptor.Encrypt(testAppPassword)
	if err != nil {
		return fmt.Errorf("failed to encrypt app password: %w", err)
	}

	if err := db.SetAppPassword(ctx, pool, userID, sealed); err != nil {
		return fmt.Errorf("failed to save app password: %w", err)
	}

	log.Info().Str("user_id", userID).Msg("test user seeded")
	return nil
}
