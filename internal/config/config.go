package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Relay providers understood by the outbound queue.
const (
	RelayProviderSMTP   = "smtp"
	RelayProviderSES    = "ses"
	RelayProviderStdout = "stdout"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	LogLevel            string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string

	// Domain is announced in the SMTP banner and used as the right-hand side of generated Message-IDs.
	Domain             string
	SMTPPort           string
	SMTPMaxMessageSize int64
	SMTPMaxRecipients  int
	SMTPReadTimeout    time.Duration
	SMTPWriteTimeout   time.Duration
	IMAPPort           string
	BlobDir            string
	UserCacheTTL       time.Duration

	RelayProvider      string
	RelayHost          string
	RelayPort          string
	RelayUsername      string
	RelayPassword      string
	RelayTimeout       time.Duration
	SESRegion          string
	SESAccessKeyID     string
	SESSecretAccessKey string
	AbuseContact       string
	UnsubscribeURL     string

	OutboundMaxAttempts     int
	OutboundProcessInterval time.Duration
	OutboundRetryCooldown   time.Duration
	OutboundBatchSize       int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("CHITBOX_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("CHITBOX_ENCRYPTION_KEY_BASE64"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		DBHost:              getEnvOrDefault("CHITBOX_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("CHITBOX_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("CHITBOX_DB_USER", "chitbox"),
		DBPassword:          os.Getenv("CHITBOX_DB_PASSWORD"),
		DBName:              getEnvOrDefault("CHITBOX_DB_NAME", "chitbox"),
		DBSSLMode:           getEnvOrDefault("CHITBOX_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		Domain:              getEnvOrDefault("CHITBOX_DOMAIN", "localhost"),
		SMTPPort:            getEnvOrDefault("SMTP_PORT", "2525"),
		IMAPPort:            getEnvOrDefault("IMAP_PORT", "1143"),
		BlobDir:             getEnvOrDefault("CHITBOX_BLOB_DIR", "data/blobs"),
		RelayProvider:       getEnvOrDefault("RELAY_PROVIDER", RelayProviderSMTP),
		RelayHost:           os.Getenv("RELAY_HOST"),
		RelayPort:           getEnvOrDefault("RELAY_PORT", "587"),
		RelayUsername:       os.Getenv("RELAY_USERNAME"),
		RelayPassword:       os.Getenv("RELAY_PASSWORD"),
		SESRegion:           os.Getenv("SES_REGION"),
		SESAccessKeyID:      os.Getenv("SES_ACCESS_KEY_ID"),
		SESSecretAccessKey:  os.Getenv("SES_SECRET_ACCESS_KEY"),
		AbuseContact:        os.Getenv("ABUSE_CONTACT"),
		UnsubscribeURL:      os.Getenv("UNSUBSCRIBE_URL"),
	}

	var err error
	if config.SMTPMaxMessageSize, err = getEnvInt64("SMTP_MAX_MESSAGE_BYTES", 10*1024*1024); err != nil {
		return nil, err
	}
	if config.SMTPMaxRecipients, err = getEnvInt("SMTP_MAX_RECIPIENTS", 100); err != nil {
		return nil, err
	}
	if config.SMTPReadTimeout, err = getEnvDuration("SMTP_READ_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if config.SMTPWriteTimeout, err = getEnvDuration("SMTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if config.UserCacheTTL, err = getEnvDuration("USER_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.RelayTimeout, err = getEnvDuration("RELAY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.OutboundMaxAttempts, err = getEnvInt("OUTBOUND_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if config.OutboundProcessInterval, err = getEnvDuration("OUTBOUND_PROCESS_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if config.OutboundRetryCooldown, err = getEnvDuration("OUTBOUND_RETRY_COOLDOWN", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.OutboundBatchSize, err = getEnvInt("OUTBOUND_BATCH_SIZE", 10); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("CHITBOX_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("CHITBOX_DB_PASSWORD is required")
	}

	if c.SMTPMaxMessageSize <= 0 {
		return fmt.Errorf("SMTP_MAX_MESSAGE_BYTES must be positive")
	}

	if c.OutboundMaxAttempts <= 0 {
		return fmt.Errorf("OUTBOUND_MAX_ATTEMPTS must be positive")
	}

	if c.OutboundBatchSize <= 0 {
		return fmt.Errorf("OUTBOUND_BATCH_SIZE must be positive")
	}

	switch c.RelayProvider {
	case RelayProviderSMTP:
		if c.RelayHost == "" {
			return fmt.Errorf("RELAY_HOST is required when RELAY_PROVIDER is %q", RelayProviderSMTP)
		}
	case RelayProviderSES:
		if c.SESRegion == "" {
			return fmt.Errorf("SES_REGION is required when RELAY_PROVIDER is %q", RelayProviderSES)
		}
	case RelayProviderStdout:
	default:
		return fmt.Errorf("unknown RELAY_PROVIDER %q", c.RelayProvider)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// RelayAddress returns host:port of the outbound SMTP relay.
func (c *Config) RelayAddress() string {
	return c.RelayHost + ":" + c.RelayPort
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return parsed, nil
}
