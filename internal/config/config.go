package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort int `env:"HTTP_PORT"`

	DBConfig struct {
		Host     string `env:"PAYMENTS_DB_HOST"`
		Port     int    `env:"PAYMENTS_DB_PORT"`
		User     string `env:"PAYMENTS_DB_USER"`
		Password string `env:"PAYMENTS_DB_PASSWORD"`
		Name     string `env:"PAYMENTS_DB_NAME"`
		SSLMode  string `env:"PAYMENTS_DB_SSLMODE"`
	}

	KafkaBrokerURL            string `env:"KAFKA_BROKER_URL"`
	KafkaPaymentStatusTopic   string `env:"KAFKA_PAYMENT_STATUS_TOPIC"`
	KafkaPaymentRequestsTopic string `env:"KAFKA_PAYMENT_REQUESTS_TOPIC"`
	KafkaConsumerGroup        string `env:"KAFKA_CONSUMER_GROUP"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT"`

	// Empty means tokens are cached in process memory.
	RedisURL string `env:"REDIS_URL"`

	Gateway struct {
		SandboxURL    string        `env:"GATEWAY_SANDBOX_URL"`
		ProductionURL string        `env:"GATEWAY_PRODUCTION_URL"`
		Timezone      string        `env:"GATEWAY_TIMEZONE"`
		Timeout       time.Duration `env:"GATEWAY_TIMEOUT"`
		MaxAttempts   int           `env:"GATEWAY_MAX_ATTEMPTS"`
		CallbackURL   string        `env:"CALLBACK_URL"`
	}

	TokenTTL        time.Duration `env:"TOKEN_TTL"`
	TokenExpirySkew time.Duration `env:"TOKEN_EXPIRY_SKEW"`

	PendingTimeout time.Duration `env:"PENDING_TIMEOUT"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

func LoadConfig() (*Config, error) {
	// A missing .env file is fine; the environment may be populated elsewhere.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8082)

	cfg.DBConfig.Host = getEnvOrDefault("PAYMENTS_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("PAYMENTS_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("PAYMENTS_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("PAYMENTS_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("PAYMENTS_DB_NAME", "rentpay_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("PAYMENTS_DB_SSLMODE", "disable")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaPaymentStatusTopic = getEnvOrDefault("KAFKA_PAYMENT_STATUS_TOPIC", "rent_payment_status")
	cfg.KafkaPaymentRequestsTopic = getEnvOrDefault("KAFKA_PAYMENT_REQUESTS_TOPIC", "rent_payment_requests")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "rentpay-service-group")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)

	cfg.RedisURL = getEnvOrDefault("REDIS_URL", "")

	cfg.Gateway.SandboxURL = getEnvOrDefault("GATEWAY_SANDBOX_URL", "https://sandbox.safaricom.co.ke")
	cfg.Gateway.ProductionURL = getEnvOrDefault("GATEWAY_PRODUCTION_URL", "https://api.safaricom.co.ke")
	cfg.Gateway.Timezone = getEnvOrDefault("GATEWAY_TIMEZONE", "Africa/Nairobi")
	cfg.Gateway.Timeout = getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second)
	cfg.Gateway.MaxAttempts = getEnvAsInt("GATEWAY_MAX_ATTEMPTS", 3)
	cfg.Gateway.CallbackURL = getEnvOrDefault("CALLBACK_URL", "")

	cfg.TokenTTL = getEnvAsDuration("TOKEN_TTL", 55*time.Minute)
	cfg.TokenExpirySkew = getEnvAsDuration("TOKEN_EXPIRY_SKEW", 60*time.Second)

	cfg.PendingTimeout = getEnvAsDuration("PENDING_TIMEOUT", 5*time.Minute)
	cfg.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", 1*time.Minute)

	cfg.CORSAllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the gateway-related settings against the gateway's documented
// limits: tokens live for one hour and an STK prompt expires within a minute or two.
func (c *Config) Validate() error {
	if c.Gateway.CallbackURL == "" {
		return fmt.Errorf("CALLBACK_URL is required")
	}
	u, err := url.Parse(c.Gateway.CallbackURL)
	if err != nil || u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return fmt.Errorf("CALLBACK_URL must be an absolute http(s) URL, got %q", c.Gateway.CallbackURL)
	}
	if _, err := time.LoadLocation(c.Gateway.Timezone); err != nil {
		return fmt.Errorf("invalid GATEWAY_TIMEZONE %q: %w", c.Gateway.Timezone, err)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.Gateway.MaxAttempts < 1 || c.Gateway.MaxAttempts > 5 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be between 1 and 5, got %d", c.Gateway.MaxAttempts)
	}
	if c.TokenTTL < time.Minute || c.TokenTTL > time.Hour {
		return fmt.Errorf("TOKEN_TTL must be between 1m and 1h, got %s", c.TokenTTL)
	}
	if c.TokenExpirySkew < 0 || c.TokenExpirySkew >= c.TokenTTL {
		return fmt.Errorf("TOKEN_EXPIRY_SKEW must be non-negative and below TOKEN_TTL")
	}
	if c.PendingTimeout < time.Minute {
		return fmt.Errorf("PENDING_TIMEOUT must be at least 1m, got %s", c.PendingTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func (c *Config) GatewayLocation() *time.Location {
	loc, err := time.LoadLocation(c.Gateway.Timezone)
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
