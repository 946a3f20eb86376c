package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	BaseURL          string
	AuthCookieSecure bool
	SnowflakeNode    int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe    StripeConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
	Reconcile ReconcileConfig
}

// StripeConfig replaces the process-wide API key with an explicit value
// handed to the components talking to Stripe.
type StripeConfig struct {
	SecretKey        string
	PublishableKey   string
	WebhookSecret    string
	WebhookTolerance time.Duration
	APIBase          string
	Timeout          time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CheckoutRatePerMinute float64
	CheckoutBurst         int
}

type KafkaConfig struct {
	Brokers      []string
	PaymentTopic string
}

type ReconcileConfig struct {
	Enabled      bool
	Interval     time.Duration
	PendingAfter time.Duration
	BatchSize    int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	return Config{
		AppName:          getenv("APP_SERVICE", "paydesk"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8000"),
		BaseURL:          strings.TrimRight(strings.TrimSpace(getenv("APP_BASE_URL", "")), "/"),
		AuthCookieSecure: authCookieSecure,
		SnowflakeNode:    getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paydesk"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "paydesk.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			PublishableKey:   strings.TrimSpace(getenv("STRIPE_PUBLISHABLE_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 300*time.Second),
			APIBase:          strings.TrimRight(strings.TrimSpace(getenv("STRIPE_API_BASE", "")), "/"),
			Timeout:          getenvDuration("STRIPE_TIMEOUT", 12*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:               getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:             strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:         getenv("REDIS_PASSWORD", ""),
			RedisDB:               getenvInt("REDIS_DB", 0),
			CheckoutRatePerMinute: getenvFloat("CHECKOUT_RATE_PER_MINUTE", 6),
			CheckoutBurst:         getenvInt("CHECKOUT_BURST", 3),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(getenv("KAFKA_BROKERS", "")),
			PaymentTopic: getenv("KAFKA_PAYMENT_TOPIC", "payments.status"),
		},
		Reconcile: ReconcileConfig{
			Enabled:      getenvBool("RECONCILE_ENABLED", false),
			Interval:     getenvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			PendingAfter: getenvDuration("RECONCILE_PENDING_AFTER", time.Hour),
			BatchSize:    getenvInt("RECONCILE_BATCH_SIZE", 50),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(seconds) * time.Second
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
