package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Dispatcher DispatcherConfig
	Retention  RetentionConfig
	Stripe     StripeConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// RabbitMQConfig describes the optional broker ingestion bridge. The
// engine runs without a broker when neither URL nor Host is set.
type RabbitMQConfig struct {
	URL           string
	Host          string
	Port          string
	User          string
	Password      string
	VHost         string
	IngestQueue   string
	PrefetchCount int
}

type DispatcherConfig struct {
	Interval            time.Duration
	BatchSize           int
	MaxRetries          int
	HTTPTimeout         time.Duration
	MaxResponseBodySize int
}

type RetentionConfig struct {
	Interval time.Duration
	Window   time.Duration
}

type StripeConfig struct {
	WebhookSecret string
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: getDefault("SERVER_PORT", "8080"),
			Host: getDefault("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  getDefault("DB_SSLMODE", "disable"),
			Migrate:  getBool("DB_MIGRATE", false),
		},
		RabbitMQ: RabbitMQConfig{
			URL:           os.Getenv("RABBITMQ_URL"),
			Host:          os.Getenv("RABBITMQ_HOST"),
			Port:          getDefault("RABBITMQ_PORT", "5672"),
			User:          os.Getenv("RABBITMQ_USER"),
			Password:      os.Getenv("RABBITMQ_PASSWORD"),
			VHost:         getDefault("RABBITMQ_VHOST", "/"),
			IngestQueue:   getDefault("RABBITMQ_INGEST_QUEUE", "webhook.events"),
			PrefetchCount: getInt("RABBITMQ_PREFETCH_COUNT", 10),
		},
		Dispatcher: DispatcherConfig{
			Interval:            getDuration("DISPATCH_INTERVAL", time.Second),
			BatchSize:           getInt("DISPATCH_BATCH_SIZE", 10),
			MaxRetries:          getInt("DISPATCH_MAX_RETRIES", 3),
			HTTPTimeout:         getDuration("DELIVERY_HTTP_TIMEOUT", 30*time.Second),
			MaxResponseBodySize: getInt("DELIVERY_MAX_RESPONSE_BODY", 64*1024),
		},
		Retention: RetentionConfig{
			Interval: getDuration("RETENTION_INTERVAL", time.Hour),
			Window:   getDuration("RETENTION_WINDOW", 7*24*time.Hour),
		},
		Stripe: StripeConfig{
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// BrokerEnabled reports whether the RabbitMQ ingestion bridge should run.
func (c *RabbitMQConfig) BrokerEnabled() bool {
	return c.URL != "" || c.Host != ""
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}

func getDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
