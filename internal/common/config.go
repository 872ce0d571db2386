package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort              int
	MetricsPort           int
	DatabaseURL           string
	RedisURL              string
	KafkaBrokers          []string
	DeliveryTopic         string
	PriorityDeliveryTopic string
	DLQTopic              string
	OTLPEndpoint          string
	ServiceName           string
	LogLevel              string

	RoutingConfigPath string
	FallbackChannel   string

	SlackToken         string
	SlackAPIURL        string
	SlackRatePerSecond float64

	WorkHoursStart int
	WorkHoursEnd   int
	WorkHoursTZ    *time.Location
	FlushInterval  time.Duration
}

func LoadConfig(service string) (*Config, error) {
	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	} else {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.DeliveryTopic = getEnv("DELIVERY_TOPIC", "slack.delivery")
	cfg.PriorityDeliveryTopic = getEnv("PRIORITY_DELIVERY_TOPIC", "slack.delivery.priority")
	cfg.DLQTopic = getEnv("DLQ_TOPIC", "dlq.slack.delivery")

	cfg.RoutingConfigPath = os.Getenv("ROUTING_CONFIG_PATH")
	cfg.FallbackChannel = os.Getenv("FALLBACK_CHANNEL")

	cfg.SlackToken = os.Getenv("SLACK_TOKEN")
	cfg.SlackAPIURL = getEnv("SLACK_API_URL", "https://slack.com/api")
	if cfg.SlackRatePerSecond, err = getEnvFloat("SLACK_RATE_PER_SECOND", 1); err != nil {
		return nil, err
	}

	if cfg.WorkHoursStart, err = getEnvInt("WORK_HOURS_START", 9); err != nil {
		return nil, err
	}
	if cfg.WorkHoursEnd, err = getEnvInt("WORK_HOURS_END", 17); err != nil {
		return nil, err
	}
	if cfg.WorkHoursStart < 0 || cfg.WorkHoursStart > 23 || cfg.WorkHoursEnd < 0 || cfg.WorkHoursEnd > 24 {
		return nil, fmt.Errorf("invalid work hours %d-%d", cfg.WorkHoursStart, cfg.WorkHoursEnd)
	}
	tz := getEnv("WORK_HOURS_TZ", "UTC")
	if cfg.WorkHoursTZ, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid value for WORK_HOURS_TZ: %w", err)
	}
	if cfg.FlushInterval, err = getEnvDuration("FLUSH_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}
