package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL,required=true"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	DispatchWebhookURL string `env:"DISPATCH_WEBHOOK_URL,required=true"`

	// Optional: when unset, distances stay great-circle estimates.
	RoutingServiceURL string `env:"ROUTING_SERVICE_URL"`

	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	WorkerConcurrency   int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
	ExpiryScanSeconds   int    `env:"EXPIRY_SCAN_SECONDS,default=60"`
	AttributionTTLHours int    `env:"ATTRIBUTION_TTL_HOURS,default=24"`
	ExpiryScanLimit     int    `env:"EXPIRY_SCAN_LIMIT,default=100"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ExpiryScanInterval() time.Duration {
	return time.Duration(c.ExpiryScanSeconds) * time.Second
}

func (c *Config) AttributionTTL() time.Duration {
	return time.Duration(c.AttributionTTLHours) * time.Hour
}
