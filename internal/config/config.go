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
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	DispatchWorkers    int    `env:"DISPATCH_WORKERS,default=8"`
	WebhookWorkers     int    `env:"WEBHOOK_WORKERS,default=8"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	DedupWindowMinutes int    `env:"DEDUP_WINDOW_MINUTES,default=30"`
	SweepIntervalSecs  int    `env:"SWEEP_INTERVAL_SECS,default=300"`
	SweepBatchLimit    int    `env:"SWEEP_BATCH_LIMIT,default=100"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// DedupWindow is the outbound fingerprint suppression window.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// SweepInterval is the period of the retry reconciliation sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}
