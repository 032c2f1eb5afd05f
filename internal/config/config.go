package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	AuthVerifyURL     string `env:"AUTH_VERIFY_URL,required=true"`
	RedisURL          string `env:"REDIS_URL"`
	NominatimURL      string `env:"NOMINATIM_URL,default=https://nominatim.openstreetmap.org"`
	GeocodeRatePerSec int    `env:"GEOCODE_RATE_PER_SEC,default=10"`
	JobSlots          int    `env:"JOB_SLOTS,default=4"`
	RowConcurrency    int    `env:"ROW_CONCURRENCY,default=8"`
	MaxBatchRows      int    `env:"MAX_BATCH_ROWS,default=10000"`
	PreviewRows       int    `env:"PREVIEW_ROWS,default=50"`
	APIPort           int    `env:"API_PORT,default=8080"`
	MetricsPort       int    `env:"METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
