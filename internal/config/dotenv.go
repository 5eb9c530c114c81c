package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Addr                     string  `env:"ADDR"`
	DBDriver                 string  `env:"DB_DRIVER"`
	DatabaseURL              string  `env:"DATABASE_URL"`
	DBMaxOpenConns           int     `env:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int     `env:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeSeconds int     `env:"DB_CONN_MAX_LIFETIME_SECONDS"`
	DBConnMaxIdleTimeSeconds int     `env:"DB_CONN_MAX_IDLE_SECONDS"`
	PersistTimeoutMillis     int     `env:"PERSIST_TIMEOUT_MS"`
	PollSweepSeconds         int     `env:"POLL_SWEEP_SECONDS"`
	PollLeadInSeconds        int     `env:"POLL_LEAD_IN_SECONDS"`
	LotteryIdleMinutes       int     `env:"LOTTERY_IDLE_MINUTES"`
	RedisAddr                string  `env:"REDIS_ADDR"`
	RedisPassword            string  `env:"REDIS_PASSWORD"`
	RedisDB                  int     `env:"REDIS_DB"`
	RocketMQNameServer       string  `env:"ROCKETMQ_NAMESRV_ADDR"`
	RocketMQTopic            string  `env:"ROCKETMQ_TOPIC"`
	RateLimitPerSecond       float64 `env:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst           int     `env:"RATE_LIMIT_BURST"`
	CORSOrigins              string  `env:"CORS_ORIGINS"`
}

func Default() Config {
	return Config{
		Addr:                     ":8080",
		DBDriver:                 "postgres",
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		PersistTimeoutMillis:     3000,
		PollSweepSeconds:         10,
		PollLeadInSeconds:        0,
		LotteryIdleMinutes:       120,
		RocketMQTopic:            "meeting_live_events",
		RateLimitPerSecond:       5,
		RateLimitBurst:           10,
		CORSOrigins:              "*",
	}
}

// Load overlays environment variables on top of Default. Unset variables keep
// their default values.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Default(), err
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv("ADDR") == "" {
		cfg.Addr = ":" + port
	}
	return cfg, nil
}

func (c Config) PersistTimeout() time.Duration {
	if c.PersistTimeoutMillis <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.PersistTimeoutMillis) * time.Millisecond
}

func (c Config) SweepInterval() time.Duration {
	if c.PollSweepSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PollSweepSeconds) * time.Second
}

func (c Config) PollLeadIn() time.Duration {
	if c.PollLeadInSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PollLeadInSeconds) * time.Second
}

func (c Config) LotteryIdleTTL() time.Duration {
	if c.LotteryIdleMinutes <= 0 {
		return 0
	}
	return time.Duration(c.LotteryIdleMinutes) * time.Minute
}

func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
