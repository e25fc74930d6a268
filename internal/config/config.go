package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Scheduler SchedulerConfig
	Bridge    BridgeConfig
	Outbox    OutboxConfig
	Breaker   BreakerConfig
	Dispatch  DispatchConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	AutoStart bool
}

type BridgeConfig struct {
	URL     string
	Timeout time.Duration
}

type OutboxConfig struct {
	MaxRetries    int
	ContentMax    int
	PublicBaseURL string
}

type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

// DispatchConfig throttles bridge sends. RatePerSecond 0 disables throttling.
type DispatchConfig struct {
	RatePerSecond int
	Burst         int
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

// LoadAll reads the environment and reports every problem at once.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intOf := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}
	secondsOf := func(key string, def int) time.Duration {
		return time.Duration(intOf(key, def)) * time.Second
	}

	postgresURL, err := requireEnv("POSTGRES_URL")
	collect(err)
	bridgeURL, err := requireEnv("BRIDGE_URL")
	collect(err)
	autoStart, err := getEnvBool("SCHED_AUTOSTART", true)
	collect(err)
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Bridge: BridgeConfig{
			URL:     strings.TrimRight(bridgeURL, "/"),
			Timeout: secondsOf("BRIDGE_TIMEOUT_SECONDS", 10),
		},
		Outbox: OutboxConfig{
			MaxRetries:    intOf("OUTBOX_MAX_RETRIES", 5),
			ContentMax:    intOf("CONTENT_MAX", 4096),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Scheduler: SchedulerConfig{
			Interval:  secondsOf("SCHED_INTERVAL_SECONDS", 15),
			BatchSize: intOf("SCHED_BATCH_SIZE", 20),
			AutoStart: autoStart,
		},
		Breaker: BreakerConfig{
			FailureThreshold: intOf("BREAKER_FAILURE_THRESHOLD", 5),
			Window:           secondsOf("BREAKER_WINDOW_SECONDS", 60),
			Cooldown:         secondsOf("BREAKER_COOLDOWN_SECONDS", 30),
		},
		Dispatch: DispatchConfig{
			RatePerSecond: intOf("DISPATCH_RATE_PER_SECOND", 0),
			Burst:         intOf("DISPATCH_BURST", 1),
		},
		Log: LogConfig{
			Level:  level,
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intOf("REDIS_DB", 0),
			TTL:      secondsOf("REDIS_TTL_SECONDS", 86400),
		}
	}
	if url := os.Getenv("AMQP_URL"); url != "" {
		cfg.AMQP = AMQPConfig{
			Enabled:  true,
			URL:      url,
			Exchange: getEnv("AMQP_EXCHANGE", "careops.outbox"),
		}
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	positive := func(key string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}

	positive("SCHED_BATCH_SIZE", int64(cfg.Scheduler.BatchSize))
	positive("SCHED_INTERVAL_SECONDS", int64(cfg.Scheduler.Interval))
	positive("BRIDGE_TIMEOUT_SECONDS", int64(cfg.Bridge.Timeout))
	positive("OUTBOX_MAX_RETRIES", int64(cfg.Outbox.MaxRetries))
	positive("CONTENT_MAX", int64(cfg.Outbox.ContentMax))
	positive("BREAKER_FAILURE_THRESHOLD", int64(cfg.Breaker.FailureThreshold))
	positive("BREAKER_WINDOW_SECONDS", int64(cfg.Breaker.Window))
	positive("BREAKER_COOLDOWN_SECONDS", int64(cfg.Breaker.Cooldown))
	positive("DISPATCH_BURST", int64(cfg.Dispatch.Burst))

	if cfg.Dispatch.RatePerSecond < 0 {
		errs = append(errs, errors.New("DISPATCH_RATE_PER_SECOND must be >= 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	if f := cfg.Log.Format; f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", f))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return l, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
