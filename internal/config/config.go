// Package config loads application configuration from defaults, an optional
// YAML file and NUDGE_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/identity"
	"github.com/bissquit/nudge/internal/notifications"
	"github.com/bissquit/nudge/internal/notifications/push"
	"github.com/bissquit/nudge/internal/pkg/mongodb"
	"github.com/bissquit/nudge/internal/pkg/postgres"
	"github.com/bissquit/nudge/internal/predictor"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NUDGE_"

// FileEnv names the environment variable holding the optional YAML path.
const FileEnv = "NUDGE_CONFIG"

// Config is the application configuration.
type Config struct {
	Server   ServerConfig    `koanf:"server"`
	Log      LogConfig       `koanf:"log"`
	Database postgres.Config `koanf:"database"`
	Mongo    mongodb.Config  `koanf:"mongo"`
	Push     push.Config     `koanf:"push"`
	AMQP     AMQPConfig      `koanf:"amqp"`
	JWT      identity.Config `koanf:"jwt"`
	Engine   EngineConfig    `koanf:"engine"`
	CORS     CORSConfig      `koanf:"cors"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	UserRateLimit     float64       `koanf:"user_rate_limit"`
	UserRateBurst     int           `koanf:"user_rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AMQPConfig configures the event consumer. The consumer is off when URL
// is empty.
type AMQPConfig struct {
	URL             string        `koanf:"url"`
	Exchange        string        `koanf:"exchange"`
	Queue           string        `koanf:"queue"`
	RoutingKeys     []string      `koanf:"routing_keys"`
	Prefetch        int           `koanf:"prefetch"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ReconnectDelay  time.Duration `koanf:"reconnect_delay"`
}

// EngineConfig configures the notification engine and its background jobs.
type EngineConfig struct {
	QueueSize            int                         `koanf:"queue_size"`
	BatchSize            int                         `koanf:"batch_size"`
	BufferSize           int                         `koanf:"buffer_size"`
	DefaultMaxDelayHours int                         `koanf:"default_max_delay_hours"`
	DrainInterval        time.Duration               `koanf:"drain_interval"`
	MaintainSchedule     string                      `koanf:"maintain_schedule"`
	BurnoutSchedule      string                      `koanf:"burnout_schedule"`
	PeakTimeSchedule     string                      `koanf:"peak_time_schedule"`
	EvictSchedule        string                      `koanf:"evict_schedule"`
	IdleTimeout          time.Duration               `koanf:"idle_timeout"`
	Trainer              predictor.TrainerConfig     `koanf:"trainer"`
	Defaults             domain.NotificationSettings `koanf:"defaults"`
}

// Notifications returns the orchestrator configuration.
func (e EngineConfig) Notifications() notifications.Config {
	return notifications.Config{
		QueueSize:            e.QueueSize,
		BatchSize:            e.BatchSize,
		BufferSize:           e.BufferSize,
		DefaultMaxDelayHours: e.DefaultMaxDelayHours,
		Trainer:              e.Trainer,
	}
}

// CORSConfig configures cross-origin requests.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	engine := notifications.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    60 * time.Second,
			UserRateLimit:     5,
			UserRateBurst:     20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: postgres.Config{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		Mongo: mongodb.Config{
			Database:        "nudge",
			ConnectTimeout:  10 * time.Second,
			ConnectAttempts: 5,
		},
		Push: push.Config{
			RateLimit:   50,
			TopicPrefix: "user_",
		},
		AMQP: AMQPConfig{
			Exchange:        "nudge.events",
			Queue:           "nudge.engine",
			RoutingKeys:     []string{"activity.#", "response.#"},
			Prefetch:        20,
			ConnectAttempts: 5,
			ReconnectDelay:  5 * time.Second,
		},
		Engine: EngineConfig{
			QueueSize:            engine.QueueSize,
			BatchSize:            engine.BatchSize,
			BufferSize:           engine.BufferSize,
			DefaultMaxDelayHours: engine.DefaultMaxDelayHours,
			DrainInterval:        time.Minute,
			MaintainSchedule:     "@every 1h",
			BurnoutSchedule:      "0 20 * * *",
			PeakTimeSchedule:     "0 * * * *",
			EvictSchedule:        "@every 10m",
			IdleTimeout:          time.Hour,
			Trainer:              predictor.DefaultTrainerConfig(),
			Defaults:             domain.DefaultNotificationSettings(),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads the configuration. Values from the file named by NUDGE_CONFIG
// override defaults; environment variables override both.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(FileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps NUDGE_SECTION_SOME_KEY to section.some_key. A double
// underscore descends one more level, so NUDGE_ENGINE_DEFAULTS__TIMEZONE
// becomes engine.defaults.timezone.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "config" {
		return ""
	}
	key = strings.ReplaceAll(key, "__", ".")
	return strings.Replace(key, "_", ".", 1)
}

// Config errors.
var (
	ErrMissingJWTSecret = errors.New("jwt.secret_key is required")
	ErrInvalidLogLevel  = errors.New("log.level must be debug, info, warn or error")
	ErrInvalidLogFormat = errors.New("log.format must be text or json")
	ErrInvalidEngine    = errors.New("invalid engine configuration")
)

// Validate checks the configuration for values the application cannot run
// with.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.SecretKey == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrInvalidLogLevel)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ErrInvalidLogFormat)
	}

	if c.Engine.QueueSize <= 0 || c.Engine.BatchSize <= 0 || c.Engine.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: queue, batch and buffer sizes must be positive", ErrInvalidEngine))
	}
	if c.Engine.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: drain_interval must be positive", ErrInvalidEngine))
	}
	if err := c.Engine.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: defaults: %w", ErrInvalidEngine, err))
	}

	return errors.Join(errs...)
}
