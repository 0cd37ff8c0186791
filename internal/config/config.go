// Package config loads the client configuration from an optional yaml file,
// a .env file and CHATCLIENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Name         string `mapstructure:"NAME" validate:"required"`
		Env          string `mapstructure:"ENV" validate:"oneof=development staging production test"`
		ListenAddr   string `mapstructure:"LISTEN_ADDR" validate:"required"`
		ControlToken string `mapstructure:"CONTROL_TOKEN"`
		LogLevel     string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
		RateLimitRPS int    `mapstructure:"RATE_LIMIT_RPS" validate:"gte=0"`
		Debug        bool   `mapstructure:"DEBUG"`
	} `mapstructure:"APP"`

	Server struct {
		WSURL      string `mapstructure:"WS_URL" validate:"required,url"`
		APIBaseURL string `mapstructure:"API_BASE_URL" validate:"required,url"`
	} `mapstructure:"SERVER"`

	Realtime struct {
		ReconnectDelay    time.Duration `mapstructure:"RECONNECT_DELAY" validate:"gt=0"`
		ReconnectAttempts uint64        `mapstructure:"RECONNECT_ATTEMPTS"`
		OutboxCapacity    int           `mapstructure:"OUTBOX_CAPACITY" validate:"gt=0"`
		HistoryLimit      int           `mapstructure:"HISTORY_LIMIT" validate:"gte=0"`
		TypingInterval    time.Duration `mapstructure:"TYPING_INTERVAL" validate:"gt=0"`
		MaxImageBytes     int64         `mapstructure:"MAX_IMAGE_BYTES" validate:"gt=0"`
	} `mapstructure:"REALTIME"`

	Database struct {
		Postgres struct {
			DSN string `mapstructure:"DSN"`
		} `mapstructure:"POSTGRES"`
		Redis struct {
			Addr     string `mapstructure:"ADDR"`
			Password string `mapstructure:"PASSWORD"`
			DB       int    `mapstructure:"DB" validate:"gte=0"`
			Key      string `mapstructure:"KEY" validate:"required"`
		} `mapstructure:"REDIS"`
	} `mapstructure:"DATABASE"`

	RabbitMQ struct {
		URL       string `mapstructure:"URL"`
		Exchange  string `mapstructure:"EXCHANGE" validate:"required"`
		AuditKey  string `mapstructure:"AUDIT_KEY" validate:"required"`
		EventsKey string `mapstructure:"EVENTS_KEY" validate:"required"`
	} `mapstructure:"RABBITMQ"`

	Tracing struct {
		Endpoint string `mapstructure:"ENDPOINT"`
	} `mapstructure:"TRACING"`

	Session struct {
		Token  string `mapstructure:"TOKEN"`
		UserID string `mapstructure:"USER_ID"`
	} `mapstructure:"SESSION"`
}

// Load reads configuration. paths are searched for chatclient.yaml; a missing
// file is not an error.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	v := viper.New()
	v.SetConfigName("chatclient")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("CHATCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("config file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("env", cfg.App.Env).Msg("configuration loaded...")
	return &cfg, nil
}

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("APP.NAME", "chat-client")
	v.SetDefault("APP.ENV", "development")
	v.SetDefault("APP.LISTEN_ADDR", "127.0.0.1:8090")
	v.SetDefault("APP.CONTROL_TOKEN", "")
	v.SetDefault("APP.LOG_LEVEL", "info")
	v.SetDefault("APP.RATE_LIMIT_RPS", 50)
	v.SetDefault("APP.DEBUG", false)

	v.SetDefault("SERVER.WS_URL", "ws://localhost:3000/socket")
	v.SetDefault("SERVER.API_BASE_URL", "http://localhost:3000")

	v.SetDefault("REALTIME.RECONNECT_DELAY", 2*time.Second)
	v.SetDefault("REALTIME.RECONNECT_ATTEMPTS", 5)
	v.SetDefault("REALTIME.OUTBOX_CAPACITY", 500)
	v.SetDefault("REALTIME.HISTORY_LIMIT", 200)
	v.SetDefault("REALTIME.TYPING_INTERVAL", 3*time.Second)
	v.SetDefault("REALTIME.MAX_IMAGE_BYTES", 5<<20)

	v.SetDefault("DATABASE.POSTGRES.DSN", "")
	v.SetDefault("DATABASE.REDIS.ADDR", "")
	v.SetDefault("DATABASE.REDIS.PASSWORD", "")
	v.SetDefault("DATABASE.REDIS.DB", 0)
	v.SetDefault("DATABASE.REDIS.KEY", "chatclient:session")

	v.SetDefault("RABBITMQ.URL", "")
	v.SetDefault("RABBITMQ.EXCHANGE", "chat.events")
	v.SetDefault("RABBITMQ.AUDIT_KEY", "audit.chat-client")
	v.SetDefault("RABBITMQ.EVENTS_KEY", "events.chat-client")

	v.SetDefault("TRACING.ENDPOINT", "")

	v.SetDefault("SESSION.TOKEN", "")
	v.SetDefault("SESSION.USER_ID", "")
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
