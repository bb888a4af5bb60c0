package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "FORUMSYNC"

type Config struct {
	ServerURL            string        `envconfig:"SERVER_URL" required:"true" validate:"required,url"`
	SocketURL            string        `envconfig:"SOCKET_URL" validate:"omitempty,url"`
	Token                string        `envconfig:"TOKEN"`
	LogLevel             string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	ConnectTimeout       time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5" validate:"gte=1,lte=20"`
	ReconnectDelay       time.Duration `envconfig:"RECONNECT_DELAY" default:"2s" validate:"gte=0"`
	KeepaliveInterval    time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"25s" validate:"gte=0"`
	TypingThrottle       time.Duration `envconfig:"TYPING_THROTTLE" default:"3s" validate:"gte=0"`
	HistoryLimit         int           `envconfig:"HISTORY_LIMIT" default:"50" validate:"gte=1,lte=500"`
	MetricsAddr          string        `envconfig:"METRICS_ADDR"`
}

var validate = validator.New()

// Load reads the configuration from the environment. Values from envFiles
// are loaded first and never override variables already set.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load env file %q: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func NewConfig(serverURL, socketURL string) (*Config, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server url cannot be empty")
	}

	cfg := &Config{
		ServerURL:            serverURL,
		SocketURL:            socketURL,
		LogLevel:             "info",
		ConnectTimeout:       10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       2 * time.Second,
		KeepaliveInterval:    25 * time.Second,
		TypingThrottle:       3 * time.Second,
		HistoryLimit:         50,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed on %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// WebsocketURL returns the socket endpoint, derived from the server URL when
// not configured explicitly.
func (c *Config) WebsocketURL() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	return deriveSocketURL(c.ServerURL)
}
