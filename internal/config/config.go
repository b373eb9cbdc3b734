package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	User      UserConfig      `mapstructure:"user"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Transport TransportConfig `mapstructure:"transport"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Engine    EngineConfig    `mapstructure:"engine"`
}

// UserConfig identifies the local participant
type UserConfig struct {
	Id    string `mapstructure:"id"`
	Token string `mapstructure:"token"`
}

// BackendConfig holds the authoritative REST backend configuration
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TransportConfig holds push transport configuration
type TransportConfig struct {
	URL                  string        `mapstructure:"url"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	PingPeriod           time.Duration `mapstructure:"ping_period"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// RedisConfig holds Redis configuration for the cross-tab broadcast seam
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EngineConfig holds engine timing and sizing configuration
type EngineConfig struct {
	WindowBound    int           `mapstructure:"window_bound"`
	TypingThrottle time.Duration `mapstructure:"typing_throttle"`
	TypingExpiry   time.Duration `mapstructure:"typing_expiry"`
	PreviewLimit   int           `mapstructure:"preview_limit"`
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills in defaults for unset values
func (cfg *Config) SetDefaults() {
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = 30 * time.Second
	}
	if cfg.Transport.MaxMessageSize == 0 {
		cfg.Transport.MaxMessageSize = 51200
	}
	if cfg.Transport.WriteWait == 0 {
		cfg.Transport.WriteWait = 10 * time.Second
	}
	if cfg.Transport.PongWait == 0 {
		cfg.Transport.PongWait = 30 * time.Second
	}
	if cfg.Transport.PingPeriod == 0 {
		cfg.Transport.PingPeriod = 27 * time.Second
	}
	if cfg.Transport.ReconnectBaseDelay == 0 {
		cfg.Transport.ReconnectBaseDelay = time.Second
	}
	if cfg.Transport.ReconnectMaxDelay == 0 {
		cfg.Transport.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.Transport.MaxReconnectAttempts == 0 {
		cfg.Transport.MaxReconnectAttempts = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "chatsync:"
	}
	if cfg.Engine.WindowBound == 0 {
		cfg.Engine.WindowBound = 2
	}
	if cfg.Engine.TypingThrottle == 0 {
		cfg.Engine.TypingThrottle = 900 * time.Millisecond
	}
	if cfg.Engine.TypingExpiry == 0 {
		cfg.Engine.TypingExpiry = 4 * time.Second
	}
	if cfg.Engine.PreviewLimit == 0 {
		cfg.Engine.PreviewLimit = 50
	}
}
