// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jason-s-yu/lobbyhub/internal/lobby"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	BrokerRedis = "redis"
	BrokerNone  = "none"
)

type Config struct {
	Port        int    `mapstructure:"port"`
	Store       string `mapstructure:"store"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
	Broker      string `mapstructure:"broker"`
	InstanceID  string `mapstructure:"instance_id"`
	RelayRemote bool   `mapstructure:"relay_remote"`

	PresenceTTL        time.Duration `mapstructure:"presence_ttl"`
	LobbyTTL           time.Duration `mapstructure:"lobby_ttl"`
	HeartbeatExtension time.Duration `mapstructure:"heartbeat_extension"`
	ActiveRewardAfter  time.Duration `mapstructure:"active_reward_after"`
	StreamPing         time.Duration `mapstructure:"stream_ping"`
	UserCacheTTL       time.Duration `mapstructure:"user_cache_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	RateLimitRetention time.Duration `mapstructure:"rate_limit_retention"`

	RealtimeTokenSecret string        `mapstructure:"realtime_token_secret"`
	RealtimeTokenTTL    time.Duration `mapstructure:"realtime_token_ttl"`
	CronSecret          string        `mapstructure:"cron_secret"`
	TokenExpireTime     string        `mapstructure:"token_expire_time"`
	SessionPrivateKey   string        `mapstructure:"session_private_key"`
	SessionPublicKey    string        `mapstructure:"session_public_key"`

	LogLevel string `mapstructure:"log_level"`

	// File is the config file that was read, empty when running on env and defaults.
	File string `mapstructure:"-"`
	// GeneratedSecret is set when no realtime token secret was configured.
	GeneratedSecret bool `mapstructure:"-"`
}

var defaults = map[string]any{
	"port":                  8080,
	"store":                 StorePostgres,
	"database_url":          "",
	"redis_addr":            "localhost:6379",
	"redis_db":              0,
	"broker":                BrokerRedis,
	"instance_id":           "",
	"relay_remote":          true,
	"presence_ttl":          "35s",
	"lobby_ttl":             "30m",
	"heartbeat_extension":   "30m",
	"active_reward_after":   "20m",
	"stream_ping":           "15s",
	"user_cache_ttl":        "5s",
	"sweep_interval":        "1m",
	"rate_limit_retention":  "48h",
	"realtime_token_secret": "",
	"realtime_token_ttl":    "1h",
	"cron_secret":           "",
	"token_expire_time":     "",
	"session_private_key":   "",
	"session_public_key":    "",
	"log_level":             "info",
}

// Load reads config/config.<CONFIG_ENV>.yaml if present, then the environment.
// Environment variables win over the file; FOO_BAR sets foo_bar.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigName("config." + env)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.RealtimeTokenSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate realtime secret: %w", err)
		}
		cfg.RealtimeTokenSecret = hex.EncodeToString(buf)
		cfg.GeneratedSecret = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required when store=postgres")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.Broker != BrokerRedis && c.Broker != BrokerNone {
		return fmt.Errorf("config: unknown broker %q", c.Broker)
	}
	if c.PresenceTTL <= 0 || c.LobbyTTL <= 0 || c.HeartbeatExtension <= 0 {
		return errors.New("config: presence_ttl, lobby_ttl and heartbeat_extension must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Lobby returns the lifecycle timings with the remaining limits at their defaults.
func (c *Config) Lobby() lobby.Config {
	lc := lobby.DefaultConfig()
	lc.LobbyTTL = c.LobbyTTL
	lc.HeartbeatExtension = c.HeartbeatExtension
	if c.ActiveRewardAfter > 0 {
		lc.ActiveRewardAfter = c.ActiveRewardAfter
	}
	return lc
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
