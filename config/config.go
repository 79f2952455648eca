package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the gateway. Tags use
// mapstructure for Viper unmarshalling; every option is also reachable as an
// environment variable.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// Trust policy, comma-separated lists. TrustedIssuersRaw is
	// mandatory; TrustedClientsRaw is enforced only when non-empty.
	TrustedIssuersRaw string `mapstructure:"TRUSTED_ISSUERS"`
	TrustedClientsRaw string `mapstructure:"TRUSTED_CLIENTS"`

	ExpiryGraceSec  int `mapstructure:"EXPIRY_GRACE_SEC"`
	MaxTokenAgeMin  int `mapstructure:"MAX_TOKEN_AGE_MIN"`
	JWKSCacheTTLMin int `mapstructure:"JWKS_CACHE_TTL_MIN"`
	JWKSTimeoutSec  int `mapstructure:"JWKS_TIMEOUT_SEC"`

	RateLimitMax       int `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindowSec int `mapstructure:"RATE_LIMIT_WINDOW_SEC"`

	SessionCeiling     int `mapstructure:"SESSION_CEILING"`
	SessionCeilingHour int `mapstructure:"SESSION_CEILING_HOUR"`

	// Replay defense. With REPLAY_REDIS_ADDR set the seen-jti set lives
	// in Redis and is shared across instances; otherwise it is
	// process-local.
	ReplayProtection bool   `mapstructure:"REPLAY_PROTECTION"`
	ReplayWindowMin  int    `mapstructure:"REPLAY_WINDOW_MIN"`
	ReplayRedisAddr  string `mapstructure:"REPLAY_REDIS_ADDR"`
	ReplayRedisDB    int    `mapstructure:"REPLAY_REDIS_DB"`
}

// TrustedIssuers returns the issuer allow-list.
func (c *ServerConfig) TrustedIssuers() []string {
	return splitList(c.TrustedIssuersRaw)
}

// TrustedClients returns the client/audience allow-list.
func (c *ServerConfig) TrustedClients() []string {
	return splitList(c.TrustedClientsRaw)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ExpiryGrace returns the configured grace period as a duration.
func (c *ServerConfig) ExpiryGrace() time.Duration {
	return time.Duration(c.ExpiryGraceSec) * time.Second
}

func (c *ServerConfig) MaxTokenAge() time.Duration {
	return time.Duration(c.MaxTokenAgeMin) * time.Minute
}

func (c *ServerConfig) JWKSCacheTTL() time.Duration {
	return time.Duration(c.JWKSCacheTTLMin) * time.Minute
}

func (c *ServerConfig) JWKSTimeout() time.Duration {
	return time.Duration(c.JWKSTimeoutSec) * time.Second
}

func (c *ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

func (c *ServerConfig) SessionCeilingDuration() time.Duration {
	return time.Duration(c.SessionCeilingHour) * time.Hour
}

func (c *ServerConfig) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowMin) * time.Minute
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/authgate/")
	v.AddConfigPath("$HOME/.authgate")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/authgate_dev")
	v.SetDefault("MONGO_DB_NAME", "authgate_dev")
	v.SetDefault("EXPIRY_GRACE_SEC", 30)
	v.SetDefault("MAX_TOKEN_AGE_MIN", 1440) // 24 hours
	v.SetDefault("JWKS_CACHE_TTL_MIN", 1440)
	v.SetDefault("JWKS_TIMEOUT_SEC", 5)
	v.SetDefault("RATE_LIMIT_MAX", 5)
	v.SetDefault("RATE_LIMIT_WINDOW_SEC", 60)
	v.SetDefault("SESSION_CEILING", 5)
	v.SetDefault("SESSION_CEILING_HOUR", 8)
	v.SetDefault("REPLAY_PROTECTION", false)
	v.SetDefault("REPLAY_WINDOW_MIN", 10)
	v.SetDefault("REPLAY_REDIS_ADDR", "")
	v.SetDefault("REPLAY_REDIS_DB", 0)

	// Registering the keys lets AutomaticEnv feed them into Unmarshal even
	// when no config file provides them.
	v.SetDefault("TRUSTED_ISSUERS", "")
	v.SetDefault("TRUSTED_CLIENTS", "")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, we run on env vars and
		// defaults. Anything else is a real error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if len(cfg.TrustedIssuers()) == 0 {
		return nil, errors.New("TRUSTED_ISSUERS must name at least one issuer")
	}

	return &cfg, nil
}
