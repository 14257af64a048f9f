// Package config loads and validates the relay configuration from the
// environment (and an optional .env file) using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig is the canonical, validated configuration object used throughout
// the relay.
type AppConfig struct {
	// HTTPAddr is the gateway listen address.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// BrokerAddr is the Redis broker host:port. Empty runs the relay without
	// a broker; events then arrive only through the direct ingest endpoint.
	BrokerAddr string `mapstructure:"BROKER_ADDR"`
	// BrokerChannel is the pub/sub channel tracking events travel on.
	BrokerChannel string `mapstructure:"BROKER_CHANNEL"`
	// DirectURL is the base URL of the direct-call fallback relay endpoint.
	// Empty disables the direct path; the broker path is the default.
	DirectURL string `mapstructure:"DIRECT_URL"`
	// JWTSecret is the HS256 signing secret tokens are verified against.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPurposes is the comma-separated set of accepted purpose claims.
	JWTPurposes string `mapstructure:"JWT_PURPOSES"`
	// PingInterval is the heartbeat period.
	PingInterval time.Duration `mapstructure:"PING_INTERVAL"`
	// PingTimeout is the pong deadline; must exceed PingInterval.
	PingTimeout time.Duration `mapstructure:"PING_TIMEOUT"`
	// PresenceTTL is the presence key TTL; zero disables the presence store.
	PresenceTTL time.Duration `mapstructure:"PRESENCE_TTL"`
}

// AcceptedPurposes returns the parsed purpose set.
func (c *AppConfig) AcceptedPurposes() []string {
	parts := strings.Split(c.JWTPurposes, ",")
	purposes := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			purposes = append(purposes, trimmed)
		}
	}
	return purposes
}

// Load reads .env (if present), then builds and validates AppConfig from the
// environment. Env vars override .env; a missing .env is ignored.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	// BROKER_ADDR="" is a meaningful setting (broker-less deployment), so an
	// empty env var must override the default rather than be treated as unset.
	v.AllowEmptyEnv(true)

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("BROKER_ADDR", "localhost:6379")
	v.SetDefault("BROKER_CHANNEL", "tracking.events")
	v.SetDefault("DIRECT_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PURPOSES", "access")
	v.SetDefault("PING_INTERVAL", "30s")
	v.SetDefault("PING_TIMEOUT", "60s")
	v.SetDefault("PRESENCE_TTL", "120s")

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if len(cfg.AcceptedPurposes()) == 0 {
		return nil, errors.New("config: JWT_PURPOSES must name at least one purpose")
	}
	if cfg.PingInterval <= 0 {
		return nil, errors.New("config: PING_INTERVAL must be positive")
	}
	if cfg.PingTimeout <= cfg.PingInterval {
		return nil, fmt.Errorf("config: PING_TIMEOUT (%s) must exceed PING_INTERVAL (%s)", cfg.PingTimeout, cfg.PingInterval)
	}

	return &cfg, nil
}
