package config

import (
	"fmt"
	"time"
)

// Default JWT settings
const (
	DefaultJWTTTL    = 24 * time.Hour
	DefaultJWTIssuer = "pipeline_agent"
)

// JWTConfig holds configuration for JWT token generation and validation.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// NewJWTConfig reads JWT_SECRET (required), JWT_TTL (Go duration, default
// 24h) and JWT_ISSUER from getenv.
func NewJWTConfig(getenv func(string) string) (*JWTConfig, error) {
	secret := getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	config := &JWTConfig{
		Secret: secret,
		Issuer: getenv("JWT_ISSUER"),
		TTL:    DefaultJWTTTL,
	}
	if config.Issuer == "" {
		config.Issuer = DefaultJWTIssuer
	}
	if ttl := getenv("JWT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_TTL: %v", err)
		}
		config.TTL = d
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}
	return config, nil
}

// OptionalJWTConfig is NewJWTConfig, except that an unset JWT_SECRET
// returns nil and disables authentication.
func OptionalJWTConfig(getenv func(string) string) (*JWTConfig, error) {
	if getenv("JWT_SECRET") == "" {
		return nil, nil
	}
	return NewJWTConfig(getenv)
}

// normalize validates the configuration.
func (c *JWTConfig) normalize() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.TTL < time.Minute {
		return fmt.Errorf("JWT_TTL must be at least 1 minute, got: %s", c.TTL)
	}
	return nil
}
