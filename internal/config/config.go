// Package config reads the pump controller configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config defines the pump controller configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"PUMPD_HTTP_PORT"`
	} `yaml:"http"`
	Backend struct {
		BaseURL string `yaml:"baseUrl" env:"PUMPD_BACKEND_URL"`
	} `yaml:"backend"`
	Redis struct {
		Addr     string `yaml:"addr" env:"PUMPD_REDIS_ADDR"`
		Password string `yaml:"password" env:"PUMPD_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"PUMPD_REDIS_DB"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn" env:"PUMPD_POSTGRES_DSN"`
	} `yaml:"database"`
	Admin struct {
		CardUID      string `yaml:"cardUid" env:"PUMPD_ADMIN_CARD_UID"`
		Username     string `yaml:"username" env:"PUMPD_ADMIN_USERNAME"`
		PasswordHash string `yaml:"passwordHash" env:"PUMPD_ADMIN_PASSWORD_HASH"`
		JWTSecret    string `yaml:"jwtSecret" env:"PUMPD_ADMIN_JWT_SECRET"`
	} `yaml:"admin"`
	Pump struct {
		RatePerLitre    float64 `yaml:"ratePerLitre" env:"PUMPD_RATE_PER_LITRE"`
		SecondsPerLitre float64 `yaml:"secondsPerLitre" env:"PUMPD_SECONDS_PER_LITRE"`
		CardTimeoutMs   int     `yaml:"cardTimeoutMs" env:"PUMPD_CARD_TIMEOUT_MS"`
		TickMs          int     `yaml:"tickMs" env:"PUMPD_TICK_MS"`
		RelayActiveLow  bool    `yaml:"relayActiveLow" env:"PUMPD_RELAY_ACTIVE_LOW"`
		RelayGPIOPath   string  `yaml:"relayGpioPath" env:"PUMPD_RELAY_GPIO_PATH"`
	} `yaml:"pump"`
}

// Load reads configuration from the optional YAML file and environment.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Admin.CardUID = "ABCD1234"
	cfg.Pump.RatePerLitre = 100
	cfg.Pump.SecondsPerLitre = 15
	cfg.Pump.CardTimeoutMs = 3000
	cfg.Pump.TickMs = 250

	if err := loadInto(cfg); err != nil {
		return nil, err
	}

	if cfg.Pump.RatePerLitre <= 0 {
		return nil, errors.New("config: ratePerLitre must be positive")
	}
	if cfg.Pump.SecondsPerLitre <= 0 {
		return nil, errors.New("config: secondsPerLitre must be positive")
	}
	if cfg.Admin.JWTSecret == "" && cfg.Admin.PasswordHash != "" {
		return nil, errors.New("config: jwtSecret required when admin password is set")
	}

	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// CardTimeout returns the card-presence timeout as a duration.
func (c *Config) CardTimeout() time.Duration {
	if c.Pump.CardTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Pump.CardTimeoutMs) * time.Millisecond
}

// TickInterval returns the scheduler tick as a duration.
func (c *Config) TickInterval() time.Duration {
	if c.Pump.TickMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.Pump.TickMs) * time.Millisecond
}

// AuthEnabled reports whether the dashboard login is configured. Without it
// the topup endpoint runs unguarded, which is only meant for bench setups.
func (c *Config) AuthEnabled() bool {
	return c.Admin.JWTSecret != "" && c.Admin.Username != "" && c.Admin.PasswordHash != ""
}
