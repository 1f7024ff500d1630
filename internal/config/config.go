// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env:"APP_ENV" env-default:"prod"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" env-required:"true"`

	HTTPServer HTTPServer `yaml:"http_server"`
	Ledger     Ledger     `yaml:"ledger"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Logging    Logging    `yaml:"logging"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"30s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Ledger struct {
	BaseURL string        `yaml:"base_url" env:"LEDGER_BASE_URL" env-required:"true"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type Scheduler struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
}

type Logging struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from path. Environment variables take
// precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}
