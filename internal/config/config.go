// Package config содержит логику чтения конфигурации сервиса пожертвований.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса пожертвований.
// Пустой DatabaseURI переключает сервис на хранилище в памяти.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	AuthSecret      string `env:"AUTH_SECRET"`
	UPIPayeeAddress string `env:"UPI_PAYEE_ADDRESS"`
	UPIPayeeName    string `env:"UPI_PAYEE_NAME"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envPayeeAddress := cfg.UPIPayeeAddress
	envPayeeName := cfg.UPIPayeeName

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty selects in-memory store)")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.StringVar(&cfg.UPIPayeeAddress, "u", "", "UPI payee address (VPA) for payment links")
	flag.StringVar(&cfg.UPIPayeeName, "n", "", "UPI payee display name")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envPayeeAddress != "" {
		cfg.UPIPayeeAddress = envPayeeAddress
	}
	if envPayeeName != "" {
		cfg.UPIPayeeName = envPayeeName
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
