// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config carries everything cmd/server needs to wire the system.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"campuspay.db"`

	// PendingLimit caps accumulated pending dues per wallet.
	PendingLimit decimal.Decimal `env:"PENDING_LIMIT" envDefault:"100000"`

	// KafkaBrokers enables the transaction-completed publisher when set.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
}

// Load reads a .env file if present, then parses the environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): func(v string) (any, error) {
				d, err := decimal.NewFromString(v)
				if err != nil {
					return nil, fmt.Errorf("parse decimal %q: %w", v, err)
				}
				return d, nil
			},
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
