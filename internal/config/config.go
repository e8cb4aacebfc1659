// Package config loads vault configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config contains the vault's runtime parameters.
type Config struct {
	// DataDir holds salt.bin and vault.db.
	DataDir  string `env:"DATA_DIR" envDefault:"data"`
	LogLevel int    `env:"LOG_LEVEL" envDefault:"0"`
	Policy   Policy `envPrefix:"POLICY_"`
}

// Policy controls master password checks at registration.
type Policy struct {
	// MinStrength is the minimum zxcvbn score (0-4).
	MinStrength int `env:"MIN_STRENGTH" envDefault:"3"`
	// CheckBreaches queries the Have I Been Pwned range API.
	CheckBreaches bool   `env:"HIBP_CHECK" envDefault:"false"`
	HIBPBaseURL   string `env:"HIBP_URL" envDefault:"https://api.pwnedpasswords.com/range/"`
}

// Prefix is prepended to every variable name, e.g. PASSVAULT_DATA_DIR.
const Prefix = "PASSVAULT_"

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Policy.MinStrength < 0 || cfg.Policy.MinStrength > 4 {
		return nil, fmt.Errorf("%sPOLICY_MIN_STRENGTH must be between 0 and 4, got %d", Prefix, cfg.Policy.MinStrength)
	}
	return &cfg, nil
}
