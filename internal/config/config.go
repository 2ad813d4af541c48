// Package config loads runtime configuration from LLAB_* environment
// variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port   int    `env:"LLAB_PORT" envDefault:"8090"`
	DBPath string `env:"LLAB_DB_PATH" envDefault:"listing-lab.db"`

	ShopID        int64  `env:"LLAB_ETSY_SHOP_ID"`
	EtsyKeystring string `env:"LLAB_ETSY_KEYSTRING"`
	EtsyToken     string `env:"LLAB_ETSY_ACCESS_TOKEN"`
	EtsyRefresh   string `env:"LLAB_ETSY_REFRESH_TOKEN"`

	OpenAIKey   string `env:"LLAB_OPENAI_API_KEY"`
	OpenAIModel string `env:"LLAB_OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

// Load reads the environment. Credentials are optional at load time so
// offline commands (boards, results, settings) work without them; commands
// that need a collaborator validate with the Require* helpers.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// RequireEtsy validates the marketplace credential set.
func (c *Config) RequireEtsy() error {
	switch {
	case c.ShopID == 0:
		return fmt.Errorf("LLAB_ETSY_SHOP_ID is not set")
	case c.EtsyKeystring == "":
		return fmt.Errorf("LLAB_ETSY_KEYSTRING is not set")
	case c.EtsyToken == "":
		return fmt.Errorf("LLAB_ETSY_ACCESS_TOKEN is not set")
	default:
		return nil
	}
}

// RequireOpenAI validates the generator credential set.
func (c *Config) RequireOpenAI() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("LLAB_OPENAI_API_KEY is not set")
	}
	return nil
}
