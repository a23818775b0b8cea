package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
	"github.com/ahrav/go-llmgate/internal/gateway/identity"
)

// serverConfig holds HTTP listener settings.
type serverConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// credentialConfig declares one API key's identity and limits. The map key in
// fileConfig doubles as both the presented API key and the credential id.
type credentialConfig struct {
	UserID         string                 `yaml:"user_id"`
	TeamID         string                 `yaml:"team_id"`
	KeyLimits      configuration.LimitSet `yaml:"key_limits"`
	UserLimits     configuration.LimitSet `yaml:"user_limits"`
	TeamLimits     configuration.LimitSet `yaml:"team_limits"`
	CustomerLimits configuration.LimitSet `yaml:"customer_limits"`
}

// fileConfig is the on-disk gateway configuration.
type fileConfig struct {
	Server      serverConfig                `yaml:"server"`
	Engine      configuration.Config        `yaml:"engine"`
	Credentials map[string]credentialConfig `yaml:"credentials"`
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	cfg.Engine.ApplyDefaults()

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// identities builds the resolver table, validating every declared LimitSet
// eagerly so malformed limits fail at startup rather than per request.
func (c *fileConfig) identities() (map[string]*identity.Identity, error) {
	entries := make(map[string]*identity.Identity, len(c.Credentials))
	for apiKey, cred := range c.Credentials {
		id := &identity.Identity{
			CredentialID:   apiKey,
			UserID:         cred.UserID,
			TeamID:         cred.TeamID,
			KeyLimits:      cred.KeyLimits,
			UserLimits:     cred.UserLimits,
			TeamLimits:     cred.TeamLimits,
			CustomerLimits: cred.CustomerLimits,
		}
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("credential %s: %w", apiKey, err)
		}
		entries[apiKey] = id
	}
	return entries, nil
}
