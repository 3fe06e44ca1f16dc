// Package config loads warden service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".warden/config.yaml"

type Config struct {
	Server   ServerDefaults   `yaml:"server"`
	Registry RegistryDefaults `yaml:"registry"`
	Keys     KeyDefaults      `yaml:"keys"`
}

type ServerDefaults struct {
	Listen          string `yaml:"listen"`
	DBPath          string `yaml:"db_path"`
	DevMode         bool   `yaml:"dev_mode"`
	MaxRequestBytes int64  `yaml:"max_request_bytes"`
}

type RegistryDefaults struct {
	ProbeInterval   string  `yaml:"probe_interval"`
	ProbeTimeout    string  `yaml:"probe_timeout"`
	ProbeParallel   int     `yaml:"probe_parallel"`
	FetchTimeout    string  `yaml:"fetch_timeout"`
	TrapRate        float64 `yaml:"trap_rate"`
	TrapSeed        int64   `yaml:"trap_seed"`
	ReviewerMinRank string  `yaml:"reviewer_min_rank"`
}

type KeyDefaults struct {
	Mode          string `yaml:"mode"`
	PrivateKey    string `yaml:"private_key"` // #nosec G117 -- config key name documents expected secret input.
	PrivateKeyEnv string `yaml:"private_key_env"`
	PublicKey     string `yaml:"public_key"`
	PublicKeyEnv  string `yaml:"public_key_env"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("config path is required")
	}

	// #nosec G304 -- config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	configuration.normalize()
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Server.Listen = strings.TrimSpace(configuration.Server.Listen)
	configuration.Server.DBPath = strings.TrimSpace(configuration.Server.DBPath)
	configuration.Registry.ProbeInterval = strings.TrimSpace(configuration.Registry.ProbeInterval)
	configuration.Registry.ProbeTimeout = strings.TrimSpace(configuration.Registry.ProbeTimeout)
	configuration.Registry.FetchTimeout = strings.TrimSpace(configuration.Registry.FetchTimeout)
	configuration.Registry.ReviewerMinRank = strings.ToUpper(strings.TrimSpace(configuration.Registry.ReviewerMinRank))
	configuration.Keys.Mode = strings.ToLower(strings.TrimSpace(configuration.Keys.Mode))
	configuration.Keys.PrivateKey = strings.TrimSpace(configuration.Keys.PrivateKey)
	configuration.Keys.PrivateKeyEnv = strings.TrimSpace(configuration.Keys.PrivateKeyEnv)
	configuration.Keys.PublicKey = strings.TrimSpace(configuration.Keys.PublicKey)
	configuration.Keys.PublicKeyEnv = strings.TrimSpace(configuration.Keys.PublicKeyEnv)
}

// Duration parses value as a Go duration, falling back to fallback when the
// field is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
