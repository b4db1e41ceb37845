// Package config loads the governance service configuration from YAML
// with environment overrides. DATABASE_URL stays env-only (pkg/db).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenPort        string   `yaml:"listen_port"`
	IdentityBaseURL   string   `yaml:"identity_base_url"`
	ReputationBaseURL string   `yaml:"reputation_base_url"`
	HatsBaseURL       string   `yaml:"hats_base_url"`
	AdminIdentities   []string `yaml:"admin_identities"`
}

func Default() Config {
	return Config{
		ListenPort:        "8094",
		IdentityBaseURL:   "http://localhost:8091/identity",
		ReputationBaseURL: "http://localhost:8092",
		HatsBaseURL:       "http://localhost:8091",
	}
}

// Load reads the YAML file at path when it exists, then applies env
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		cfg.ListenPort = v
	}
	if v := os.Getenv("IDENTITY_BASE_URL"); v != "" {
		cfg.IdentityBaseURL = v
	}
	if v := os.Getenv("REPUTATION_BASE_URL"); v != "" {
		cfg.ReputationBaseURL = v
	}
	if v := os.Getenv("HATS_BASE_URL"); v != "" {
		cfg.HatsBaseURL = v
	}
	return cfg, nil
}
