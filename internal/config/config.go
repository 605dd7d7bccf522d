// Package config loads the TestRail reporting configuration from a YAML file
// with environment-variable overrides for credentials.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file-provided credentials.
const (
	EnvUsername = "TESTRAIL_USERNAME"
	EnvAPIKey   = "TESTRAIL_API_KEY"
)

// DefaultRunName is used when neither config nor CLI provide one.
const DefaultRunName = "Automated Run (Real-Time)"

// Config holds everything needed to talk to one TestRail installation.
// It is immutable for the duration of a session once loaded.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	Username    string `yaml:"username"`
	APIKey      string `yaml:"api_key"`
	ProjectID   int    `yaml:"project_id"`
	SuiteID     int    `yaml:"suite_id"`
	RunID       int    `yaml:"run_id"`
	RunName     string `yaml:"run_name"`
	MappingFile string `yaml:"mapping_file"`
	DryRun      bool   `yaml:"dry_run"`
	LogMapping  bool   `yaml:"log_mapping"`
}

type fileRoot struct {
	TestRail Config `yaml:"testrail"`
}

// Load reads, schema-validates, and decodes the YAML config at path, then
// merges credential overrides from the environment. Precedence for
// credentials: environment over file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse behaves like Load on in-memory data.
func Parse(raw []byte) (Config, error) {
	if err := validateDocument(raw); err != nil {
		return Config{}, err
	}
	var root fileRoot
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg := root.TestRail
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if cfg.RunName == "" {
		cfg.RunName = DefaultRunName
	}
	return cfg, nil
}

// Validate enforces the fields a live (non-dry-run) session needs. Callers
// skip it in dry-run mode, where no network calls happen.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.ProjectID <= 0 && c.RunID <= 0 {
		errs = append(errs, errors.New("project_id (or run_id) is required"))
	}
	if c.Username == "" || c.APIKey == "" {
		errs = append(errs, fmt.Errorf("credentials must be set via %s/%s or the config file", EnvUsername, EnvAPIKey))
	}
	return errors.Join(errs...)
}
