// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package config defines the orchestrator's project-level configuration
// schema: the project name and the set of named environments a kit
// manifest can be deployed against (spec.md §6 "Environment name must
// be resolvable by the Env sub-service").
//
// Provider-specific options (runtime memory/timeout/region, IaC
// capabilities, …) are not part of this file; they are parsed and
// validated per operation by pkg/opconfig, per the "one config struct
// per operation" re-architecture in spec.md §9.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist at
// the given path.
var ErrConfigNotFound = errors.New("orchestrator: config not found")

// Config is the top-level project configuration.
type Config struct {
	Project      ProjectConfig                `yaml:"project"`
	Environments map[string]EnvironmentConfig `yaml:"environments"`
}

// ProjectConfig describes project-level settings.
type ProjectConfig struct {
	Name string `yaml:"name"`
}

// EnvironmentConfig describes a named deployment target: which runtime
// driver it resolves to and, optionally, an env file to interpolate
// variables from (internal/core/env.Resolver).
type EnvironmentConfig struct {
	Driver  string `yaml:"driver"`
	EnvFile string `yaml:"env_file,omitempty"`
}

// DefaultConfigPath returns the default config path for the current
// working directory.
func DefaultConfigPath() string {
	return "orchestrator.yml"
}

// Exists reports whether a config file exists at the given path. It
// returns (false, nil) if the file does not exist.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Load reads and validates the config from the given path.
//
// It returns ErrConfigNotFound if the file does not exist.
func Load(path string) (*Config, error) {
	exists, err := Exists(path)
	if err != nil {
		return nil, fmt.Errorf("checking config existence: %w", err)
	}
	if !exists {
		return nil, ErrConfigNotFound
	}

	//nolint:gosec // G304: reading config file from user-specified path is expected behavior
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Project.Name == "" {
		return errors.New("config: project.name must be non-empty")
	}

	for envName, envCfg := range cfg.Environments {
		if envName == "" {
			return errors.New("config: environment name must be non-empty")
		}
		if envCfg.Driver == "" {
			return fmt.Errorf("config: environment %q: driver must be non-empty", envName)
		}
	}

	return nil
}
