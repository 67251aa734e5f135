// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first match
// wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/perimetra/config.yaml",
	"/etc/perimetra/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "PERIMETRA_CONFIG"

// envPrefix namespaces Perimetra's environment variables.
const envPrefix = "PERIMETRA_"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. PERIMETRA_* environment variables (highest priority)
//
// Environment variables map to config paths by section prefix:
// PERIMETRA_SERVER_PORT -> server.port,
// PERIMETRA_FEED_CSV_PATH -> feed.csv.path.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sectionPrefixes maps the first environment variable token to a config
// section. Tokens after the section join with underscores:
// PERIMETRA_ANCHOR_FAILURE_THRESHOLD -> anchor.failure_threshold.
var sectionPrefixes = map[string]string{
	"logging":    "logging",
	"server":     "server",
	"database":   "database",
	"keys":       "keys",
	"scorer":     "scorer",
	"anchor":     "anchor",
	"blob":       "blob",
	"dispatcher": "dispatcher",
}

// feedSubsections are nested one level deeper than the flat sections.
var feedSubsections = map[string]string{
	"csv":  "feed.csv",
	"nats": "feed.nats",
}

// envTransformFunc converts a PERIMETRA_* variable name to a koanf
// config path. Unrecognized variables are skipped so unrelated
// environment entries never pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return ""
	}
	section, rest := parts[0], parts[1]

	if section == "feed" {
		sub := strings.SplitN(rest, "_", 2)
		if len(sub) != 2 {
			return ""
		}
		prefix, ok := feedSubsections[sub[0]]
		if !ok {
			return ""
		}
		return prefix + "." + sub[1]
	}

	prefix, ok := sectionPrefixes[section]
	if !ok {
		return ""
	}
	return prefix + "." + rest
}
