// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the assistant service configuration: embedded YAML
// defaults, optional on-disk override, environment-variable overrides, and
// struct validation.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed assistant.yaml
var defaultConfigYAML []byte

// maxConfigBytes guards against accidentally pointing ASSISTANT_CONFIG_PATH
// at a huge file.
const maxConfigBytes = 1 << 20

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full assistant service configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Router   RouterConfig   `yaml:"router"`
	Safety   SafetyConfig   `yaml:"safety"`
	LLM      LLMConfig      `yaml:"llm"`
	Insights InsightsConfig `yaml:"insights"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Port the gin server listens on.
	Port int `yaml:"port" validate:"gt=0,lt=65536"`
}

// RegistryConfig configures the declarative endpoint catalog.
type RegistryConfig struct {
	// CatalogPath is the primary catalog YAML. Empty selects the embedded
	// default catalog compiled into the registry package.
	CatalogPath string `yaml:"catalog_path"`

	// ExtraCatalogs are merged additively after the primary catalog.
	// Duplicate intent names are last-wins, in merge order.
	ExtraCatalogs []string `yaml:"extra_catalogs"`

	// Watch enables the fsnotify watcher for server mode.
	Watch bool `yaml:"watch"`
}

// RouterConfig configures the tool router's backend and rate gate.
type RouterConfig struct {
	// Backend selects the dispatch target: "http" or "simulator".
	Backend string `yaml:"backend" validate:"oneof=http simulator"`

	// RatePerSec is the token refill rate of the shared rate gate.
	RatePerSec float64 `yaml:"rate_per_sec" validate:"gt=0"`

	// Burst caps how many requests may pass without waiting.
	Burst int `yaml:"burst" validate:"gt=0"`
}

// SafetyConfig configures policy loading, idempotency, and audit retention.
type SafetyConfig struct {
	// PolicyPath is an optional JSON policy document. Empty falls back to
	// the APP_SAFETY_POLICY_JSON env var, then to documented defaults.
	PolicyPath string `yaml:"policy_path"`

	// IdempotencyTTLSeconds is how long a write fingerprint blocks repeats.
	IdempotencyTTLSeconds int `yaml:"idempotency_ttl_seconds" validate:"gt=0"`

	// AuditBuffer is the audit ring buffer capacity.
	AuditBuffer int `yaml:"audit_buffer" validate:"gt=0"`

	// AuditLogPath enables the JSON-lines durable mirror when non-empty.
	AuditLogPath string `yaml:"audit_log_path"`
}

// LLMConfig toggles the model-assisted fallbacks (extraction, mapping).
type LLMConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InsightsConfig toggles the post-execution market insights enrichment.
type InsightsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// =============================================================================
// Singleton
// =============================================================================

var (
	configMu      sync.RWMutex
	configOnce    sync.Once
	cachedConfig  *Config
	configLoadErr error
)

// Get returns the cached assistant configuration, loading it on first call.
//
// Description:
//
//	Load order: embedded defaults, then the YAML at ASSISTANT_CONFIG_PATH
//	(if set), then individual env overrides (ASSISTANT_PORT,
//	ROUTER_BACKEND, ROUTER_RATE_PER_SEC, ROUTER_BURST,
//	IDEMPOTENCY_TTL_SECONDS, APP_AUDIT_LOG_PATH). The merged result is
//	validated once and cached.
//
// Outputs:
//   - *Config: The validated configuration. Nil only when error is non-nil.
//   - error: Non-nil if parsing or validation failed.
//
// Thread Safety: Safe for concurrent use.
func Get() (*Config, error) {
	configOnce.Do(func() {
		cfg, err := load()
		configMu.Lock()
		cachedConfig, configLoadErr = cfg, err
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return cachedConfig, configLoadErr
}

// ResetForTest clears the cached configuration so the next Get reloads.
// Test helper only.
func ResetForTest() {
	configMu.Lock()
	defer configMu.Unlock()
	configOnce = sync.Once{}
	cachedConfig = nil
	configLoadErr = nil
}

// =============================================================================
// Loading
// =============================================================================

func load() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: embedded defaults: %w", err)
	}

	if path := os.Getenv("ASSISTANT_CONFIG_PATH"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if len(raw) > maxConfigBytes {
			return nil, fmt.Errorf("config: %q exceeds %d bytes", path, maxConfigBytes)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		slog.Info("config: loaded override file", slog.String("path", path))
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASSISTANT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		} else {
			slog.Warn("config: invalid ASSISTANT_PORT, keeping default", slog.String("value", v))
		}
	}
	if v := os.Getenv("ROUTER_BACKEND"); v != "" {
		cfg.Router.Backend = v
	}
	if v := os.Getenv("ROUTER_RATE_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.RatePerSec = f
		}
	}
	if v := os.Getenv("ROUTER_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.Burst = n
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Safety.IdempotencyTTLSeconds = n
		}
	}
	if v := os.Getenv("APP_AUDIT_LOG_PATH"); v != "" {
		cfg.Safety.AuditLogPath = v
	}
}
