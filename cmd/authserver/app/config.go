// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/handlers"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
)

// EnvPrefix prefixes every environment override, e.g. AUTHSERVER_AUTH_SIGNING_SECRET.
const EnvPrefix = "AUTHSERVER"

// Config is the on-disk configuration of the server binary.
type Config struct {
	Server   ServerConfig      `mapstructure:"server" yaml:"server"`
	Auth     authserver.Config `mapstructure:"auth" yaml:"auth"`
	Storage  storage.Config    `mapstructure:"storage" yaml:"storage"`
	Identity IdentityConfig    `mapstructure:"identity" yaml:"identity"`
}

// ServerConfig controls the HTTP listener and background work.
type ServerConfig struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// RegisterRate is the number of dynamic registrations allowed per second.
	RegisterRate  float64 `mapstructure:"register_rate" yaml:"register_rate"`
	RegisterBurst int     `mapstructure:"register_burst" yaml:"register_burst"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled               bool `mapstructure:"enabled" yaml:"enabled"`
	IncludeRuntimeMetrics bool `mapstructure:"include_runtime_metrics" yaml:"include_runtime_metrics"`
}

// IdentityConfig selects where users come from.
type IdentityConfig struct {
	// UsersFile is a YAML user directory.
	UsersFile string `mapstructure:"users_file" yaml:"users_file"`

	// Header carries the authenticated user id set by the fronting login proxy.
	Header string `mapstructure:"header" yaml:"header"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cleanup_interval", storage.DefaultCleanupInterval)
	v.SetDefault("server.register_rate", float64(handlers.DefaultRegisterRate))
	v.SetDefault("server.register_burst", handlers.DefaultRegisterBurst)
	v.SetDefault("server.metrics.enabled", true)
	v.SetDefault("server.metrics.include_runtime_metrics", true)

	// Registered so that AutomaticEnv can resolve them without a file.
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.signing_secret", "")
	v.SetDefault("auth.login_url", "")

	v.SetDefault("storage.type", string(storage.TypeMemory))
	v.SetDefault("identity.users_file", "")
	v.SetDefault("identity.header", identity.DefaultUserHeader)
}

// loadConfig reads path (optional) and environment overrides into a Config.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.CleanupInterval <= 0 {
		errs = append(errs, errors.New("server.cleanup_interval must be positive"))
	}
	if c.Server.RegisterBurst < 0 {
		errs = append(errs, errors.New("server.register_burst must not be negative"))
	}
	if c.Identity.UsersFile == "" {
		errs = append(errs, errors.New("identity.users_file is required"))
	}
	auth := c.Auth.WithDefaults()
	if err := auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}

func (c *ServerConfig) registerLimit() rate.Limit {
	return rate.Limit(c.RegisterRate)
}
