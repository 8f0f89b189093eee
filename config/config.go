// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads cipherbun tool configuration with the usual
// precedence: defaults, then cipherbun.yaml, then CIPHERBUN_* env vars,
// then command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the tool-level configuration for opening a database.
type Config struct {
	Database struct {
		Path          string `mapstructure:"path"`
		Version       int    `mapstructure:"version"`
		CredentialEnv string `mapstructure:"credential_env"`
		BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	} `mapstructure:"database"`
	Schema struct {
		Config string `mapstructure:"config"`
	} `mapstructure:"schema"`
	Migrations struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"migrations"`
	Debug bool `mapstructure:"debug"`
}

// defaults applied before any file, env, or flag value.
var defaults = map[string]any{
	"database.path":            "./cipherbun.db",
	"database.version":         1,
	"database.busy_timeout_ms": 5000,
	"migrations.dir":           "./migrations",
}

// Load resolves the configuration for cmd. cfgFile, when non-empty,
// names an explicit config file and takes precedence over the standard
// search locations.
func Load(cmd *cobra.Command, cfgFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("cipherbun")
	v.SetConfigType("yaml")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	if userDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(userDir, "cipherbun"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("cipherbun")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Credential resolves the database credential from the configured
// environment variable. Empty when no credential is configured.
func (c Config) Credential() string {
	if c.Database.CredentialEnv == "" {
		return ""
	}
	return os.Getenv(c.Database.CredentialEnv)
}
