// Package config loads the typed configuration shared by the three
// binaries. Values come from the environment (COURSELOOP_ prefix), with an
// optional YAML file for development; env always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config covers all binaries; each one reads the slice it needs and
// ignores the rest. Validation of the backend-specific fields happens at
// the point of use, since the CLI with -backend local legitimately runs
// without any Supabase settings.
type Config struct {
	Backend   string `mapstructure:"backend"` // "supabase" or "local"
	LogLevel  string `mapstructure:"log_level"`
	DataDir   string `mapstructure:"data_dir"`
	Supabase  Supabase
	College   College
	Proxy     Proxy
	Reconcile Reconcile
}

type Supabase struct {
	ProjectURL string `mapstructure:"project_url"`
	AnonKey    string `mapstructure:"anon_key"`
}

type College struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type Proxy struct {
	Addr string `mapstructure:"addr"`
}

type Reconcile struct {
	// Schedule is a cron expression; empty means run once and exit.
	Schedule string `mapstructure:"schedule"`
}

// Load reads configuration. configPath may be empty; a missing file is not
// an error, since everything can come from the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("COURSELOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so the non-defaulted ones
	// need explicit env bindings.
	for _, key := range []string{
		"supabase.project_url", "supabase.anon_key",
		"college.base_url", "college.api_key",
		"reconcile.schedule",
	} {
		v.BindEnv(key)
	}

	v.SetDefault("backend", "supabase")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("proxy.addr", ":8090")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: checking %s: %w", configPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if c.Backend != "supabase" && c.Backend != "local" {
		return nil, fmt.Errorf("config: unknown backend %q (want supabase or local)", c.Backend)
	}
	return &c, nil
}

// TokenPath is where the supabase gateway persists the access token.
func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// LocalDBPath is where the embedded backend keeps its database.
func (c *Config) LocalDBPath() string {
	return filepath.Join(c.DataDir, "courseloop.db")
}

func defaultDataDir() string {
	return filepath.Join(".", ".courseloop")
}
