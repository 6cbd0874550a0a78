// Package config loads tool settings from (in order of precedence) explicit
// flags, STEPFLOW_* environment variables, and an optional stepflow.yaml in
// the home directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ormasoftchile/stepflow/pkg/ops"
	"github.com/ormasoftchile/stepflow/pkg/registry"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "STEPFLOW"

// Config holds the tool-wide settings.
type Config struct {
	// HomeDir is where the template library and bundled data live.
	HomeDir string `mapstructure:"home_dir"`
	// RegistryURL overrides the template library archive location.
	RegistryURL string `mapstructure:"registry_url"`
	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"log_format"`
	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`

	// Binaries overrides the paths of the external tools the built-in
	// operations drive.
	Binaries struct {
		Salmon    string `mapstructure:"salmon"`
		Piscem    string `mapstructure:"piscem"`
		AlevinFry string `mapstructure:"alevin_fry"`
		Pyroe     string `mapstructure:"pyroe"`
	} `mapstructure:"binaries"`
}

// Load reads configuration. cfgFile, when non-empty, names an explicit
// config file; otherwise stepflow.yaml in the home directory is used if it
// exists.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := defaultHome()
	if err != nil {
		return nil, err
	}
	v.SetDefault("home_dir", home)
	v.SetDefault("registry_url", registry.DefaultURL)
	v.SetDefault("log_format", "console")
	v.SetDefault("debug", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("stepflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("home_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ToolBinaries maps the configured binary overrides into the toolchain's
// form.
func (c *Config) ToolBinaries() ops.Binaries {
	return ops.Binaries{
		Salmon:    c.Binaries.Salmon,
		Piscem:    c.Binaries.Piscem,
		AlevinFry: c.Binaries.AlevinFry,
		Pyroe:     c.Binaries.Pyroe,
	}
}

// PermitListDir is where bundled permit lists live under the home directory.
func (c *Config) PermitListDir() string {
	return filepath.Join(c.HomeDir, "plist")
}

func defaultHome() (string, error) {
	if env := os.Getenv(EnvPrefix + "_HOME_DIR"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".stepflow"), nil
}
