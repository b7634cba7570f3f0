// Package config provides configuration management for sidepeek using Viper
// for files, environment variables and command-line flags.
//
// Scalar settings go through Viper. The rules and tasks sections are decoded
// a second time from the same file with yaml.v3 because their order is
// significant and Viper folds mapping keys to lower case.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/sidepeek/internal/errors"
)

// Config is the complete sidepeek configuration.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Viewer ViewerConfig `yaml:"viewer" mapstructure:"viewer"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	LSP    LSPConfig    `yaml:"lsp" mapstructure:"lsp"`

	Rules RuleDefinitions `yaml:"rules" mapstructure:"-"`
	Tasks TaskDefinitions `yaml:"tasks" mapstructure:"-"`

	// File is the configuration file the rules were read from, if any.
	File string `yaml:"-" mapstructure:"-"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	Open           bool     `yaml:"open" mapstructure:"open"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// BuildLimit caps build and view requests per minute. Zero disables it.
	BuildLimit int `yaml:"build_limit" mapstructure:"build_limit"`
}

type ViewerConfig struct {
	// Debounce groups bursts of writes to a watched output into one render.
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type StoreConfig struct {
	// Path of the bbolt file remembering rule choices. Empty disables it.
	Path string `yaml:"path" mapstructure:"path"`
}

type LSPConfig struct {
	BuildOnSave bool `yaml:"build_on_save" mapstructure:"build_on_save"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "localhost",
			Port:       7337,
			Open:       true,
			BuildLimit: 120,
		},
		Viewer: ViewerConfig{
			Debounce: 150 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds the configuration from v. A missing configuration file is
// not an error: it yields a configuration without rules.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "decoding configuration", err)
	}

	if file := v.ConfigFileUsed(); file != "" {
		data, err := os.ReadFile(file)
		switch {
		case err == nil:
			sections, err := Parse(data)
			if err != nil {
				return nil, errors.NewConfigError(errors.CodeInvalidConfig, "parsing "+file, err)
			}
			cfg.Rules = sections.Rules
			cfg.Tasks = sections.Tasks
			cfg.File = file
		case !os.IsNotExist(err):
			return nil, errors.WrapIO(err, errors.CodeInvalidConfig, "reading "+file)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "invalid configuration", err)
	}

	return cfg, nil
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// Configure points v at the configuration file and environment. file wins
// over SIDEPEEK_CONFIG_FILE, which wins over .sidepeek.yml in the working
// directory. Reading a missing default file is not an error.
func Configure(v *viper.Viper, file string) error {
	switch {
	case file != "":
		v.SetConfigFile(file)
	case os.Getenv("SIDEPEEK_CONFIG_FILE") != "":
		v.SetConfigFile(os.Getenv("SIDEPEEK_CONFIG_FILE"))
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".sidepeek")
	}

	v.SetEnvPrefix("SIDEPEEK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.NewConfigError(errors.CodeInvalidConfig, "reading configuration", err)
	}
	return nil
}
