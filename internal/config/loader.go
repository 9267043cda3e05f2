package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

// Loader handles configuration loading.
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Path returns the resolved config file path.
func (l *Loader) Path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".reserva", "reserva.json"), nil
}

// Load loads the configuration from file and environment. An invalid
// configuration is a load-time error; nothing downstream is constructed
// from a config that has not passed validation.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.Path()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := l.fillPaths(cfg); err != nil {
			return nil, err
		}
		return cfg, Validate(cfg)
	}

	if err := l.validateSchema(configPath); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("RESERVA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.fillPaths(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSchema checks the raw file against FileSchema before viper sees
// it, so type mistakes surface with a field path instead of a cast error.
func (l *Loader) validateSchema(configPath string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(FileSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config file: %w", err)
	}

	if !result.Valid() {
		msg := "invalid config file:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf(" %s;", desc)
		}
		return fmt.Errorf("%s", msg)
	}

	return nil
}

func (l *Loader) fillPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".reserva")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "reserva.log")
	}

	return nil
}
