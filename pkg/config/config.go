// Package config loads wopihost's static configuration: storage
// backend selection, the access-token signing secret, logging, and
// server networking. Precedence, highest to lowest: environment
// variables (WOPIHOST_*), the YAML config file, then defaults. When no
// config file is found, only WOPIHOST_ACCESS_SECRET,
// WOPIHOST_SERVER_ADDR, WOPIHOST_STORAGE_LOCAL_ROOT, and
// WOPIHOST_STORAGE_S3_BUCKET are applied over the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is wopihost's top-level configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Access  AccessConfig  `mapstructure:"access" yaml:"access"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
	MachineName     string        `mapstructure:"machine_name" yaml:"machine_name"`
}

// StorageConfig selects and configures the Storage Adapter backend.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string `mapstructure:"backend" validate:"required,oneof=local s3" yaml:"backend"`

	Local LocalStorageConfig `mapstructure:"local" yaml:"local"`
	S3    S3StorageConfig    `mapstructure:"s3" yaml:"s3"`
}

// LocalStorageConfig configures the filesystem Storage Adapter.
type LocalStorageConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
	Name string `mapstructure:"name" yaml:"name"`
}

// S3StorageConfig configures the S3 Storage Adapter.
type S3StorageConfig struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// services such as MinIO or LocalStack. Implies path-style addressing.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// AccessKeyID/SecretAccessKey configure static credentials. Left
	// empty, the SDK's default credential chain (environment, shared
	// config, instance role) applies instead.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// AccessConfig configures access-token minting and validation.
type AccessConfig struct {
	// Secret signs and verifies access tokens; must be at least 32 bytes.
	// Set via WOPIHOST_ACCESS_SECRET, never committed to the config file.
	Secret   string        `mapstructure:"secret" validate:"required,min=32" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" validate:"required" yaml:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"required,gt=0" yaml:"token_ttl"`
}

// MetricsConfig controls whether the WOPI request and lock collectors
// are registered with the default Prometheus registry that /metrics
// serves. The /metrics endpoint itself is always mounted.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns a Config usable out of the box for local development:
// local filesystem storage under ./data, text logging, and a fixed
// placeholder access-token secret the operator must override.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			MachineName:     "wopihost",
		},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalStorageConfig{Root: "./data", Name: "root"},
		},
		Access: AccessConfig{
			Secret:   "change-me-to-a-random-32-byte-secret!!",
			Issuer:   "wopihost",
			TokenTTL: 24 * time.Hour,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from configPath (if non-empty and it
// exists), layers WOPIHOST_* environment variables over it, applies
// defaults for anything unset, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := Default()
		applyEnvOverrides(v, cfg)
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return cfg, nil
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, used by `wopihost init`.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("WOPIHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("wopihost")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides layers a handful of environment variables onto the
// default config when no config file was found, mirroring what viper's
// Unmarshal would have done had a file existed.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if secret := os.Getenv("WOPIHOST_ACCESS_SECRET"); secret != "" {
		cfg.Access.Secret = secret
	}
	if addr := os.Getenv("WOPIHOST_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if root := os.Getenv("WOPIHOST_STORAGE_LOCAL_ROOT"); root != "" {
		cfg.Storage.Local.Root = root
	}
	if bucket := os.Getenv("WOPIHOST_STORAGE_S3_BUCKET"); bucket != "" {
		cfg.Storage.Backend = "s3"
		cfg.Storage.S3.Bucket = bucket
	}
}

var validate = func() func(cfg *Config) error {
	v := validator.New()
	return func(cfg *Config) error {
		if err := v.Struct(cfg); err != nil {
			return err
		}
		switch cfg.Storage.Backend {
		case "local":
			if cfg.Storage.Local.Root == "" {
				return fmt.Errorf("storage.local.root is required when storage.backend is \"local\"")
			}
		case "s3":
			if cfg.Storage.S3.Bucket == "" {
				return fmt.Errorf("storage.s3.bucket is required when storage.backend is \"s3\"")
			}
		}
		return nil
	}
}()
