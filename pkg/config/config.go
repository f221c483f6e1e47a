// Package config loads and validates artifactgrid configuration from YAML
// files and environment variables.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (ARTIFACT_* plus the well-known overrides below)
//  2. Configuration file (YAML)
//  3. Default values
//
// A handful of environment variables are bound under their conventional
// names rather than the ARTIFACT_ prefix, so the module picks up standard
// cloud credentials without remapping:
//
//	ARTIFACT_PROVIDER      storage_provider
//	SESSION_PROVIDER       session_provider
//	ARTIFACT_BUCKET        bucket
//	ARTIFACT_FS_ROOT       fs_root
//	ARTIFACT_SANDBOX_ID    sandbox_id
//	AWS_ACCESS_KEY_ID      s3.access_key_id
//	AWS_SECRET_ACCESS_KEY  s3.secret_access_key
//	AWS_REGION             s3.region
//	S3_ENDPOINT_URL        s3.endpoint
//	IBM_COS_ENDPOINT       ibm_cos.endpoint
//	IBM_COS_APIKEY         ibm_cos.api_key
//	IBM_COS_INSTANCE_CRN   ibm_cos.instance_crn
//	SESSION_REDIS_URL      redis.url
//	SESSION_BADGER_DIR     badger.dir
//
// Environment variables are read once, at load time. Changing them after
// the store is constructed has no effect.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/api"
)

// Config is the artifactgrid configuration.
type Config struct {
	// SandboxID identifies this sandbox in grid keys and in the federation
	// index. Default: "sandbox-" followed by 8 random hex characters, so
	// two unconfigured processes never collide.
	SandboxID string `mapstructure:"sandbox_id" yaml:"sandbox_id"`

	// StorageProvider selects the blob backend.
	StorageProvider string `mapstructure:"storage_provider" validate:"required,oneof=memory filesystem s3 ibm_cos vfs-memory vfs-filesystem vfs-s3 vfs-sqlite" yaml:"storage_provider"`

	// SessionProvider selects the session and metadata backend.
	SessionProvider string `mapstructure:"session_provider" validate:"required,oneof=memory redis badger" yaml:"session_provider"`

	// Bucket is the bucket (or directory, for local providers) all
	// artifacts live in.
	Bucket string `mapstructure:"bucket" validate:"required" yaml:"bucket"`

	// FsRoot is the root directory for the filesystem providers.
	FsRoot string `mapstructure:"fs_root" yaml:"fs_root,omitempty"`

	// SqlitePath is the database file for the vfs-sqlite provider.
	// Default: ":memory:".
	SqlitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`

	// MaxRetries caps retry attempts for transient provider failures.
	// Default: 3.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`

	// DefaultTTLSeconds is the session TTL applied when a caller does not
	// pass one. Default: 900.
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds" validate:"gt=0" yaml:"default_ttl_seconds"`

	// FederationEnabled turns on cross-sandbox artifact registration.
	FederationEnabled bool `mapstructure:"federation_enabled" yaml:"federation_enabled"`

	// FederationTTLDays bounds how long federation index entries live.
	// Default: 30.
	FederationTTLDays int `mapstructure:"federation_ttl_days" validate:"gt=0" yaml:"federation_ttl_days"`

	// S3 configures the s3 and vfs-s3 providers.
	S3 S3Config `mapstructure:"s3" yaml:"s3,omitempty"`

	// IBMCOS configures the ibm_cos provider.
	IBMCOS IBMCOSConfig `mapstructure:"ibm_cos" yaml:"ibm_cos,omitempty"`

	// Redis configures the redis session provider.
	Redis RedisConfig `mapstructure:"redis" yaml:"redis,omitempty"`

	// Badger configures the badger session provider.
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger,omitempty"`

	// API configures the presign redemption HTTP server.
	API api.Config `mapstructure:"api" yaml:"api,omitempty"`

	// Logging controls log output behavior.
	Logging logger.Config `mapstructure:"logging" yaml:"logging,omitempty"`
}

// S3Config holds S3 client settings. Credentials left empty fall back to
// the AWS SDK default chain (shared config, instance profiles).
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// IBMCOSConfig holds IBM Cloud Object Storage settings. COS speaks the S3
// API; HMAC credentials are carried in the S3 section while the endpoint
// and service instance live here.
type IBMCOSConfig struct {
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey      string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	InstanceCRN string `mapstructure:"instance_crn" yaml:"instance_crn,omitempty"`
}

// RedisConfig holds redis session provider settings.
type RedisConfig struct {
	URL         string        `mapstructure:"url" yaml:"url,omitempty"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty"`
}

// BadgerConfig holds badger session provider settings.
type BadgerConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// DefaultTTL returns the default session TTL as a duration.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// FederationTTL returns the federation index entry lifetime as a duration.
func (c *Config) FederationTTL() time.Duration {
	return time.Duration(c.FederationTTLDays) * 24 * time.Hour
}

// Load reads configuration from the given file path (or the default
// location when empty), applies environment overrides and defaults, and
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad is Load for program startup: it exits the process with a
// readable message instead of returning an error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// SaveConfig writes the configuration to path as YAML. The file is
// created with 0600 because it may carry credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and the config file
// search path.
func setupViper(v *viper.Viper, configPath string) {
	// ARTIFACT_ prefixed variables cover every key, e.g.
	// ARTIFACT_SESSION_PROVIDER=redis.
	v.SetEnvPrefix("ARTIFACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names bound explicitly so standard credentials work
	// without remapping. BindEnv never returns an error for non-empty
	// keys.
	_ = v.BindEnv("storage_provider", "ARTIFACT_PROVIDER")
	_ = v.BindEnv("session_provider", "SESSION_PROVIDER")
	_ = v.BindEnv("bucket", "ARTIFACT_BUCKET")
	_ = v.BindEnv("fs_root", "ARTIFACT_FS_ROOT")
	_ = v.BindEnv("sandbox_id", "ARTIFACT_SANDBOX_ID")
	_ = v.BindEnv("s3.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("s3.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("s3.region", "AWS_REGION")
	_ = v.BindEnv("s3.endpoint", "S3_ENDPOINT_URL")
	_ = v.BindEnv("ibm_cos.endpoint", "IBM_COS_ENDPOINT")
	_ = v.BindEnv("ibm_cos.api_key", "IBM_COS_APIKEY")
	_ = v.BindEnv("ibm_cos.instance_crn", "IBM_COS_INSTANCE_CRN")
	_ = v.BindEnv("redis.url", "SESSION_REDIS_URL")
	_ = v.BindEnv("badger.dir", "SESSION_BADGER_DIR")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error; defaults and environment variables take over.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the decode hooks for custom config types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" or "5m" and raw numbers
// (nanoseconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// DefaultConfigPath returns the path Load searches when no explicit
// config file is given.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// getConfigDir returns the default configuration directory, following
// XDG conventions.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "artifactgrid")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "artifactgrid")
}
