package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/marmos91/artifactgrid/pkg/artifact"
)

// ApplyDefaults fills in any unset configuration fields. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.SandboxID == "" {
		cfg.SandboxID = randomSandboxID()
	}
	if cfg.StorageProvider == "" {
		cfg.StorageProvider = "memory"
	}
	if cfg.SessionProvider == "" {
		cfg.SessionProvider = "memory"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "artifacts"
	}
	if cfg.SqlitePath == "" {
		cfg.SqlitePath = ":memory:"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultTTLSeconds == 0 {
		cfg.DefaultTTLSeconds = 900
	}
	if cfg.FederationTTLDays == 0 {
		cfg.FederationTTLDays = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// randomSandboxID generates a fresh sandbox identity for processes that
// never configured one.
func randomSandboxID() string {
	return "sandbox-" + uuid.NewString()[:8]
}

// Validate checks the configuration for structural and cross-field
// problems. All failures are collected so the operator sees the full list
// in one pass.
func Validate(cfg *Config) error {
	var result *multierror.Error

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				result = multierror.Append(result, fmt.Errorf("field %s failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	switch cfg.StorageProvider {
	case "filesystem", "vfs-filesystem":
		if cfg.FsRoot == "" {
			result = multierror.Append(result, fmt.Errorf("storage_provider %q requires fs_root (or ARTIFACT_FS_ROOT)", cfg.StorageProvider))
		}
	case "s3", "vfs-s3":
		if cfg.S3.Region == "" && cfg.S3.Endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("storage_provider %q requires s3.region or s3.endpoint", cfg.StorageProvider))
		}
	case "ibm_cos":
		if cfg.IBMCOS.Endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("storage_provider ibm_cos requires ibm_cos.endpoint (or IBM_COS_ENDPOINT)"))
		}
		if cfg.S3.AccessKeyID == "" || cfg.S3.SecretAccessKey == "" {
			result = multierror.Append(result, fmt.Errorf("storage_provider ibm_cos requires HMAC credentials in AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY"))
		}
	}

	switch cfg.SessionProvider {
	case "redis":
		if cfg.Redis.URL == "" {
			result = multierror.Append(result, fmt.Errorf("session_provider redis requires redis.url (or SESSION_REDIS_URL)"))
		}
	case "badger":
		if cfg.Badger.Dir == "" {
			result = multierror.Append(result, fmt.Errorf("session_provider badger requires badger.dir (or SESSION_BADGER_DIR)"))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return &artifact.Error{
			Kind:    artifact.KindConfigurationError,
			Message: "invalid configuration",
			Cause:   err,
		}
	}
	return nil
}
