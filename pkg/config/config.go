// Package config loads simplebox settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simplebox/pkg/credcache"
)

const (
	// DefaultSessionName is the role session name used when none is configured.
	DefaultSessionName = "SimpleboxBackendSession"
	// MinSessionDuration is the shortest session STS will issue.
	MinSessionDuration = 15 * time.Minute
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Config holds the settings of the server and the CLI.
type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`

	AWS AWSConfig
	S3  S3Config
}

// AWSConfig describes the roles assumed for each service.
type AWSConfig struct {
	AccountID string `env:"AWS_ACCOUNT_ID"`
	Region    string `env:"AWS_REGION" env-default:"us-east-1"`

	ObjectStoreRoleARN     string `env:"AWS_S3_ROLE_ARN"`
	ObjectStoreSessionName string `env:"AWS_S3_SESSION_NAME" env-default:"SimpleboxBackendSession"`
	QueueRoleARN           string `env:"AWS_SQS_ROLE_ARN"`
	QueueSessionName       string `env:"AWS_SQS_SESSION_NAME" env-default:"SimpleboxBackendSession"`

	ExternalID      string        `env:"AWS_ROLE_EXTERNAL_ID"`
	SessionDuration time.Duration `env:"AWS_ROLE_SESSION_DURATION" env-default:"1h"`
	RefreshMargin   time.Duration `env:"AWS_CREDENTIAL_REFRESH_MARGIN" env-default:"5m"`

	QueueURL string `env:"AWS_SQS_QUEUE_URL"`
}

// S3Config describes the bucket used for user files.
type S3Config struct {
	Bucket       string `env:"AWS_STORAGE_BUCKET_NAME"`
	Endpoint     string `env:"AWS_S3_ENDPOINT"`
	UsePathStyle bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`

	// PresignDuration is an upper bound; URLs expire with the session that
	// signed them when that comes first.
	PresignDuration time.Duration `env:"AWS_S3_PRESIGN_DURATION" env-default:"1h"`

	EnableSSE              bool   `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm           string `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID            string `env:"AWS_S3_SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

// Load constructs a Config by applying the supplied options on top of defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	cfg.resolveRoles()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads an optional .env file and then the process environment.
func LoadFromEnv() (*Config, error) {
	return Load(WithDotEnv(), WithEnv())
}

func defaults() Config {
	return Config{
		Port:        "8080",
		Environment: "development",
		AWS: AWSConfig{
			Region:                 "us-east-1",
			ObjectStoreSessionName: DefaultSessionName,
			QueueSessionName:       DefaultSessionName,
			SessionDuration:        time.Hour,
			RefreshMargin:          credcache.DefaultRefreshMargin,
		},
		S3: S3Config{
			PresignDuration: time.Hour,
			SSEAlgorithm:    "AES256",
		},
	}
}

// resolveRoles derives role ARNs that were not set explicitly. The queue
// shares the object store role unless it has its own.
func (c *Config) resolveRoles() {
	if c.AWS.ObjectStoreRoleARN == "" && c.AWS.AccountID != "" {
		c.AWS.ObjectStoreRoleARN = fmt.Sprintf("arn:aws:iam::%s:role/S3AccessRole", c.AWS.AccountID)
	}
	if c.AWS.QueueRoleARN == "" {
		c.AWS.QueueRoleARN = c.AWS.ObjectStoreRoleARN
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.AWS.Region == "" {
		return errors.New("AWS_REGION is required")
	}
	if c.AWS.ObjectStoreRoleARN == "" || c.AWS.QueueRoleARN == "" {
		return errors.New("AWS_ACCOUNT_ID or AWS_S3_ROLE_ARN is required")
	}
	if c.S3.Bucket == "" {
		return errors.New("AWS_STORAGE_BUCKET_NAME is required")
	}
	if c.AWS.QueueURL == "" {
		return errors.New("AWS_SQS_QUEUE_URL is required")
	}
	if c.AWS.RefreshMargin <= 0 {
		return fmt.Errorf("credential refresh margin must be positive, got %s", c.AWS.RefreshMargin)
	}
	if c.AWS.SessionDuration < MinSessionDuration {
		return fmt.Errorf("role session duration must be at least %s, got %s", MinSessionDuration, c.AWS.SessionDuration)
	}
	if c.AWS.SessionDuration <= c.AWS.RefreshMargin {
		return fmt.Errorf("role session duration %s must exceed the refresh margin %s", c.AWS.SessionDuration, c.AWS.RefreshMargin)
	}
	if c.S3.EnableSSE && c.S3.SSEAlgorithm != "AES256" && c.S3.SSEAlgorithm != "aws:kms" {
		return fmt.Errorf("sse algorithm must be 'AES256' or 'aws:kms', got: %s", c.S3.SSEAlgorithm)
	}
	return nil
}

// RoleBindings returns the object store and queue bindings.
func (c *Config) RoleBindings() []credcache.RoleBinding {
	return []credcache.RoleBinding{
		{
			Service:     credcache.ServiceObjectStore,
			RoleARN:     c.AWS.ObjectStoreRoleARN,
			SessionName: c.AWS.ObjectStoreSessionName,
			Region:      c.AWS.Region,
			Duration:    c.AWS.SessionDuration,
			ExternalID:  c.AWS.ExternalID,
		},
		{
			Service:     credcache.ServiceQueue,
			RoleARN:     c.AWS.QueueRoleARN,
			SessionName: c.AWS.QueueSessionName,
			Region:      c.AWS.Region,
			Duration:    c.AWS.SessionDuration,
			ExternalID:  c.AWS.ExternalID,
		},
	}
}
