package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// WithEnv reads every setting from the environment. Variables that are set
// override earlier options; env-default only fills fields that are still zero,
// so options applied before WithEnv survive when their variable is unset.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithDotEnv loads files (default .env) into the environment without
// overriding variables that are already set. Missing files are ignored.
func WithDotEnv(files ...string) Option {
	return func(c *Config) error {
		if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load dotenv: %w", err)
		}
		return nil
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithRegion sets the AWS region
func WithRegion(region string) Option {
	return func(c *Config) error {
		if region == "" {
			return fmt.Errorf("region cannot be empty")
		}
		c.AWS.Region = region
		return nil
	}
}

// WithAccountID sets the account used to derive role ARNs
func WithAccountID(accountID string) Option {
	return func(c *Config) error {
		c.AWS.AccountID = accountID
		return nil
	}
}

// WithRoleARNs sets the object store and queue roles. An empty queue role
// reuses the object store role.
func WithRoleARNs(objectStore, queue string) Option {
	return func(c *Config) error {
		if objectStore == "" {
			return fmt.Errorf("object store role ARN cannot be empty")
		}
		c.AWS.ObjectStoreRoleARN = objectStore
		c.AWS.QueueRoleARN = queue
		return nil
	}
}

// WithBucket sets the bucket for user files
func WithBucket(bucket string) Option {
	return func(c *Config) error {
		c.S3.Bucket = bucket
		return nil
	}
}

// WithQueueURL sets the job queue URL
func WithQueueURL(queueURL string) Option {
	return func(c *Config) error {
		c.AWS.QueueURL = queueURL
		return nil
	}
}

// WithObjectStoreEndpoint targets an S3-compatible endpoint such as MinIO
func WithObjectStoreEndpoint(endpoint string, usePathStyle bool) Option {
	return func(c *Config) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithRefreshMargin sets how long before expiry credentials are replaced
func WithRefreshMargin(margin time.Duration) Option {
	return func(c *Config) error {
		c.AWS.RefreshMargin = margin
		return nil
	}
}

// WithSessionDuration sets the requested role session length
func WithSessionDuration(d time.Duration) Option {
	return func(c *Config) error {
		c.AWS.SessionDuration = d
		return nil
	}
}
