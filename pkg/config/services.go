package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simplebox/pkg/credcache"
	"github.com/tendant/simplebox/pkg/jobs"
	"github.com/tendant/simplebox/pkg/profile"
	"github.com/tendant/simplebox/pkg/scoped"
	s3storage "github.com/tendant/simplebox/pkg/storage/s3"
)

// Services are the wired application components.
type Services struct {
	Manager  *scoped.Manager
	Store    *s3storage.Backend
	Jobs     *jobs.Enqueuer
	Profiles *profile.Service
}

// NewSTSAssumer creates a role assumer that signs with the process identity
// from the default AWS credential chain.
func (c *Config) NewSTSAssumer(ctx context.Context) (*credcache.STSAssumer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.AWS.Region),
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return credcache.NewSTSAssumerFromConfig(awsCfg), nil
}

// BuildServices creates the scoped client manager and the components built on
// it. Credentials for every role are obtained before it returns. A nil reg
// disables metrics.
func (c *Config) BuildServices(ctx context.Context, assumer credcache.RoleAssumer, logger *slog.Logger, reg prometheus.Registerer) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []scoped.Option{
		scoped.WithLogger(logger),
		scoped.WithRefreshMargin(c.AWS.RefreshMargin),
	}
	if c.S3.Endpoint != "" {
		opts = append(opts, scoped.WithObjectStoreEndpoint(c.S3.Endpoint, c.S3.UsePathStyle))
	}
	if reg != nil {
		opts = append(opts, scoped.WithMetricsRegisterer(reg))
	}

	manager, err := scoped.New(ctx, assumer, c.RoleBindings(), c.AWS.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoped clients: %w", err)
	}

	store, err := s3storage.New(ctx, manager, s3storage.Config{
		Bucket:                 c.S3.Bucket,
		PresignDuration:        c.S3.PresignDuration,
		EnableSSE:              c.S3.EnableSSE,
		SSEAlgorithm:           c.S3.SSEAlgorithm,
		SSEKMSKeyID:            c.S3.SSEKMSKeyID,
		CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	enqueuer, err := jobs.NewEnqueuer(manager, c.AWS.QueueURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build job enqueuer: %w", err)
	}

	return &Services{
		Manager:  manager,
		Store:    store,
		Jobs:     enqueuer,
		Profiles: profile.NewService(store),
	}, nil
}
