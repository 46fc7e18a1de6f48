package scoped

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tendant/simplebox/pkg/credcache"
)

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)

// QueueAPI is the part of the SQS client used to dispatch messages.
type QueueAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ClientConfig returns an aws.Config that signs with bundle and nothing else.
// Shared config files and environment credentials are not consulted. The
// credentials carry the bundle expiry so callers can see how long they last.
func ClientConfig(bundle credcache.Bundle, region string) (aws.Config, error) {
	if !regionPattern.MatchString(region) {
		return aws.Config{}, fmt.Errorf("%w: %q", ErrInvalidRegion, region)
	}
	return aws.Config{
		Region: region,
		Credentials: credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     bundle.AccessKeyID,
				SecretAccessKey: bundle.SecretAccessKey,
				SessionToken:    bundle.SessionToken,
				CanExpire:       !bundle.ExpiresAt.IsZero(),
				Expires:         bundle.ExpiresAt,
			},
		},
	}, nil
}

// NewObjectStoreClientBuilder builds S3 clients. A non-empty endpoint targets
// an S3-compatible service such as MinIO.
func NewObjectStoreClientBuilder(endpoint string, usePathStyle bool) credcache.ClientBuilder[*s3.Client] {
	return func(_ context.Context, bundle credcache.Bundle, region string) (*s3.Client, error) {
		cfg, err := ClientConfig(bundle, region)
		if err != nil {
			return nil, err
		}

		var s3Options []func(*s3.Options)
		if endpoint != "" {
			s3Options = append(s3Options, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = usePathStyle
			})
		}
		return s3.NewFromConfig(cfg, s3Options...), nil
	}
}

// NewQueueClient builds an SQS client.
func NewQueueClient(_ context.Context, bundle credcache.Bundle, region string) (QueueAPI, error) {
	cfg, err := ClientConfig(bundle, region)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}
