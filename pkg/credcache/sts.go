package credcache

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSClient is the subset of the STS API used to assume roles.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// STSAssumer implements RoleAssumer with the AWS STS AssumeRole call.
type STSAssumer struct {
	client STSClient
}

// NewSTSAssumer creates a RoleAssumer backed by client.
func NewSTSAssumer(client STSClient) *STSAssumer {
	return &STSAssumer{client: client}
}

// NewSTSAssumerFromConfig creates a RoleAssumer using the long-lived identity in cfg.
func NewSTSAssumerFromConfig(cfg aws.Config) *STSAssumer {
	return NewSTSAssumer(sts.NewFromConfig(cfg))
}

// AssumeRole requests temporary credentials for binding. Missing fields in the
// response are left empty so the caller can reject the bundle.
func (a *STSAssumer) AssumeRole(ctx context.Context, binding RoleBinding) (Bundle, error) {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(binding.RoleARN),
		RoleSessionName: aws.String(binding.SessionName),
	}
	if binding.Duration > 0 {
		input.DurationSeconds = aws.Int32(int32(binding.Duration.Seconds()))
	}
	if binding.ExternalID != "" {
		input.ExternalId = aws.String(binding.ExternalID)
	}

	out, err := a.client.AssumeRole(ctx, input)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to assume role %s: %w", binding.RoleARN, err)
	}
	if out == nil || out.Credentials == nil {
		return Bundle{}, fmt.Errorf("%w: no credentials in AssumeRole response", ErrMalformedBundle)
	}

	creds := out.Credentials
	return Bundle{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		ExpiresAt:       aws.ToTime(creds.Expiration),
	}, nil
}
