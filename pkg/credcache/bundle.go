package credcache

import (
	"context"
	"errors"
	"time"
)

// ServiceName identifies the downstream capability a RoleBinding grants.
type ServiceName string

const (
	// ServiceObjectStore is the object storage service (S3).
	ServiceObjectStore ServiceName = "object-store"
	// ServiceQueue is the message queue service (SQS).
	ServiceQueue ServiceName = "queue"
)

// Bundle is a set of temporary credentials returned by role assumption.
// A bundle is never modified after it is created; a refresh replaces it.
type Bundle struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// ExpiresAt is the absolute expiry reported by the identity provider.
	ExpiresAt time.Time
}

// Validate reports ErrMalformedBundle when any key or the expiry is missing.
func (b Bundle) Validate() error {
	var missing []string
	if b.AccessKeyID == "" {
		missing = append(missing, "access key id")
	}
	if b.SecretAccessKey == "" {
		missing = append(missing, "secret access key")
	}
	if b.SessionToken == "" {
		missing = append(missing, "session token")
	}
	if b.ExpiresAt.IsZero() {
		missing = append(missing, "expiration")
	}
	if len(missing) > 0 {
		return &missingFieldsError{fields: missing}
	}
	return nil
}

// RoleBinding pairs a service with the role used to obtain its credentials.
type RoleBinding struct {
	Service     ServiceName
	RoleARN     string
	SessionName string
	Region      string

	// Duration is the requested session length. Zero uses the provider default.
	Duration time.Duration
	// ExternalID is passed through to the provider when set.
	ExternalID string
}

// Validate validates the role binding
func (rb RoleBinding) Validate() error {
	if rb.Service == "" {
		return errors.New("role binding service is required")
	}
	if rb.RoleARN == "" {
		return errors.New("role binding role ARN is required")
	}
	if rb.SessionName == "" {
		return errors.New("role binding session name is required")
	}
	return nil
}

// RoleAssumer exchanges the process identity for a Bundle scoped to a role.
type RoleAssumer interface {
	AssumeRole(ctx context.Context, binding RoleBinding) (Bundle, error)
}

// AssumeRoleFunc adapts a function to the RoleAssumer interface.
type AssumeRoleFunc func(ctx context.Context, binding RoleBinding) (Bundle, error)

// AssumeRole calls f(ctx, binding).
func (f AssumeRoleFunc) AssumeRole(ctx context.Context, binding RoleBinding) (Bundle, error) {
	return f(ctx, binding)
}

// ClientBuilder constructs a service client from a bundle.
type ClientBuilder[T any] func(ctx context.Context, bundle Bundle, region string) (T, error)
