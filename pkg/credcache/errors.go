package credcache

import (
	"errors"
	"fmt"
	"strings"
)

// Error types
var (
	// ErrMalformedBundle indicates the provider returned a bundle without keys or expiry
	ErrMalformedBundle = errors.New("malformed credential bundle")

	// ErrBundleExpiresTooSoon indicates the provider returned a bundle that is already inside the refresh margin
	ErrBundleExpiresTooSoon = errors.New("credential bundle expires within the refresh margin")
)

type missingFieldsError struct {
	fields []string
}

func (e *missingFieldsError) Error() string {
	return fmt.Sprintf("%v: missing %s", ErrMalformedBundle, strings.Join(e.fields, ", "))
}

func (e *missingFieldsError) Unwrap() error {
	return ErrMalformedBundle
}

// CredentialProviderError represents a failed or unusable role assumption
type CredentialProviderError struct {
	Service ServiceName
	RoleARN string
	Err     error
}

func (e *CredentialProviderError) Error() string {
	return fmt.Sprintf("credential provider failed for %s (role %s): %v", e.Service, e.RoleARN, e.Err)
}

func (e *CredentialProviderError) Unwrap() error {
	return e.Err
}

// ClientConstructionError represents a failure to build a client from a valid bundle
type ClientConstructionError struct {
	Service ServiceName
	Region  string
	Err     error
}

func (e *ClientConstructionError) Error() string {
	return fmt.Sprintf("failed to construct %s client in region %q: %v", e.Service, e.Region, e.Err)
}

func (e *ClientConstructionError) Unwrap() error {
	return e.Err
}

// IsCredentialError returns true if err is a CredentialProviderError or a ClientConstructionError
func IsCredentialError(err error) bool {
	var providerErr *CredentialProviderError
	var constructionErr *ClientConstructionError
	return errors.As(err, &providerErr) || errors.As(err, &constructionErr)
}
