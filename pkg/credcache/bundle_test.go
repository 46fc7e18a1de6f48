package credcache

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBundle_Validate(t *testing.T) {
	full := Bundle{
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		ExpiresAt:       time.Now().Add(time.Hour),
	}
	assert.NoError(t, full.Validate())

	err := Bundle{AccessKeyID: "AKID"}.Validate()
	assert.ErrorIs(t, err, ErrMalformedBundle)
	assert.Equal(t, "malformed credential bundle: missing secret access key, session token, expiration", err.Error())
}

func TestIsCredentialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provider", &CredentialProviderError{Service: ServiceQueue, Err: errors.New("denied")}, true},
		{"construction", &ClientConstructionError{Service: ServiceQueue, Err: errors.New("bad region")}, true},
		{"wrapped", fmt.Errorf("send: %w", &CredentialProviderError{Err: errors.New("denied")}), true},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCredentialError(tt.err))
		})
	}
}
