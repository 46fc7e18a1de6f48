package scoped

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrMissingBinding indicates no role binding was supplied for a required service
	ErrMissingBinding = errors.New("missing role binding")

	// ErrDuplicateBinding indicates more than one role binding for the same service
	ErrDuplicateBinding = errors.New("duplicate role binding")

	// ErrUnknownService indicates a service name the manager does not serve
	ErrUnknownService = errors.New("unknown service")

	// ErrEmptyMessageID indicates the queue accepted a request but returned no message id
	ErrEmptyMessageID = errors.New("queue returned an empty message id")

	// ErrInvalidRegion indicates a region that cannot be used to build a client
	ErrInvalidRegion = errors.New("invalid region")
)

// DispatchError represents a failure to hand a message to the queue
type DispatchError struct {
	QueueURL string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to send message to %s: %v", e.QueueURL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Code returns the service error code, or an empty string when the failure
// did not come from the queue service.
func (e *DispatchError) Code() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
