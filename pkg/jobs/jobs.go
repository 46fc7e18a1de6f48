// Package jobs enqueues JSON work items on the job queue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/tendant/simplebox/pkg/scoped"
)

// ContentTypeJSON is the ContentType attribute set on every job message.
const ContentTypeJSON = "application/json"

// ErrInvalidJSON is returned when a raw job body is not valid JSON
var ErrInvalidJSON = errors.New("job body is not valid JSON")

// Dispatcher sends a single message to a queue.
type Dispatcher interface {
	SendQueueMessage(ctx context.Context, queueURL, body string, attrs map[string]types.MessageAttributeValue) (scoped.Receipt, error)
}

// Enqueuer sends jobs to one queue.
type Enqueuer struct {
	dispatcher Dispatcher
	queueURL   string
	logger     *slog.Logger
}

// NewEnqueuer creates an Enqueuer for queueURL. A nil logger uses slog.Default().
func NewEnqueuer(dispatcher Dispatcher, queueURL string, logger *slog.Logger) (*Enqueuer, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if queueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{dispatcher: dispatcher, queueURL: queueURL, logger: logger}, nil
}

// QueueURL returns the queue jobs are sent to.
func (e *Enqueuer) QueueURL() string {
	return e.queueURL
}

// EnqueueJSON marshals v and sends it as one message.
func (e *Enqueuer) EnqueueJSON(ctx context.Context, v any) (scoped.Receipt, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return scoped.Receipt{}, fmt.Errorf("failed to marshal job: %w", err)
	}
	return e.EnqueueRaw(ctx, body)
}

// EnqueueRaw sends body, which must already be valid JSON.
func (e *Enqueuer) EnqueueRaw(ctx context.Context, body []byte) (scoped.Receipt, error) {
	if !json.Valid(body) {
		return scoped.Receipt{}, ErrInvalidJSON
	}

	attrs := map[string]types.MessageAttributeValue{
		"ContentType": scoped.StringAttribute(ContentTypeJSON),
	}
	receipt, err := e.dispatcher.SendQueueMessage(ctx, e.queueURL, string(body), attrs)
	if err != nil {
		e.logger.Error("failed to enqueue job", "queue_url", e.queueURL, "err", err)
		return scoped.Receipt{}, err
	}

	e.logger.Debug("job enqueued", "queue_url", e.queueURL, "message_id", receipt.MessageID)
	return receipt, nil
}
