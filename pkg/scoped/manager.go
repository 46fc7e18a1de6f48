// Package scoped gives the application object storage and queue clients that
// always carry live credentials, each obtained from its own role.
package scoped

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/tendant/simplebox/pkg/credcache"
)

// Receipt is the queue's acknowledgement of a sent message.
type Receipt struct {
	MessageID      string `json:"message_id"`
	MD5OfBody      string `json:"md5_of_body,omitempty"`
	SequenceNumber string `json:"sequence_number,omitempty"`
}

// Manager owns one credential cache per service.
type Manager struct {
	objectStore *credcache.Cache[*s3.Client]
	queue       *credcache.Cache[QueueAPI]
	metrics     *metrics
}

// New creates a Manager from exactly one binding per service. Bindings with an
// empty region use region. Credentials for every service are obtained before
// New returns; if any of them cannot be obtained no Manager is returned.
func New(ctx context.Context, assumer credcache.RoleAssumer, bindings []credcache.RoleBinding, region string, opts ...Option) (*Manager, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buildObjectStore == nil {
		o.buildObjectStore = NewObjectStoreClientBuilder(o.endpoint, o.usePathStyle)
	}
	if o.buildQueue == nil {
		o.buildQueue = NewQueueClient
	}

	byService, err := indexBindings(bindings, region)
	if err != nil {
		return nil, err
	}

	var cacheMetrics *credcache.Metrics
	var m *metrics
	if o.registerer != nil {
		cacheMetrics = credcache.NewMetrics(o.registerer)
		m = newMetrics(o.registerer)
	}

	objectStore, err := credcache.New(byService[credcache.ServiceObjectStore], assumer, o.buildObjectStore, o.cacheOptions(cacheMetrics)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", credcache.ServiceObjectStore, err)
	}
	queue, err := credcache.New(byService[credcache.ServiceQueue], assumer, o.buildQueue, o.cacheOptions(cacheMetrics)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", credcache.ServiceQueue, err)
	}

	mgr := &Manager{
		objectStore: objectStore,
		queue:       queue,
		metrics:     m,
	}

	for _, service := range []credcache.ServiceName{credcache.ServiceObjectStore, credcache.ServiceQueue} {
		if err := mgr.Refresh(ctx, service); err != nil {
			return nil, fmt.Errorf("failed to initialize %s credentials: %w", service, err)
		}
	}

	o.logger.Info("scoped clients initialized",
		"object_store_role", objectStore.Binding().RoleARN,
		"queue_role", queue.Binding().RoleARN)
	return mgr, nil
}

func indexBindings(bindings []credcache.RoleBinding, region string) (map[credcache.ServiceName]credcache.RoleBinding, error) {
	byService := make(map[credcache.ServiceName]credcache.RoleBinding, len(bindings))
	for _, b := range bindings {
		switch b.Service {
		case credcache.ServiceObjectStore, credcache.ServiceQueue:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, b.Service)
		}
		if _, ok := byService[b.Service]; ok {
			return nil, fmt.Errorf("%w for %s", ErrDuplicateBinding, b.Service)
		}
		if b.Region == "" {
			b.Region = region
		}
		byService[b.Service] = b
	}

	for _, service := range []credcache.ServiceName{credcache.ServiceObjectStore, credcache.ServiceQueue} {
		if _, ok := byService[service]; !ok {
			return nil, fmt.Errorf("%w for %s", ErrMissingBinding, service)
		}
	}
	return byService, nil
}

// ObjectStoreClient returns an S3 client with live credentials.
func (m *Manager) ObjectStoreClient(ctx context.Context) (*s3.Client, error) {
	return m.objectStore.Client(ctx)
}

// QueueClient returns an SQS client with live credentials.
func (m *Manager) QueueClient(ctx context.Context) (QueueAPI, error) {
	return m.queue.Client(ctx)
}

// SendQueueMessage sends one message to queueURL. Credential failures are
// returned before anything is sent. Send failures are returned as
// *DispatchError and are not retried.
func (m *Manager) SendQueueMessage(ctx context.Context, queueURL, body string, attrs map[string]types.MessageAttributeValue) (Receipt, error) {
	if queueURL == "" {
		return Receipt{}, errors.New("queue URL is required")
	}

	client, err := m.QueueClient(ctx)
	if err != nil {
		return Receipt{}, err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}

	out, err := client.SendMessage(ctx, input)
	if err != nil {
		m.metrics.recordDispatch(dispatchFailure)
		return Receipt{}, &DispatchError{QueueURL: queueURL, Err: err}
	}
	if out == nil || aws.ToString(out.MessageId) == "" {
		m.metrics.recordDispatch(dispatchFailure)
		return Receipt{}, &DispatchError{QueueURL: queueURL, Err: ErrEmptyMessageID}
	}

	m.metrics.recordDispatch(dispatchSuccess)
	return Receipt{
		MessageID:      aws.ToString(out.MessageId),
		MD5OfBody:      aws.ToString(out.MD5OfMessageBody),
		SequenceNumber: aws.ToString(out.SequenceNumber),
	}, nil
}

// Refresh replaces the credentials of service regardless of their expiry.
func (m *Manager) Refresh(ctx context.Context, service credcache.ServiceName) error {
	switch service {
	case credcache.ServiceObjectStore:
		return m.objectStore.Refresh(ctx)
	case credcache.ServiceQueue:
		return m.queue.Refresh(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
}

// Status returns the credential state of every service, object store first.
func (m *Manager) Status() []credcache.Status {
	return []credcache.Status{m.objectStore.Status(), m.queue.Status()}
}

// StringAttribute returns a message attribute of type String.
func StringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}
