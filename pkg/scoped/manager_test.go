package scoped_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/tendant/simplebox/pkg/credcache"
	"github.com/tendant/simplebox/pkg/scoped"
)

const (
	objectStoreRole = "arn:aws:iam::123456789012:role/S3AccessRole"
	queueRole       = "arn:aws:iam::123456789012:role/SQSAccessRole"
	testQueueURL    = "https://sqs.us-east-1.amazonaws.com/123456789012/simplebox-jobs"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// roleAssumer issues hour-long bundles named after the role and call count.
type roleAssumer struct {
	mu    sync.Mutex
	clock clock.PassiveClock
	calls map[string]int
	fail  map[string]error
}

func newRoleAssumer(clk clock.PassiveClock) *roleAssumer {
	return &roleAssumer{clock: clk, calls: map[string]int{}, fail: map[string]error{}}
}

func (a *roleAssumer) AssumeRole(_ context.Context, binding credcache.RoleBinding) (credcache.Bundle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[binding.RoleARN]++
	if err := a.fail[binding.RoleARN]; err != nil {
		return credcache.Bundle{}, err
	}
	return credcache.Bundle{
		AccessKeyID:     fmt.Sprintf("%s-%d", binding.Service, a.calls[binding.RoleARN]),
		SecretAccessKey: "secret",
		SessionToken:    "token",
		ExpiresAt:       a.clock.Now().Add(time.Hour),
	}, nil
}

func (a *roleAssumer) Fail(roleARN string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[roleARN] = err
}

func (a *roleAssumer) Calls(roleARN string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[roleARN]
}

// fakeQueue records sends from every client generation it builds.
type fakeQueue struct {
	mu      sync.Mutex
	inputs  []*sqs.SendMessageInput
	keys    []string
	regions []string
	out     *sqs.SendMessageOutput
	err     error
}

func (q *fakeQueue) Build(_ context.Context, bundle credcache.Bundle, region string) (scoped.QueueAPI, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.regions = append(q.regions, region)
	return &fakeQueueClient{queue: q, accessKeyID: bundle.AccessKeyID}, nil
}

func (q *fakeQueue) Sent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inputs)
}

type fakeQueueClient struct {
	queue       *fakeQueue
	accessKeyID string
}

func (c *fakeQueueClient) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	c.queue.inputs = append(c.queue.inputs, params)
	c.queue.keys = append(c.queue.keys, c.accessKeyID)
	return c.queue.out, c.queue.err
}

func testBindings() []credcache.RoleBinding {
	return []credcache.RoleBinding{
		{Service: credcache.ServiceObjectStore, RoleARN: objectStoreRole, SessionName: "SimpleboxBackendSession"},
		{Service: credcache.ServiceQueue, RoleARN: queueRole, SessionName: "SimpleboxBackendSession"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, assumer credcache.RoleAssumer, queue *fakeQueue, clk clock.PassiveClock, opts ...scoped.Option) *scoped.Manager {
	t.Helper()
	opts = append([]scoped.Option{
		scoped.WithLogger(discardLogger()),
		scoped.WithClock(clk),
		scoped.WithQueueClientBuilder(queue.Build),
	}, opts...)
	mgr, err := scoped.New(context.Background(), assumer, testBindings(), "us-east-1", opts...)
	require.NoError(t, err)
	return mgr
}

func TestNew_FailsFastWhenARoleCannotBeAssumed(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	assumer := newRoleAssumer(clk)
	denied := errors.New("AccessDenied: not authorized to perform sts:AssumeRole")
	assumer.Fail(queueRole, denied)
	queue := &fakeQueue{}

	mgr, err := scoped.New(context.Background(), assumer, testBindings(), "us-east-1",
		scoped.WithLogger(discardLogger()),
		scoped.WithClock(clk),
		scoped.WithQueueClientBuilder(queue.Build),
	)
	require.Error(t, err)
	assert.Nil(t, mgr)

	var target *credcache.CredentialProviderError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, credcache.ServiceQueue, target.Service)
	assert.Equal(t, queueRole, target.RoleARN)
	assert.ErrorIs(t, err, denied)
}

func TestNew_BindingValidation(t *testing.T) {
	objectStore := testBindings()[0]
	queue := testBindings()[1]

	tests := []struct {
		name     string
		bindings []credcache.RoleBinding
		wantErr  error
	}{
		{"no bindings", nil, scoped.ErrMissingBinding},
		{"missing queue", []credcache.RoleBinding{objectStore}, scoped.ErrMissingBinding},
		{"missing object store", []credcache.RoleBinding{queue}, scoped.ErrMissingBinding},
		{"duplicate object store", []credcache.RoleBinding{objectStore, queue, objectStore}, scoped.ErrDuplicateBinding},
		{"unknown service", []credcache.RoleBinding{objectStore, queue, {Service: "email", RoleARN: "arn", SessionName: "s"}}, scoped.ErrUnknownService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clocktesting.NewFakePassiveClock(t0)
			assumer := newRoleAssumer(clk)
			mgr, err := scoped.New(context.Background(), assumer, tt.bindings, "us-east-1",
				scoped.WithLogger(discardLogger()),
				scoped.WithClock(clk),
			)
			assert.Nil(t, mgr)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, assumer.calls)
		})
	}
}

func TestNew_InvalidRegion(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	assumer := newRoleAssumer(clk)

	mgr, err := scoped.New(context.Background(), assumer, testBindings(), "not a region",
		scoped.WithLogger(discardLogger()),
		scoped.WithClock(clk),
	)
	assert.Nil(t, mgr)

	var target *credcache.ClientConstructionError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, credcache.ServiceObjectStore, target.Service)
	assert.Equal(t, "not a region", target.Region)
	assert.ErrorIs(t, err, scoped.ErrInvalidRegion)
	assert.False(t, errors.Is(err, credcache.ErrBundleExpiresTooSoon))
}

func TestNew_BindingRegions(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	queue := &fakeQueue{}
	bindings := testBindings()
	bindings[1].Region = "eu-west-1"

	_, err := scoped.New(context.Background(), newRoleAssumer(clk), bindings, "us-west-2",
		scoped.WithLogger(discardLogger()),
		scoped.WithClock(clk),
		scoped.WithQueueClientBuilder(queue.Build),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-west-1"}, queue.regions)
}

func TestManager_ObjectStoreClientUsesItsOwnRole(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	assumer := newRoleAssumer(clk)
	mgr := newTestManager(t, assumer, &fakeQueue{}, clk)

	client, err := mgr.ObjectStoreClient(ctx)
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	creds, err := opts.Credentials.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "object-store-1", creds.AccessKeyID)
	assert.Equal(t, "token", creds.SessionToken)
	assert.True(t, creds.CanExpire)
	assert.Equal(t, t0.Add(time.Hour), creds.Expires)

	assert.Equal(t, 1, assumer.Calls(objectStoreRole))
	assert.Equal(t, 1, assumer.Calls(queueRole))
}

func TestManager_ObjectStoreEndpoint(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	mgr := newTestManager(t, newRoleAssumer(clk), &fakeQueue{}, clk,
		scoped.WithObjectStoreEndpoint("http://localhost:9000", true))

	client, err := mgr.ObjectStoreClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", aws.ToString(client.Options().BaseEndpoint))
	assert.True(t, client.Options().UsePathStyle)
}

func TestManager_SendQueueMessage(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	queue := &fakeQueue{out: &sqs.SendMessageOutput{
		MessageId:        aws.String("5fea7756-0ea4-451a-a703-a558b933e274"),
		MD5OfMessageBody: aws.String("fafb00f5732ab283681e124bf8747ed1"),
	}}
	mgr := newTestManager(t, newRoleAssumer(clk), queue, clk)

	attrs := map[string]types.MessageAttributeValue{
		"ContentType": scoped.StringAttribute("application/json"),
	}
	receipt, err := mgr.SendQueueMessage(context.Background(), testQueueURL, `{"job":"thumbnail"}`, attrs)
	require.NoError(t, err)

	assert.Equal(t, scoped.Receipt{
		MessageID: "5fea7756-0ea4-451a-a703-a558b933e274",
		MD5OfBody: "fafb00f5732ab283681e124bf8747ed1",
	}, receipt)

	require.Equal(t, 1, queue.Sent())
	input := queue.inputs[0]
	assert.Equal(t, testQueueURL, aws.ToString(input.QueueUrl))
	assert.Equal(t, `{"job":"thumbnail"}`, aws.ToString(input.MessageBody))
	assert.Equal(t, "String", aws.ToString(input.MessageAttributes["ContentType"].DataType))
	assert.Equal(t, "application/json", aws.ToString(input.MessageAttributes["ContentType"].StringValue))
	assert.Equal(t, []string{"queue-1"}, queue.keys)
}

func TestManager_SendQueueMessageFailures(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue", Message: "queue does not exist"}

	tests := []struct {
		name     string
		out      *sqs.SendMessageOutput
		err      error
		wantErr  error
		wantCode string
	}{
		{"service error", nil, apiErr, apiErr, "AWS.SimpleQueueService.NonExistentQueue"},
		{"transport error", nil, errors.New("connection reset by peer"), nil, ""},
		{"empty message id", &sqs.SendMessageOutput{}, nil, scoped.ErrEmptyMessageID, ""},
		{"nil output", nil, nil, scoped.ErrEmptyMessageID, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clocktesting.NewFakePassiveClock(t0)
			queue := &fakeQueue{out: tt.out, err: tt.err}
			mgr := newTestManager(t, newRoleAssumer(clk), queue, clk)

			receipt, err := mgr.SendQueueMessage(context.Background(), testQueueURL, "{}", nil)
			assert.Equal(t, scoped.Receipt{}, receipt)

			var target *scoped.DispatchError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, testQueueURL, target.QueueURL)
			assert.Equal(t, tt.wantCode, target.Code())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.False(t, credcache.IsCredentialError(err))
			assert.Equal(t, 1, queue.Sent())
		})
	}
}

func TestManager_SendQueueMessageRequiresQueueURL(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	queue := &fakeQueue{}
	mgr := newTestManager(t, newRoleAssumer(clk), queue, clk)

	_, err := mgr.SendQueueMessage(context.Background(), "", "{}", nil)
	require.Error(t, err)
	assert.Equal(t, 0, queue.Sent())
}

func TestManager_ExpiredCredentialsFailBeforeDispatch(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	assumer := newRoleAssumer(clk)
	queue := &fakeQueue{out: &sqs.SendMessageOutput{MessageId: aws.String("id")}}
	mgr := newTestManager(t, assumer, queue, clk)

	clk.SetTime(t0.Add(2 * time.Hour))
	assumer.Fail(queueRole, errors.New("ExpiredToken"))

	_, err := mgr.SendQueueMessage(context.Background(), testQueueURL, "{}", nil)

	var target *credcache.CredentialProviderError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, credcache.ServiceQueue, target.Service)
	var dispatchErr *scoped.DispatchError
	assert.False(t, errors.As(err, &dispatchErr))
	assert.Equal(t, 0, queue.Sent())
}

func TestManager_SendQueueMessageRefreshesStaleCredentials(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	assumer := newRoleAssumer(clk)
	queue := &fakeQueue{out: &sqs.SendMessageOutput{MessageId: aws.String("id")}}
	mgr := newTestManager(t, assumer, queue, clk)

	ctx := context.Background()
	_, err := mgr.SendQueueMessage(ctx, testQueueURL, "{}", nil)
	require.NoError(t, err)

	clk.SetTime(t0.Add(3550 * time.Second))
	_, err = mgr.SendQueueMessage(ctx, testQueueURL, "{}", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"queue-1", "queue-2"}, queue.keys)
	assert.Equal(t, 2, assumer.Calls(queueRole))
	assert.Equal(t, 1, assumer.Calls(objectStoreRole))
}

func TestManager_RefreshAndStatus(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	assumer := newRoleAssumer(clk)
	mgr := newTestManager(t, assumer, &fakeQueue{}, clk)

	require.NoError(t, mgr.Refresh(ctx, credcache.ServiceObjectStore))
	assert.Equal(t, 2, assumer.Calls(objectStoreRole))
	assert.ErrorIs(t, mgr.Refresh(ctx, "email"), scoped.ErrUnknownService)

	status := mgr.Status()
	require.Len(t, status, 2)
	assert.Equal(t, credcache.ServiceObjectStore, status[0].Service)
	assert.Equal(t, credcache.ServiceQueue, status[1].Service)
	for _, s := range status {
		assert.Equal(t, credcache.StateLive, s.State)
		assert.Equal(t, t0.Add(time.Hour), s.ExpiresAt)
	}
}

func TestManager_Metrics(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(t0)
	reg := prometheus.NewRegistry()
	queue := &fakeQueue{out: &sqs.SendMessageOutput{MessageId: aws.String("id")}}
	mgr := newTestManager(t, newRoleAssumer(clk), queue, clk, scoped.WithMetricsRegisterer(reg))

	_, err := mgr.SendQueueMessage(context.Background(), testQueueURL, "{}", nil)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg,
		"simplebox_queue_dispatches_total",
		"simplebox_credential_refreshes_total")
	require.NoError(t, err)
	// One dispatch series plus one refresh series per service.
	assert.Equal(t, 3, count)
}
