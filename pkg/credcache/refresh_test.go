package credcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestCache_RefreshDoesNotSettleForUnchangedGeneration(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	var mu sync.Mutex
	calls := 0
	assumer := AssumeRoleFunc(func(context.Context, RoleBinding) (Bundle, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return Bundle{
			AccessKeyID:     fmt.Sprintf("AKID%d", calls),
			SecretAccessKey: "secret",
			SessionToken:    "token",
			ExpiresAt:       clk.Now().Add(time.Hour),
		}, nil
	})
	build := func(_ context.Context, bundle Bundle, _ string) (string, error) {
		return bundle.AccessKeyID, nil
	}

	cache, err := New[string](RoleBinding{
		Service:     ServiceQueue,
		RoleARN:     "arn:aws:iam::123456789012:role/SQSAccessRole",
		SessionName: "SimpleboxBackendSession",
		Region:      "us-east-1",
	}, assumer, build,
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	require.NoError(t, cache.Refresh(ctx))
	before := cache.current.Load()

	// A lazy flight that finds the credentials fresh hands back the current
	// generation without assuming the role.
	started := make(chan struct{})
	release := make(chan struct{})
	flightDone := make(chan struct{})
	go func() {
		defer close(flightDone)
		cache.group.Do(refreshKey, func() (any, error) {
			close(started)
			<-release
			return cache.current.Load(), nil
		})
	}()
	<-started

	refreshed := make(chan error, 1)
	go func() {
		refreshed <- cache.Refresh(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-flightDone

	require.NoError(t, <-refreshed)
	after := cache.current.Load()
	assert.NotSame(t, before, after)
	assert.Equal(t, "AKID2", after.client)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}
