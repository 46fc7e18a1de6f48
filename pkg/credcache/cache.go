// Package credcache caches clients built from short-lived role credentials and
// refreshes them lazily, shortly before the credentials expire.
//
// A Cache holds exactly one generation at a time: the Bundle returned by the
// RoleAssumer and the client built from it. Both are swapped in together, so a
// reader never sees a client paired with another generation's bundle. Refreshes
// only happen as a side effect of Client or Refresh; there are no timers.
package credcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// DefaultRefreshMargin is how long before expiry cached credentials are replaced.
const DefaultRefreshMargin = 5 * time.Minute

const refreshKey = "refresh"

// State is the inferred lifecycle state of a Cache.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLive          State = "live"
	StateStale         State = "stale"
)

// Status is a snapshot of a Cache that carries no secret material.
type Status struct {
	Service     ServiceName `json:"service"`
	RoleARN     string      `json:"role_arn"`
	State       State       `json:"state"`
	ExpiresAt   time.Time   `json:"expires_at,omitempty"`
	RefreshedAt time.Time   `json:"refreshed_at,omitempty"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock   clock.PassiveClock
	margin  time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// WithClock sets the clock used for staleness checks.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRefreshMargin sets how long before expiry credentials count as stale.
func WithRefreshMargin(margin time.Duration) Option {
	return func(o *options) {
		o.margin = margin
	}
}

// WithLogger sets the logger used to report refreshes.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records refresh metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

type generation[T any] struct {
	bundle      Bundle
	client      T
	refreshedAt time.Time
}

// Cache holds the current credentials of one RoleBinding and the client built
// from them. It is safe for concurrent use.
type Cache[T any] struct {
	binding RoleBinding
	assumer RoleAssumer
	build   ClientBuilder[T]
	opts    options

	current atomic.Pointer[generation[T]]
	group   singleflight.Group
}

// New creates an uninitialized Cache. No credentials are requested until the
// first call to Client or Refresh.
func New[T any](binding RoleBinding, assumer RoleAssumer, build ClientBuilder[T], opts ...Option) (*Cache[T], error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}
	if assumer == nil {
		return nil, errors.New("role assumer is required")
	}
	if build == nil {
		return nil, errors.New("client builder is required")
	}

	o := options{
		clock:  clock.RealClock{},
		margin: DefaultRefreshMargin,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.margin <= 0 {
		return nil, fmt.Errorf("refresh margin must be positive, got %s", o.margin)
	}

	return &Cache[T]{
		binding: binding,
		assumer: assumer,
		build:   build,
		opts:    o,
	}, nil
}

// Binding returns the role binding this cache refreshes.
func (c *Cache[T]) Binding() RoleBinding {
	return c.binding
}

// Client returns a client whose credentials stay valid for at least the
// refresh margin. Stale or missing credentials are refreshed first; concurrent
// callers share a single refresh and its result.
func (c *Cache[T]) Client(ctx context.Context) (T, error) {
	if gen := c.current.Load(); gen != nil && !c.expired(gen.bundle) {
		c.opts.metrics.recordClientEvent(c.binding.Service, EventTypeHit)
		return gen.client, nil
	}

	c.opts.metrics.recordClientEvent(c.binding.Service, EventTypeMiss)
	gen, err := c.refreshShared(ctx, true)
	if err != nil {
		var zero T
		return zero, err
	}
	return gen.client, nil
}

// Refresh replaces the current credentials regardless of their expiry. If a
// refresh is already in flight, Refresh shares it; when that flight ends
// without new credentials, Refresh starts its own. On failure the previous
// generation stays in place.
func (c *Cache[T]) Refresh(ctx context.Context) error {
	before := c.current.Load()
	for {
		gen, err := c.refreshShared(ctx, false)
		if err != nil {
			return err
		}
		if before == nil || gen != before {
			return nil
		}
		// Joined a lazy flight that found the credentials fresh.
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Expired reports whether the current credentials are missing or expire within
// the refresh margin.
func (c *Cache[T]) Expired() bool {
	gen := c.current.Load()
	return gen == nil || c.expired(gen.bundle)
}

// Current returns the bundle and client of the live generation as one pair,
// without refreshing. ok is false before the first successful refresh.
func (c *Cache[T]) Current() (bundle Bundle, client T, ok bool) {
	gen := c.current.Load()
	if gen == nil {
		return Bundle{}, client, false
	}
	return gen.bundle, gen.client, true
}

// Status returns a snapshot of the cache state.
func (c *Cache[T]) Status() Status {
	status := Status{
		Service: c.binding.Service,
		RoleARN: c.binding.RoleARN,
		State:   StateUninitialized,
	}
	gen := c.current.Load()
	if gen == nil {
		return status
	}
	status.ExpiresAt = gen.bundle.ExpiresAt
	status.RefreshedAt = gen.refreshedAt
	status.State = StateLive
	if c.expired(gen.bundle) {
		status.State = StateStale
	}
	return status
}

func (c *Cache[T]) expired(bundle Bundle) bool {
	return !c.opts.clock.Now().Add(c.opts.margin).Before(bundle.ExpiresAt)
}

func (c *Cache[T]) refreshShared(ctx context.Context, lazy bool) (*generation[T], error) {
	// The flight outlives any single caller, so it must not inherit its cancellation.
	flightCtx := context.WithoutCancel(ctx)

	v, err, _ := c.group.Do(refreshKey, func() (any, error) {
		// Another flight may have finished between our staleness check and now.
		if lazy {
			if gen := c.current.Load(); gen != nil && !c.expired(gen.bundle) {
				return gen, nil
			}
		}
		return c.refresh(flightCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*generation[T]), nil
}

func (c *Cache[T]) refresh(ctx context.Context) (*generation[T], error) {
	start := c.opts.clock.Now()
	gen, err := c.assume(ctx)
	elapsed := c.opts.clock.Since(start)

	if err != nil {
		c.opts.metrics.recordRefresh(c.binding.Service, StatusFailure, elapsed)
		c.opts.logger.Warn("credential refresh failed",
			"service", c.binding.Service,
			"role_arn", c.binding.RoleARN,
			"err", err)
		return nil, err
	}

	c.current.Store(gen)

	c.opts.metrics.recordRefresh(c.binding.Service, StatusSuccess, elapsed)
	c.opts.metrics.setExpiry(c.binding.Service, gen.bundle.ExpiresAt)
	c.opts.logger.Debug("credentials refreshed",
		"service", c.binding.Service,
		"role_arn", c.binding.RoleARN,
		"expires_at", gen.bundle.ExpiresAt)
	return gen, nil
}

func (c *Cache[T]) assume(ctx context.Context) (*generation[T], error) {
	bundle, err := c.assumer.AssumeRole(ctx, c.binding)
	if err != nil {
		return nil, c.providerError(err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, c.providerError(err)
	}
	if c.expired(bundle) {
		return nil, c.providerError(fmt.Errorf("%w: expires at %s",
			ErrBundleExpiresTooSoon, bundle.ExpiresAt.Format(time.RFC3339)))
	}

	client, err := c.build(ctx, bundle, c.binding.Region)
	if err != nil {
		return nil, &ClientConstructionError{
			Service: c.binding.Service,
			Region:  c.binding.Region,
			Err:     err,
		}
	}

	return &generation[T]{
		bundle:      bundle,
		client:      client,
		refreshedAt: c.opts.clock.Now(),
	}, nil
}

func (c *Cache[T]) providerError(err error) error {
	return &CredentialProviderError{
		Service: c.binding.Service,
		RoleARN: c.binding.RoleARN,
		Err:     err,
	}
}
