package scoped

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/tendant/simplebox/pkg/credcache"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	clock      clock.PassiveClock
	margin     time.Duration
	registerer prometheus.Registerer

	endpoint     string
	usePathStyle bool

	buildObjectStore credcache.ClientBuilder[*s3.Client]
	buildQueue       credcache.ClientBuilder[QueueAPI]
}

// WithLogger sets the logger for the manager and its caches.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock used for credential staleness checks.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRefreshMargin sets how long before expiry credentials are replaced.
func WithRefreshMargin(margin time.Duration) Option {
	return func(o *options) {
		o.margin = margin
	}
}

// WithMetricsRegisterer registers credential and dispatch metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithObjectStoreEndpoint points the object store client at an S3-compatible endpoint.
func WithObjectStoreEndpoint(endpoint string, usePathStyle bool) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.usePathStyle = usePathStyle
	}
}

// WithObjectStoreClientBuilder replaces the S3 client builder.
func WithObjectStoreClientBuilder(build credcache.ClientBuilder[*s3.Client]) Option {
	return func(o *options) {
		o.buildObjectStore = build
	}
}

// WithQueueClientBuilder replaces the SQS client builder.
func WithQueueClientBuilder(build credcache.ClientBuilder[QueueAPI]) Option {
	return func(o *options) {
		o.buildQueue = build
	}
}

func (o options) cacheOptions(m *credcache.Metrics) []credcache.Option {
	opts := []credcache.Option{credcache.WithLogger(o.logger), credcache.WithMetrics(m)}
	if o.clock != nil {
		opts = append(opts, credcache.WithClock(o.clock))
	}
	if o.margin != 0 {
		opts = append(opts, credcache.WithRefreshMargin(o.margin))
	}
	return opts
}
