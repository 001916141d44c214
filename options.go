package localstore

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// options configures the persistence session behavior (internal only).
type options struct {
	clientID        string
	leaseTTL        time.Duration
	refreshInterval time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// defaultOptions returns sensible defaults. The lease TTL doubles as the
// staleness threshold: a peer whose lease has not been refreshed within one
// TTL is judged dead and its lease may be reclaimed.
func defaultOptions() options {
	var leaseTTL = 5 * time.Second
	return options{
		clientID:        uuid.NewString(),
		leaseTTL:        leaseTTL,
		refreshInterval: leaseTTL / 3,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
	}
}

// Option is a functional option for configuring a persistence session.
type Option func(*options)

// WithLeaseTTL sets the lease staleness threshold. The heartbeat refresh
// interval is derived as a third of the TTL so a live client always
// refreshes well inside the threshold.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.leaseTTL = ttl
		o.refreshInterval = ttl / 3
	}
}

// WithClientID overrides the generated client identity. Two sessions with
// the same identity are treated as the same client.
func WithClientID(clientID string) Option {
	return func(o *options) {
		o.clientID = clientID
	}
}

// WithLogger sets the logger for the session.
// If the logger is nil, the session will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithNow sets the time source used for lease timestamps and staleness
// checks. For testing.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
