package application

import (
	"log/slog"
	"time"
)

type coordinatorOptions struct {
	logger  *slog.Logger
	now     func() time.Time
	retrier *MirrorRetrier
}

// CoordinatorOption configures the issuance and revocation services.
type CoordinatorOption func(*coordinatorOptions)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// WithClock overrides the time source used for mirror timestamps.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.now = now
	}
}

// WithMirrorRetrier hands failed mirror writes to r for background retry.
func WithMirrorRetrier(r *MirrorRetrier) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.retrier = r
	}
}

func buildOptions(opts []CoordinatorOption) coordinatorOptions {
	o := coordinatorOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
