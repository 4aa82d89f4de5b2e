package worker

import (
	"time"

	"github.com/okian/vitalrisk/pkg/logger"
)

// Option configures a feed worker.
type Option func(*InMemoryWorker)

// WithName labels the worker in logs, e.g. "feed-worker-3".
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger replaces the worker logger.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.publishTimeout = d
		}
	}
}
