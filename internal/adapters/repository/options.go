package repository

import (
	"time"

	"github.com/okian/vitalrisk/pkg/logger"
)

// MemoryOption applies a configuration option to the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithFailureInjector makes the store consult f before each write step.
func WithFailureInjector(f FailureInjector) MemoryOption {
	return func(s *MemoryStore) {
		s.inject = f
	}
}

// PostgresOption applies a configuration option to the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPool sizes the connection pool.
func WithPool(maxOpen, maxIdle int) PostgresOption {
	return func(s *PostgresStore) {
		if maxOpen > 0 {
			s.maxOpen = maxOpen
		}
		if maxIdle >= 0 {
			s.maxIdle = maxIdle
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) PostgresOption {
	return func(s *PostgresStore) {
		if l != nil {
			s.log = l
		}
	}
}
