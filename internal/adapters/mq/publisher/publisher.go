// Package publisher writes committed prediction events to a Redis Stream so
// live dashboards can follow risk changes without polling the store.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/logger"
	"github.com/okian/vitalrisk/pkg/metrics"
)

const (
	defaultStream = "vitalrisk:predictions"
	defaultMaxLen = 10000
)

// ErrPublish is returned when an event could not be written to the stream.
var ErrPublish = errors.New("publish prediction event")

// Publisher delivers prediction events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e model.PredictionEvent) (string, error)
}

// Option applies a configuration option to the StreamPublisher.
type Option func(*StreamPublisher)

// WithStream sets the stream key events are appended to.
func WithStream(stream string) Option {
	return func(p *StreamPublisher) {
		if stream != "" {
			p.stream = stream
		}
	}
}

// WithMaxLen caps the stream at roughly n entries. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(p *StreamPublisher) {
		if n >= 0 {
			p.maxLen = n
		}
	}
}

// WithLogger sets a custom logger for the publisher.
func WithLogger(l logger.Logger) Option {
	return func(p *StreamPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// StreamPublisher implements Publisher with XADD on a Redis Stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger logger.Logger
}

// NewStreamPublisher creates a publisher on an existing client.
func NewStreamPublisher(client *redis.Client, opts ...Option) *StreamPublisher {
	p := &StreamPublisher{
		client: client,
		stream: defaultStream,
		maxLen: defaultMaxLen,
		logger: logger.Get().Named("publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream returns the stream key.
func (p *StreamPublisher) Stream() string { return p.stream }

// Publish appends e as a JSON "data" field and returns the entry id.
func (p *StreamPublisher) Publish(ctx context.Context, e model.PredictionEvent) (string, error) {
	start := time.Now()

	body, err := json.Marshal(e)
	if err != nil {
		metrics.RecordFeedPublishError()
		return "", fmt.Errorf("%w: encode %s: %w", ErrPublish, e.PredictionID, err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"prediction_id": e.PredictionID,
			"patient_id":    e.PatientID,
			"risk_level":    string(e.RiskCategory),
			"data":          string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		metrics.RecordFeedPublishError()
		metrics.RecordErrorByComponent("publisher", "xadd")
		return "", fmt.Errorf("%w: %s: %w", ErrPublish, e.PredictionID, err)
	}

	metrics.RecordFeedPublished(float64(time.Since(start).Microseconds()) / 1000)
	p.logger.Debug(ctx, "prediction published",
		logger.String("stream", p.stream),
		logger.String("entry_id", id),
		logger.String("prediction_id", e.PredictionID),
	)
	return id, nil
}

// Ping verifies the Redis connection.
func (p *StreamPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrPublish, err)
	}
	return nil
}
