// Package worker runs the Pub/Sub receive loop feeding the analytics
// consumer.
package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/joaquinreyes/atelier-backend/internal/analytics"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

// Processor handles one decoded message payload.
type Processor interface {
	Process(ctx context.Context, messageID string, data []byte) error
}

// Service consumes sync events from Pub/Sub and hands them to the processor.
type Service struct {
	subscription *gcppubsub.Subscriber
	processor    Processor
	logg         *logger.Logger
}

// NewService creates a new analytics worker service.
func NewService(subscription *gcppubsub.Subscriber, processor Processor, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("events subscription is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: subscription,
		processor:    processor,
		logg:         logg,
	}, nil
}

// Run starts consuming messages until the context is canceled. Messages the
// processor marks as malformed are acked so they never poison the
// subscription; transient failures are nacked for redelivery.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		logCtx := s.logg.WithField(innerCtx, "message_id", msg.ID)

		err := s.processor.Process(logCtx, msg.ID, msg.Data)
		switch {
		case err == nil:
			msg.Ack()
		case errors.Is(err, analytics.ErrBadMessage):
			s.logg.Warn(logCtx, "dropping malformed sync event")
			msg.Ack()
		default:
			s.logg.Error(logCtx, "processing sync event failed", err)
			msg.Nack()
		}
	})
}
