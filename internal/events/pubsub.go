package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

const publishTimeout = 15 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

// PubSubPublisher fans collection updates out on a Pub/Sub topic. Publishing
// is best-effort: a failed publish is logged, never surfaced to the engine.
type PubSubPublisher struct {
	pub  publisher
	logg *logger.Logger
}

// NewPubSubPublisher wraps the given topic publisher.
func NewPubSubPublisher(pub *gcppubsub.Publisher, logg *logger.Logger) (*PubSubPublisher, error) {
	if pub == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &PubSubPublisher{pub: &gcpPublisher{Publisher: pub}, logg: logg}, nil
}

// CollectionUpdated publishes one update with routing attributes.
func (p *PubSubPublisher) CollectionUpdated(ctx context.Context, update Update) {
	payload, err := json.Marshal(update)
	if err != nil {
		p.logg.Warn(ctx, "encoding collection update failed")
		return
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"collection": update.Collection,
			"user_id":    update.UserID,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := p.pub.Publish(publishCtx, msg)
	if _, err := result.Get(publishCtx); err != nil {
		ctx = p.logg.WithCollection(p.logg.WithUserID(ctx, update.UserID), update.Collection)
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "publishing collection update failed")
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
