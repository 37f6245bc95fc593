// Package projector consumes OrderPlaced events and warms the order read
// cache, so GET /api/orders/{id} is served from Redis right after placement.
package projector

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-cart-checkout/internal/kafka"
	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

type Cache interface {
	Put(ctx context.Context, o *orders.Order) error
	MarkProcessed(ctx context.Context, service, eventID string) (bool, error)
	Unmark(ctx context.Context, service, eventID string) error
}

type Service struct {
	Cache       Cache
	Log         *zap.Logger
	ServiceName string
}

// HandleOrderPlaced is installed as the consumer handler.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message, retrying cannot help
		s.Log.Error("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}
	log := s.Log.With(
		zap.String("event_id", env.EventID),
		zap.String("order_id", env.CorrelationID),
		zap.String("trace_id", env.TraceID),
	)

	first, err := s.Cache.MarkProcessed(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		log.Debug("duplicate event skipped")
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		log.Error("drop event with bad payload", zap.Error(err))
		return nil
	}
	if err := s.Cache.Put(ctx, p.Order()); err != nil {
		_ = s.Cache.Unmark(ctx, s.ServiceName, env.EventID)
		return err
	}
	log.Info("order projected", zap.String("total", p.TotalAmount.StringFixed(2)))
	return nil
}
