package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// OrderPublisher adapts a Producer to orders.EventPublisher.
type OrderPublisher struct {
	p *Producer
}

func NewOrderPublisher(p *Producer) *OrderPublisher { return &OrderPublisher{p: p} }

func (o *OrderPublisher) Publish(ctx context.Context, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return o.p.Publish(ctx, orders.PartitionKey(env.CorrelationID), b,
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
