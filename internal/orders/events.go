package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced = "OrderPlaced"

	eventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Items       []ItemPrice     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Address     Address         `json:"address"`
	Status      Status          `json:"status"`
	PlacedAt    time.Time       `json:"placed_at"`
}

func NewOrderPlacedPayload(o *Order) OrderPlacedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Name: it.Name, Qty: it.Quantity, Price: it.UnitPrice})
	}
	return OrderPlacedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Items:       items,
		TotalAmount: o.TotalAmount,
		Address:     o.Address,
		Status:      o.Status,
		PlacedAt:    o.CreatedAt,
	}
}

// Order rebuilds the order as it was persisted at placement time.
func (p OrderPlacedPayload) Order() *Order {
	items := make([]LineItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, LineItem{ProductID: it.ProductID, Name: it.Name, Quantity: it.Qty, UnitPrice: it.Price})
	}
	return &Order{
		ID:          p.OrderID,
		UserID:      p.UserID,
		Items:       items,
		TotalAmount: p.TotalAmount,
		Address:     p.Address,
		Status:      p.Status,
		OrderDate:   p.PlacedAt,
		CreatedAt:   p.PlacedAt,
		UpdatedAt:   p.PlacedAt,
	}
}

func newEnvelope(eventID, eventType, producer, traceID, correlationID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type traceKey struct{}

// WithTraceID attaches a request trace id that is copied into emitted events.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
