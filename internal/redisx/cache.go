package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

// OrderCache keeps read copies of placed orders, the Idempotency-Key ->
// order id mapping of the placement endpoint, and consumer dedup markers.
// It is never the source of truth: a miss always falls back to the store.
type OrderCache struct {
	rdb *redis.Client
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	return &OrderCache{rdb: rdb}
}

// Get returns (nil, nil) on a miss.
func (c *OrderCache) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrder, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		// corrupt entry, drop it and read through
		_ = c.rdb.Del(ctx, fmt.Sprintf(KeyOrder, orderID)).Err()
		return nil, nil
	}
	return &o, nil
}

func (c *OrderCache) Put(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err()
}

// LookupIdempotencyKey returns the order id stored for key, or "" if none.
func (c *OrderCache) LookupIdempotencyKey(ctx context.Context, key string) (string, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderPlace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// RememberIdempotencyKey binds key to orderID unless it is already bound.
// It reports whether this call created the binding.
func (c *OrderCache) RememberIdempotencyKey(ctx context.Context, key, orderID string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrderPlace, key), orderID, TTLIdempotency).Result()
}

// MarkProcessed claims eventID for service. It returns false when another
// delivery already claimed it.
func (c *OrderCache) MarkProcessed(ctx context.Context, service, eventID string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Unmark releases a claim so a failed event can be redelivered and retried.
func (c *OrderCache) Unmark(ctx context.Context, service, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
