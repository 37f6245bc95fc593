package redisx

import "time"

const (
	// Idempotent placement: idem:order:place:{Idempotency-Key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Order read cache: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
