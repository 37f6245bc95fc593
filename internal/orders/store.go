package orders

import "context"

// Store is the persistence boundary of the placement workflow.
//
// Atomically runs fn as one all-or-nothing unit: either every write made
// through tx is committed, or none is. Reads of a product through
// FindForUpdate hold that product against concurrent units until the unit
// ends. Implementations may retry fn on transient conflicts, so fn must
// not keep side effects outside tx.
type Store interface {
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Products() ProductRepository
	Orders() OrderRepository
}

type Tx interface {
	Users() UserRepository
	Products() ProductRepository
	Orders() OrderRepository
}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	ClearCart(ctx context.Context, id string) error
}

type ProductRepository interface {
	FindForUpdate(ctx context.Context, id string) (*Product, error)
	// DecrementStock lowers stock by qty only if at least qty is available,
	// returning ErrStockConflict otherwise.
	DecrementStock(ctx context.Context, id string, qty int) error
	List(ctx context.Context) ([]Product, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string, page, limit int) ([]Order, int64, error)
}

// EventPublisher delivers integration events after a unit has committed.
type EventPublisher interface {
	Publish(ctx context.Context, env Envelope) error
}
