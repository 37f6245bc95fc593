package memstore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

// SeedDemo loads a small catalog and one user with a filled cart, for
// running the API without a database.
func (s *Store) SeedDemo() {
	now := time.Now().UTC()
	for _, p := range []orders.Product{
		{ID: "p-sleeve", Name: "Laptop Sleeve", Price: decimal.RequireFromString("10.00"), Stock: 50},
		{ID: "p-hub", Name: "USB Hub", Price: decimal.RequireFromString("24.99"), Stock: 20},
		{ID: "p-cable", Name: "USB-C Cable", Price: decimal.RequireFromString("7.49"), Stock: 100},
	} {
		p.CreatedAt, p.UpdatedAt = now, now
		s.PutProduct(p)
	}
	s.PutUser(orders.User{
		ID:   "demo-user",
		Name: "Demo User",
		CartItems: []orders.CartItem{
			{ProductID: "p-sleeve", Quantity: 1},
			{ProductID: "p-cable", Quantity: 2},
		},
	})
}
