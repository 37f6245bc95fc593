// Package memstore is an in-process orders.Store used for local runs and
// tests. One mutex serializes units; writes are staged and applied only when
// the unit returns nil.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

type Store struct {
	mu       sync.Mutex
	products map[string]orders.Product
	users    map[string]orders.User
	orders   map[string]orders.Order
	seq      []string // order ids in insertion order
}

func New() *Store {
	return &Store{
		products: map[string]orders.Product{},
		users:    map[string]orders.User{},
		orders:   map[string]orders.Order{},
	}
}

func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutUser(u orders.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.CartItems = append([]orders.CartItem(nil), u.CartItems...)
	s.users[u.ID] = u
}

func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) User(id string) (orders.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	u.CartItems = append([]orders.CartItem(nil), u.CartItems...)
	return u, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &unit{
		s:        s,
		products: map[string]orders.Product{},
		users:    map[string]orders.User{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	for _, o := range tx.created {
		s.orders[o.ID] = o
		s.seq = append(s.seq, o.ID)
	}
	return nil
}

func (s *Store) Products() orders.ProductRepository { return readProducts{s} }
func (s *Store) Orders() orders.OrderRepository     { return readOrders{s} }

// unit holds the staged writes of one Atomically call. It is only used
// while s.mu is held.
type unit struct {
	s        *Store
	products map[string]orders.Product
	users    map[string]orders.User
	created  []orders.Order
}

func (u *unit) Users() orders.UserRepository       { return unitUsers{u} }
func (u *unit) Products() orders.ProductRepository { return unitProducts{u} }
func (u *unit) Orders() orders.OrderRepository     { return unitOrders{u} }

func (u *unit) product(id string) (orders.Product, bool) {
	if p, ok := u.products[id]; ok {
		return p, true
	}
	p, ok := u.s.products[id]
	return p, ok
}

func (u *unit) user(id string) (orders.User, bool) {
	if usr, ok := u.users[id]; ok {
		return usr, true
	}
	usr, ok := u.s.users[id]
	return usr, ok
}

type unitUsers struct{ u *unit }

func (r unitUsers) FindByID(_ context.Context, id string) (*orders.User, error) {
	usr, ok := r.u.user(id)
	if !ok {
		return nil, orders.ErrNotFound
	}
	usr.CartItems = append([]orders.CartItem(nil), usr.CartItems...)
	return &usr, nil
}

func (r unitUsers) ClearCart(_ context.Context, id string) error {
	usr, ok := r.u.user(id)
	if !ok {
		return orders.ErrNotFound
	}
	usr.CartItems = []orders.CartItem{}
	r.u.users[id] = usr
	return nil
}

type unitProducts struct{ u *unit }

func (r unitProducts) FindForUpdate(_ context.Context, id string) (*orders.Product, error) {
	p, ok := r.u.product(id)
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &p, nil
}

func (r unitProducts) DecrementStock(_ context.Context, id string, qty int) error {
	p, ok := r.u.product(id)
	if !ok {
		return orders.ErrNotFound
	}
	if p.Stock < qty {
		return orders.ErrStockConflict
	}
	p.Stock -= qty
	r.u.products[id] = p
	return nil
}

func (r unitProducts) List(ctx context.Context) ([]orders.Product, error) {
	out := make([]orders.Product, 0, len(r.u.s.products))
	for id := range r.u.s.products {
		p, _ := r.u.product(id)
		out = append(out, p)
	}
	sortProducts(out)
	return out, nil
}

type unitOrders struct{ u *unit }

func (r unitOrders) Create(_ context.Context, o *orders.Order) error {
	r.u.created = append(r.u.created, o.Clone())
	return nil
}

func (r unitOrders) FindByID(_ context.Context, id string) (*orders.Order, error) {
	for _, o := range r.u.created {
		if o.ID == id {
			out := o.Clone()
			return &out, nil
		}
	}
	o, ok := r.u.s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	out := o.Clone()
	return &out, nil
}

func (r unitOrders) ListByUser(_ context.Context, userID string, page, limit int) ([]orders.Order, int64, error) {
	list, total := r.u.s.listByUser(userID, page, limit)
	return list, total, nil
}

type readProducts struct{ s *Store }

func (r readProducts) FindForUpdate(ctx context.Context, id string) (*orders.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &p, nil
}

// DecrementStock outside a unit applies immediately.
func (r readProducts) DecrementStock(_ context.Context, id string, qty int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return orders.ErrNotFound
	}
	if p.Stock < qty {
		return orders.ErrStockConflict
	}
	p.Stock -= qty
	r.s.products[id] = p
	return nil
}

func (r readProducts) List(context.Context) ([]orders.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]orders.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, p)
	}
	sortProducts(out)
	return out, nil
}

type readOrders struct{ s *Store }

func (r readOrders) Create(_ context.Context, o *orders.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[o.ID] = o.Clone()
	r.s.seq = append(r.s.seq, o.ID)
	return nil
}

func (r readOrders) FindByID(_ context.Context, id string) (*orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	out := o.Clone()
	return &out, nil
}

func (r readOrders) ListByUser(_ context.Context, userID string, page, limit int) ([]orders.Order, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list, total := r.s.listByUser(userID, page, limit)
	return list, total, nil
}

// listByUser returns newest first. Caller holds s.mu.
func (s *Store) listByUser(userID string, page, limit int) ([]orders.Order, int64) {
	var mine []orders.Order
	for i := len(s.seq) - 1; i >= 0; i-- {
		o := s.orders[s.seq[i]]
		if o.UserID == userID {
			mine = append(mine, o.Clone())
		}
	}
	total := int64(len(mine))
	start := (page - 1) * limit
	if start >= len(mine) {
		return []orders.Order{}, total
	}
	end := start + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[start:end], total
}

func sortProducts(ps []orders.Product) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Name == ps[j].Name {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].Name < ps[j].Name
	})
}
