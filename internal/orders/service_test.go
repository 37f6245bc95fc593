package orders_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-cart-checkout/internal/memstore"
	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

// --- helpers ---

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.PutProduct(orders.Product{ID: "P1", Name: "Laptop Sleeve", Price: price("10.00"), Stock: 5})
	s.PutProduct(orders.Product{ID: "P2", Name: "USB Hub", Price: price("24.99"), Stock: 1})
	s.PutUser(orders.User{
		ID:        "u1",
		Name:      "Sam",
		CartItems: []orders.CartItem{{ProductID: "P1", Quantity: 2}},
	})
	return s
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []orders.Envelope
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, env orders.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return r.err
}

func newPlacer(t *testing.T, store orders.Store, pub orders.EventPublisher) *orders.Placer {
	t.Helper()
	n := 0
	var mu sync.Mutex
	return orders.NewPlacer(store, pub, zaptest.NewLogger(t), "order-api",
		orders.WithClock(func() time.Time { return fixedNow }),
		orders.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func stockOf(t *testing.T, s *memstore.Store, id string) int {
	t.Helper()
	p, ok := s.Product(id)
	require.True(t, ok)
	return p.Stock
}

func cartOf(t *testing.T, s *memstore.Store, id string) []orders.CartItem {
	t.Helper()
	u, ok := s.User(id)
	require.True(t, ok)
	return u.CartItems
}

// spyStore records every product looked up inside a unit.
type spyStore struct {
	orders.Store
	mu     sync.Mutex
	looked []string
}

func (s *spyStore) Atomically(ctx context.Context, fn func(context.Context, orders.Tx) error) error {
	return s.Store.Atomically(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, spyTx{Tx: tx, s: s})
	})
}

type spyTx struct {
	orders.Tx
	s *spyStore
}

func (t spyTx) Products() orders.ProductRepository { return spyProducts{t.Tx.Products(), t.s} }

type spyProducts struct {
	orders.ProductRepository
	s *spyStore
}

func (p spyProducts) FindForUpdate(ctx context.Context, id string) (*orders.Product, error) {
	p.s.mu.Lock()
	p.s.looked = append(p.s.looked, id)
	p.s.mu.Unlock()
	return p.ProductRepository.FindForUpdate(ctx, id)
}

// failingStore makes order creation fail after stock has been decremented.
type failingStore struct{ orders.Store }

func (s failingStore) Atomically(ctx context.Context, fn func(context.Context, orders.Tx) error) error {
	return s.Store.Atomically(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, failingTx{tx})
	})
}

type failingTx struct{ orders.Tx }

func (t failingTx) Orders() orders.OrderRepository { return failingOrders{t.Tx.Orders()} }

type failingOrders struct{ orders.OrderRepository }

func (failingOrders) Create(context.Context, *orders.Order) error {
	return errors.New("connection reset by peer")
}

// --- tests ---

func TestPlaceOrder_Success(t *testing.T) {
	store := seed(t)
	pub := &recordingPublisher{}
	svc := newPlacer(t, store, pub)

	addr := orders.Address{StreetAddress: "1 Main St", City: "Halifax", Country: "CA"}
	o, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID:  "u1",
		Items:   []orders.ItemInput{{ProductID: "P1", Quantity: 2}},
		Address: addr,
	})
	require.NoError(t, err)

	assert.Equal(t, "id-1", o.ID)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, o.TotalAmount.Equal(price("20.00")), "total %s", o.TotalAmount)
	assert.Equal(t, addr, o.Address)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assert.Equal(t, fixedNow, o.OrderDate)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "P1", o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.True(t, o.Items[0].UnitPrice.Equal(price("10.00")))

	assert.Equal(t, 3, stockOf(t, store, "P1"))
	assert.Empty(t, cartOf(t, store, "u1"))
	assert.Equal(t, 1, store.OrderCount())

	require.Len(t, pub.envs, 1)
	assert.Equal(t, orders.EventOrderPlaced, pub.envs[0].EventType)
	assert.Equal(t, o.ID, pub.envs[0].CorrelationID)
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	store := seed(t)
	svc := newPlacer(t, store, nil)

	_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items:  []orders.ItemInput{{ProductID: "P1", Quantity: 10}},
	})

	var ins *orders.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "P1", ins.ProductID)
	assert.Equal(t, "Laptop Sleeve", ins.ProductName)
	assert.Equal(t, 5, ins.Available)
	assert.Equal(t, 10, ins.Requested)
	assert.Equal(t, 5, stockOf(t, store, "P1"))
	assert.NotEmpty(t, cartOf(t, store, "u1"))
	assert.Zero(t, store.OrderCount())
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	store := seed(t)
	svc := newPlacer(t, store, nil)

	_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items:  []orders.ItemInput{{ProductID: "ghost", Quantity: 1}},
	})

	var pnf *orders.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "ghost", pnf.ProductID)
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, 5, stockOf(t, store, "P1"))
	assert.Equal(t, 1, stockOf(t, store, "P2"))
}

func TestPlaceOrder_LaterLineFailureLeavesEarlierStockUntouched(t *testing.T) {
	store := seed(t)
	svc := newPlacer(t, store, nil)

	_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items: []orders.ItemInput{
			{ProductID: "P1", Quantity: 2},
			{ProductID: "P2", Quantity: 100},
		},
	})

	var ins *orders.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, "P2", ins.ProductID)
	assert.Equal(t, 5, stockOf(t, store, "P1"), "P1 decrement must be rolled back")
	assert.Equal(t, 1, stockOf(t, store, "P2"))
	assert.NotEmpty(t, cartOf(t, store, "u1"))
	assert.Zero(t, store.OrderCount())
}

func TestPlaceOrder_UnknownUserIsRejectedBeforeStock(t *testing.T) {
	store := seed(t)
	spy := &spyStore{Store: store}
	svc := newPlacer(t, spy, nil)

	_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "nobody",
		Items:  []orders.ItemInput{{ProductID: "P1", Quantity: 1}},
	})

	require.ErrorIs(t, err, orders.ErrUserNotFound)
	assert.Empty(t, spy.looked)
	assert.Equal(t, 5, stockOf(t, store, "P1"))
	assert.Zero(t, store.OrderCount())
}

func TestPlaceOrder_StopsAtFirstFailingLine(t *testing.T) {
	store := seed(t)
	spy := &spyStore{Store: store}
	svc := newPlacer(t, spy, nil)

	_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items: []orders.ItemInput{
			{ProductID: "P1", Quantity: 1},
			{ProductID: "ghost", Quantity: 1},
			{ProductID: "P2", Quantity: 1},
		},
	})

	var pnf *orders.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "ghost", pnf.ProductID)
	assert.Equal(t, []string{"P1", "ghost"}, spy.looked)
	assert.Equal(t, 1, stockOf(t, store, "P2"))
}

func TestPlaceOrder_InvalidInput(t *testing.T) {
	cases := map[string]orders.PlaceOrderRequest{
		"missing user":  {Items: []orders.ItemInput{{ProductID: "P1", Quantity: 1}}},
		"no items":      {UserID: "u1"},
		"empty product": {UserID: "u1", Items: []orders.ItemInput{{Quantity: 1}}},
		"zero quantity": {UserID: "u1", Items: []orders.ItemInput{{ProductID: "P1", Quantity: 0}}},
		"negative qty":  {UserID: "u1", Items: []orders.ItemInput{{ProductID: "P1", Quantity: -3}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			store := seed(t)
			svc := newPlacer(t, store, nil)

			_, err := svc.PlaceOrder(context.Background(), req)

			var inv *orders.InvalidInputError
			require.ErrorAs(t, err, &inv)
			assert.Equal(t, 5, stockOf(t, store, "P1"))
		})
	}
}

func TestPlaceOrder_DuplicateLinesDecrementTheSum(t *testing.T) {
	store := seed(t)
	svc := newPlacer(t, store, nil)

	o, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items: []orders.ItemInput{
			{ProductID: "P1", Quantity: 2},
			{ProductID: "P1", Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, store, "P1"))
	assert.True(t, o.TotalAmount.Equal(price("50")))

	_, err = svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items: []orders.ItemInput{
			{ProductID: "P2", Quantity: 1},
			{ProductID: "P2", Quantity: 1},
		},
	})
	var ins *orders.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, 0, ins.Available)
	assert.Equal(t, 1, stockOf(t, store, "P2"))
}

func TestPlaceOrder_TotalMatchesLineItems(t *testing.T) {
	store := memstore.New()
	store.PutUser(orders.User{ID: "u1"})
	store.PutProduct(orders.Product{ID: "a", Name: "A", Price: price("0.10"), Stock: 100})
	store.PutProduct(orders.Product{ID: "b", Name: "B", Price: price("0.20"), Stock: 100})
	store.PutProduct(orders.Product{ID: "c", Name: "C", Price: price("19.99"), Stock: 100})
	svc := newPlacer(t, store, nil)

	o, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items: []orders.ItemInput{
			{ProductID: "a", Quantity: 3},
			{ProductID: "b", Quantity: 7},
			{ProductID: "c", Quantity: 11},
		},
	})
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(orders.SumItems(o.Items)))
	assert.Equal(t, "221.59", o.TotalAmount.StringFixed(2))
}

func TestPlaceOrder_PersistenceFailureRollsBack(t *testing.T) {
	store := seed(t)
	pub := &recordingPublisher{}
	svc := newPlacer(t, failingStore{store}, pub)

	_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items:  []orders.ItemInput{{ProductID: "P1", Quantity: 2}},
	})

	var pe *orders.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create order", pe.Op)
	assert.False(t, orders.IsRejection(err))
	assert.Equal(t, 5, stockOf(t, store, "P1"))
	assert.NotEmpty(t, cartOf(t, store, "u1"))
	assert.Empty(t, pub.envs)
}

func TestPlaceOrder_PublishFailureDoesNotFailOrder(t *testing.T) {
	store := seed(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newPlacer(t, store, pub)

	o, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items:  []orders.ItemInput{{ProductID: "P1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.Equal(t, 4, stockOf(t, store, "P1"))
}

func TestPlaceOrder_TraceIDIsPropagated(t *testing.T) {
	store := seed(t)
	pub := &recordingPublisher{}
	svc := newPlacer(t, store, pub)

	ctx := orders.WithTraceID(context.Background(), "req-42")
	_, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
		UserID: "u1",
		Items:  []orders.ItemInput{{ProductID: "P1", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, pub.envs, 1)
	assert.Equal(t, "req-42", pub.envs[0].TraceID)
	assert.Equal(t, "order-api", pub.envs[0].Producer)
}

func TestPlaceOrder_NoOversellUnderConcurrency(t *testing.T) {
	const stock, buyers = 10, 40
	store := memstore.New()
	store.PutProduct(orders.Product{ID: "hot", Name: "Hot Item", Price: price("5"), Stock: stock})
	for i := 0; i < buyers; i++ {
		store.PutUser(orders.User{ID: fmt.Sprintf("u%d", i)})
	}
	svc := newPlacer(t, store, nil)

	var (
		mu      sync.Mutex
		ok      int
		refused int
	)
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		userID := fmt.Sprintf("u%d", i)
		g.Go(func() error {
			_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
				UserID: userID,
				Items:  []orders.ItemInput{{ProductID: "hot", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			var ins *orders.InsufficientStockError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &ins):
				refused++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, refused)
	assert.Equal(t, 0, stockOf(t, store, "hot"))
	assert.Equal(t, stock, store.OrderCount())
}

func TestGetOrder_PriceSnapshotSurvivesPriceChange(t *testing.T) {
	store := seed(t)
	svc := newPlacer(t, store, nil)

	o, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		UserID: "u1",
		Items:  []orders.ItemInput{{ProductID: "P1", Quantity: 2}},
	})
	require.NoError(t, err)

	p, _ := store.Product("P1")
	p.Price = price("99.00")
	store.PutProduct(p)

	got, err := svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, got.Items[0].UnitPrice.Equal(price("10.00")))
	assert.True(t, got.TotalAmount.Equal(price("20.00")))
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := newPlacer(t, seed(t), nil)
	_, err := svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestListUserOrders_Paginates(t *testing.T) {
	store := seed(t)
	store.PutProduct(orders.Product{ID: "P3", Name: "Sticker", Price: price("1"), Stock: 100})
	svc := newPlacer(t, store, nil)
	for i := 0; i < 3; i++ {
		_, err := svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
			UserID: "u1",
			Items:  []orders.ItemInput{{ProductID: "P3", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	page, err := svc.ListUserOrders(context.Background(), "u1", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
	assert.Equal(t, int64(3), page.Meta.TotalOrders)
	assert.Equal(t, int64(2), page.Meta.TotalPages)
	assert.True(t, page.Meta.HasMore)
	assert.Equal(t, "id-3", page.Orders[0].ID, "newest first")

	page, err = svc.ListUserOrders(context.Background(), "u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Orders, 1)
	assert.False(t, page.Meta.HasMore)

	page, err = svc.ListUserOrders(context.Background(), "u1", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, orders.DefaultPage, page.Meta.Page)
	assert.Equal(t, orders.MaxLimit, page.Meta.Limit)
}

func TestListProducts(t *testing.T) {
	svc := newPlacer(t, seed(t), nil)
	ps, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "Laptop Sleeve", ps[0].Name)
	assert.Equal(t, "USB Hub", ps[1].Name)
}
