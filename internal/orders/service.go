package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Placer turns a submitted cart into a persisted order.
type Placer struct {
	store     Store
	publisher EventPublisher
	log       *zap.Logger
	producer  string
	now       func() time.Time
	newID     func() string
}

type Option func(*Placer)

func WithClock(now func() time.Time) Option {
	return func(p *Placer) { p.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(p *Placer) { p.newID = gen }
}

// NewPlacer builds a Placer. publisher may be nil, in which case no events
// are emitted.
func NewPlacer(store Store, publisher EventPublisher, log *zap.Logger, producer string, opts ...Option) *Placer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Placer{
		store:     store,
		publisher: publisher,
		log:       log,
		producer:  producer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func validate(req PlaceOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &InvalidInputError{Reason: "userId is required"}
	}
	if len(req.Items) == 0 {
		return &InvalidInputError{Reason: "at least one product is required"}
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &InvalidInputError{Reason: fmt.Sprintf("products[%d].productId is required", i)}
		}
		if it.Quantity <= 0 {
			return &InvalidInputError{Reason: fmt.Sprintf("products[%d].quantity must be positive", i)}
		}
	}
	return nil
}

// PlaceOrder validates the request, checks the user, then reserves stock
// line by line and persists the order and the emptied cart in one unit.
// A rejection on any line aborts the unit, so no stock is decremented for
// a failed order.
func (p *Placer) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	log := p.log.With(zap.String("user_id", req.UserID))
	if err := validate(req); err != nil {
		log.Warn("order rejected", zap.Error(err))
		return nil, err
	}

	var placed *Order
	err := p.store.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Users().FindByID(ctx, req.UserID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrUserNotFound
			}
			return &PersistenceError{Op: "find user", Err: err}
		}

		items, total, err := p.reserve(ctx, tx.Products(), req.Items)
		if err != nil {
			return err
		}

		now := p.now().UTC()
		order := &Order{
			ID:          p.newID(),
			UserID:      req.UserID,
			Items:       items,
			TotalAmount: total,
			Address:     req.Address,
			Status:      StatusPending,
			OrderDate:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return &PersistenceError{Op: "create order", Err: err}
		}
		if err := tx.Users().ClearCart(ctx, req.UserID); err != nil {
			return &PersistenceError{Op: "clear cart", Err: err}
		}
		placed = order
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			log.Warn("order rejected", zap.Error(err))
			return nil, err
		}
		var pe *PersistenceError
		if !errors.As(err, &pe) {
			err = &PersistenceError{Op: "commit order", Err: err}
		}
		log.Error("order placement failed", zap.Error(err))
		return nil, err
	}

	p.publish(ctx, placed)
	log.Info("order placed",
		zap.String("order_id", placed.ID),
		zap.Int("lines", len(placed.Items)),
		zap.String("total", placed.TotalAmount.StringFixed(2)))
	return placed, nil
}

// reserve walks the lines in input order and stops at the first failure.
func (p *Placer) reserve(ctx context.Context, products ProductRepository, lines []ItemInput) ([]LineItem, decimal.Decimal, error) {
	items := make([]LineItem, 0, len(lines))
	total := decimal.Zero
	for _, it := range lines {
		product, err := products.FindForUpdate(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, total, &ProductNotFoundError{ProductID: it.ProductID}
			}
			return nil, total, &PersistenceError{Op: "find product", Err: err}
		}
		if product.Stock < it.Quantity {
			return nil, total, insufficient(product, it.Quantity)
		}
		if err := products.DecrementStock(ctx, product.ID, it.Quantity); err != nil {
			if errors.Is(err, ErrStockConflict) {
				return nil, total, insufficient(product, it.Quantity)
			}
			return nil, total, &PersistenceError{Op: "decrement stock", Err: err}
		}
		line := LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  it.Quantity,
			UnitPrice: product.Price,
		}
		items = append(items, line)
		total = total.Add(line.Subtotal())
	}
	return items, total, nil
}

func insufficient(p *Product, requested int) *InsufficientStockError {
	return &InsufficientStockError{
		ProductID:   p.ID,
		ProductName: p.Name,
		Available:   p.Stock,
		Requested:   requested,
	}
}

// publish is best-effort: the order is already committed.
func (p *Placer) publish(ctx context.Context, o *Order) {
	if p.publisher == nil {
		return
	}
	env, err := newEnvelope(p.newID(), EventOrderPlaced, p.producer, TraceIDFrom(ctx), o.ID, p.now(), NewOrderPlacedPayload(o))
	if err == nil {
		err = p.publisher.Publish(ctx, env)
	}
	if err != nil {
		p.log.Error("publish order placed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (p *Placer) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := p.store.Orders().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		p.log.Error("find order", zap.String("order_id", id), zap.Error(err))
		return nil, &PersistenceError{Op: "find order", Err: err}
	}
	return o, nil
}

// ListUserOrders returns one page of a user's orders, newest first.
func (p *Placer) ListUserOrders(ctx context.Context, userID string, page, limit int) (*OrderPage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &InvalidInputError{Reason: "user id is required"}
	}
	page, limit = normalizePage(page, limit)
	list, total, err := p.store.Orders().ListByUser(ctx, userID, page, limit)
	if err != nil {
		p.log.Error("list orders", zap.String("user_id", userID), zap.Error(err))
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}
	if list == nil {
		list = []Order{}
	}
	return &OrderPage{
		Orders: list,
		Meta: PageMeta{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  totalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}, nil
}

func (p *Placer) ListProducts(ctx context.Context) ([]Product, error) {
	list, err := p.store.Products().List(ctx)
	if err != nil {
		p.log.Error("list products", zap.Error(err))
		return nil, &PersistenceError{Op: "list products", Err: err}
	}
	if list == nil {
		list = []Product{}
	}
	return list, nil
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = DefaultPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func totalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
