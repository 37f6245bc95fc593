package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-cart-checkout/internal/metrics"
	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrderService interface {
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (*orders.Order, error)
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	ListUserOrders(ctx context.Context, userID string, page, limit int) (*orders.OrderPage, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

// OrderCache is the Redis fast path. Every method may fail without
// affecting correctness; the store stays the source of truth.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Put(ctx context.Context, o *orders.Order) error
	LookupIdempotencyKey(ctx context.Context, key string) (string, error)
	RememberIdempotencyKey(ctx context.Context, key, orderID string) (bool, error)
}

type OrdersHandler struct {
	svc      OrderService
	cache    OrderCache
	metrics  *metrics.ServerMetrics
	log      *zap.Logger
	validate *validator.Validate
}

// NewOrdersHandler wires the order endpoints. cache and m may be nil.
func NewOrdersHandler(svc OrderService, cache OrderCache, m *metrics.ServerMetrics, log *zap.Logger) *OrdersHandler {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &OrdersHandler{svc: svc, cache: cache, metrics: m, log: log, validate: v}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/users/{id}/orders", h.listUserOrders)
		r.Get("/products", h.listProducts)
	})
}

type itemReq struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type addressReq struct {
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	Province      string `json:"province"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
}

type placeOrderReq struct {
	UserID   string     `json:"userId" validate:"required"`
	Products []itemReq  `json:"products" validate:"required,min=1,dive"`
	Address  addressReq `json:"address"`
}

func (r placeOrderReq) toDomain() orders.PlaceOrderRequest {
	items := make([]orders.ItemInput, 0, len(r.Products))
	for _, p := range r.Products {
		items = append(items, orders.ItemInput{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	return orders.PlaceOrderRequest{
		UserID:  r.UserID,
		Items:   items,
		Address: orders.Address(r.Address),
	}
}

type lineResp struct {
	Product  string      `json:"product"`
	Name     string      `json:"name,omitempty"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
}

// orderResp is the public order document.
type orderResp struct {
	ID          string         `json:"_id"`
	User        string         `json:"user"`
	Products    []lineResp     `json:"products"`
	TotalAmount json.Number    `json:"totalAmount"`
	Address     orders.Address `json:"address"`
	Status      orders.Status  `json:"status"`
	OrderDate   time.Time      `json:"orderDate"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func newOrderResp(o *orders.Order) orderResp {
	lines := make([]lineResp, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, lineResp{
			Product:  it.ProductID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    json.Number(it.UnitPrice.StringFixed(2)),
		})
	}
	return orderResp{
		ID:          o.ID,
		User:        o.UserID,
		Products:    lines,
		TotalAmount: json.Number(o.TotalAmount.StringFixed(2)),
		Address:     o.Address,
		Status:      o.Status,
		OrderDate:   o.OrderDate,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

type productResp struct {
	ID       string      `json:"_id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type pageResp struct {
	Orders []orderResp     `json:"orders"`
	Meta   orders.PageMeta `json:"meta"`
}

type errorResp struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		inv *orders.InvalidInputError
		pnf *orders.ProductNotFoundError
		ins *orders.InsufficientStockError
	)
	switch {
	case errors.As(err, &inv):
		writeJSON(w, http.StatusBadRequest, errorResp{Message: err.Error()})
	case errors.As(err, &pnf):
		writeJSON(w, http.StatusBadRequest, errorResp{Message: fmt.Sprintf("Product with ID %s not found", pnf.ProductID)})
	case errors.As(err, &ins):
		writeJSON(w, http.StatusBadRequest, errorResp{Message: fmt.Sprintf("Not enough stock for product %s", ins.ProductName)})
	case errors.Is(err, orders.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Message: "User not found"})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Message: "Order not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp{Message: "Server error", Error: err.Error()})
	}
}

func (h *OrdersHandler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.OrdersPlaced.WithLabelValues(outcome).Inc()
	}
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.count(metrics.OutcomeRejected)
		writeJSON(w, http.StatusBadRequest, errorResp{Message: "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.count(metrics.OutcomeRejected)
		writeJSON(w, http.StatusBadRequest, errorResp{Message: validationMessage(err)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = orders.WithTraceID(ctx, middleware.GetReqID(r.Context()))

	idemKey := idempotencyKey(req.UserID, r.Header.Get(HeaderIdempotencyKey))
	if o := h.replay(ctx, idemKey, req.UserID); o != nil {
		h.count(metrics.OutcomeReplayed)
		writeJSON(w, http.StatusOK, newOrderResp(o))
		return
	}

	o, err := h.svc.PlaceOrder(ctx, req.toDomain())
	if err != nil {
		if orders.IsRejection(err) {
			h.count(metrics.OutcomeRejected)
		} else {
			h.count(metrics.OutcomeFailed)
		}
		writeError(w, err)
		return
	}
	h.count(metrics.OutcomePlaced)

	if h.cache != nil {
		if idemKey != "" {
			if _, err := h.cache.RememberIdempotencyKey(ctx, idemKey, o.ID); err != nil {
				h.log.Warn("store idempotency key", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
		if err := h.cache.Put(ctx, o); err != nil {
			h.log.Warn("cache order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, newOrderResp(o))
}

// idempotencyKey scopes a client key to the user placing the order.
func idempotencyKey(userID, header string) string {
	key := strings.TrimSpace(header)
	if key == "" {
		return ""
	}
	return userID + ":" + key
}

// replay returns the order userID already placed under key, or nil.
func (h *OrdersHandler) replay(ctx context.Context, key, userID string) *orders.Order {
	if key == "" || h.cache == nil {
		return nil
	}
	id, err := h.cache.LookupIdempotencyKey(ctx, key)
	if err != nil {
		h.log.Warn("lookup idempotency key", zap.Error(err))
		return nil
	}
	if id == "" {
		return nil
	}
	o, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		h.log.Warn("replay order", zap.String("order_id", id), zap.Error(err))
		return nil
	}
	if o.UserID != userID {
		h.log.Warn("idempotency key bound to another user", zap.String("order_id", id))
		return nil
	}
	return o
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.cache != nil {
		if o, err := h.cache.Get(ctx, id); err == nil && o != nil {
			writeJSON(w, http.StatusOK, newOrderResp(o))
			return
		} else if err != nil {
			h.log.Warn("order cache read", zap.String("order_id", id), zap.Error(err))
		}
	}

	o, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.cache != nil {
		_ = h.cache.Put(ctx, o)
	}
	writeJSON(w, http.StatusOK, newOrderResp(o))
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Message: err.Error()})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.svc.ListUserOrders(ctx, chi.URLParam(r, "id"), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := pageResp{Orders: make([]orderResp, 0, len(res.Orders)), Meta: res.Meta}
	for i := range res.Orders {
		out.Orders = append(out.Orders, newOrderResp(&res.Orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.svc.ListProducts(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]productResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, productResp{ID: p.ID, Name: p.Name, Price: json.Number(p.Price.StringFixed(2)), Quantity: p.Stock})
	}
	writeJSON(w, http.StatusOK, out)
}

// queryInt returns 0 when the parameter is absent so the service default applies.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	field := strings.TrimPrefix(fe.Namespace(), "placeOrderReq.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return "at least one product is required"
	case "gt":
		return field + " must be positive"
	}
	return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
}
