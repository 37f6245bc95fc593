package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"quantity"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CartItems []CartItem `json:"cartItems"`
}

// Address is passed through as given; no field is required.
type Address struct {
	StreetAddress string `json:"streetAddress,omitempty"`
	City          string `json:"city,omitempty"`
	Province      string `json:"province,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
}

// LineItem is a snapshot of one purchased product. UnitPrice is the price
// read while the order was placed and is never re-read afterwards.
type LineItem struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user"`
	Items       []LineItem      `json:"products"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Address     Address         `json:"address"`
	Status      Status          `json:"status"`
	OrderDate   time.Time       `json:"orderDate"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// SumItems returns the sum of quantity * unit price over all line items.
func SumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Clone returns a deep copy so stored orders cannot be mutated through
// a returned value.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]LineItem(nil), o.Items...)
	return out
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	UserID  string
	Items   []ItemInput
	Address Address
}

type PageMeta struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type OrderPage struct {
	Orders []Order  `json:"orders"`
	Meta   PageMeta `json:"meta"`
}
