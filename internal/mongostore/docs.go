package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

// refMatch matches a reference stored either as an ObjectID or as the raw
// string, so collections written with ObjectIDs and string keys both work.
func refMatch(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$in": bson.A{oid, id}}
	}
	return id
}

func idFilter(id string) bson.M {
	return bson.M{"_id": refMatch(id)}
}

// refValue is the stored form of a reference: an ObjectID when the id is one.
func refValue(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// money is written as Decimal128 and read from any BSON number, since
// documents created by other writers keep prices as doubles or integers.
type money decimal.Decimal

func (m money) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d := decimal.Decimal(m)
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return 0, nil, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return bson.MarshalValue(out)
}

func (m *money) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Double:
		*m = money(decimal.NewFromFloat(rv.Double()))
	case bsontype.Int32:
		*m = money(decimal.NewFromInt32(rv.Int32()))
	case bsontype.Int64:
		*m = money(decimal.NewFromInt(rv.Int64()))
	case bsontype.Decimal128:
		d, err := decimal.NewFromString(rv.Decimal128().String())
		if err != nil {
			return fmt.Errorf("decode decimal %s: %w", rv.Decimal128(), err)
		}
		*m = money(d)
	case bsontype.Null, bsontype.Undefined:
		*m = money(decimal.Zero)
	default:
		return fmt.Errorf("decode money: unsupported bson type %s", t)
	}
	return nil
}

type productDoc struct {
	ID        interface{} `bson:"_id"`
	Name      string      `bson:"name"`
	Price     money       `bson:"price"`
	Quantity  int         `bson:"quantity"`
	CreatedAt time.Time   `bson:"createdAt,omitempty"`
	UpdatedAt time.Time   `bson:"updatedAt,omitempty"`
}

func (d productDoc) toProduct() orders.Product {
	return orders.Product{
		ID:        idString(d.ID),
		Name:      d.Name,
		Price:     decimal.Decimal(d.Price),
		Stock:     d.Quantity,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type cartItemDoc struct {
	ProductID interface{} `bson:"product"`
	Quantity  int         `bson:"quantity"`
}

type userDoc struct {
	ID        interface{}   `bson:"_id"`
	Name      string        `bson:"name"`
	CartItems []cartItemDoc `bson:"cartItems"`
}

func (d userDoc) toUser() orders.User {
	u := orders.User{ID: idString(d.ID), Name: d.Name, CartItems: make([]orders.CartItem, 0, len(d.CartItems))}
	for _, ci := range d.CartItems {
		u.CartItems = append(u.CartItems, orders.CartItem{ProductID: idString(ci.ProductID), Quantity: ci.Quantity})
	}
	return u
}

type addressDoc struct {
	StreetAddress string `bson:"streetAddress,omitempty"`
	City          string `bson:"city,omitempty"`
	Province      string `bson:"province,omitempty"`
	PostalCode    string `bson:"postalCode,omitempty"`
	Country       string `bson:"country,omitempty"`
}

type lineDoc struct {
	ProductID interface{} `bson:"product"`
	Name      string      `bson:"name,omitempty"`
	Quantity  int         `bson:"quantity"`
	Price     money       `bson:"price"`
}

// orderDoc mirrors the persisted order document:
// { user, products: [{product, quantity, price}], totalAmount, address,
//   status, orderDate, createdAt, updatedAt }
type orderDoc struct {
	ID          interface{} `bson:"_id"`
	User        interface{} `bson:"user"`
	Products    []lineDoc   `bson:"products"`
	TotalAmount money       `bson:"totalAmount"`
	Address     addressDoc  `bson:"address"`
	Status      string      `bson:"status"`
	OrderDate   time.Time   `bson:"orderDate"`
	CreatedAt   time.Time   `bson:"createdAt"`
	UpdatedAt   time.Time   `bson:"updatedAt"`
}

func newOrderDoc(o *orders.Order) orderDoc {
	lines := make([]lineDoc, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, lineDoc{
			ProductID: refValue(it.ProductID),
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     money(it.UnitPrice),
		})
	}
	return orderDoc{
		ID:          refValue(o.ID),
		User:        refValue(o.UserID),
		Products:    lines,
		TotalAmount: money(o.TotalAmount),
		Address:     addressDoc(o.Address),
		Status:      string(o.Status),
		OrderDate:   o.OrderDate,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (d orderDoc) toOrder() (orders.Order, error) {
	status, err := orders.ParseStatus(d.Status)
	if err != nil {
		return orders.Order{}, err
	}
	items := make([]orders.LineItem, 0, len(d.Products))
	for _, l := range d.Products {
		items = append(items, orders.LineItem{
			ProductID: idString(l.ProductID),
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: decimal.Decimal(l.Price),
		})
	}
	return orders.Order{
		ID:          idString(d.ID),
		UserID:      idString(d.User),
		Items:       items,
		TotalAmount: decimal.Decimal(d.TotalAmount),
		Address:     orders.Address(d.Address),
		Status:      status,
		OrderDate:   d.OrderDate,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}
