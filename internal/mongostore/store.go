// Package mongostore implements orders.Store on MongoDB. Units run inside a
// multi-document transaction (replica set or sharded cluster required).
// Stock writes are conditional ($gte guard on the decrement), and a
// concurrent transaction touching the same product document aborts with a
// write conflict that WithTransaction retries.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

const (
	collProducts = "products"
	collUsers    = "users"
	collOrders   = "orders"
)

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewStore(client *mongo.Client, dbName string) *Store {
	return &Store{client: client, db: client.Database(dbName)}
}

// EnsureIndexes creates the index used by order listing.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collOrders).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, repos{db: s.db})
	})
	return err
}

func (s *Store) Products() orders.ProductRepository { return productRepo{c: s.db.Collection(collProducts)} }
func (s *Store) Orders() orders.OrderRepository     { return orderRepo{c: s.db.Collection(collOrders)} }

type repos struct{ db *mongo.Database }

func (r repos) Users() orders.UserRepository       { return userRepo{c: r.db.Collection(collUsers)} }
func (r repos) Products() orders.ProductRepository { return productRepo{c: r.db.Collection(collProducts)} }
func (r repos) Orders() orders.OrderRepository     { return orderRepo{c: r.db.Collection(collOrders)} }

// ---- users ----

type userRepo struct{ c *mongo.Collection }

func (r userRepo) FindByID(ctx context.Context, id string) (*orders.User, error) {
	var doc userDoc
	if err := r.c.FindOne(ctx, idFilter(id)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, orders.ErrNotFound
		}
		return nil, err
	}
	u := doc.toUser()
	return &u, nil
}

func (r userRepo) ClearCart(ctx context.Context, id string) error {
	res, err := r.c.UpdateOne(ctx, idFilter(id), bson.M{
		"$set": bson.M{"cartItems": bson.A{}, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return orders.ErrNotFound
	}
	return nil
}

// ---- products ----

type productRepo struct{ c *mongo.Collection }

func (r productRepo) FindForUpdate(ctx context.Context, id string) (*orders.Product, error) {
	var doc productDoc
	if err := r.c.FindOne(ctx, idFilter(id)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, orders.ErrNotFound
		}
		return nil, err
	}
	p := doc.toProduct()
	return &p, nil
}

func (r productRepo) DecrementStock(ctx context.Context, id string, qty int) error {
	filter := idFilter(id)
	filter["quantity"] = bson.M{"$gte": qty}
	res, err := r.c.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"quantity": -qty},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return orders.ErrStockConflict
	}
	return nil
}

func (r productRepo) List(ctx context.Context) ([]orders.Product, error) {
	cur, err := r.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []orders.Product
	for cur.Next(ctx) {
		var doc productDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toProduct())
	}
	return out, cur.Err()
}

// ---- orders ----

type orderRepo struct{ c *mongo.Collection }

func (r orderRepo) Create(ctx context.Context, o *orders.Order) error {
	_, err := r.c.InsertOne(ctx, newOrderDoc(o))
	return err
}

func (r orderRepo) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	var doc orderDoc
	if err := r.c.FindOne(ctx, idFilter(id)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, orders.ErrNotFound
		}
		return nil, err
	}
	o, err := doc.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r orderRepo) ListByUser(ctx context.Context, userID string, page, limit int) ([]orders.Order, int64, error) {
	filter := bson.M{"user": refMatch(userID)}
	total, err := r.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []orders.Order{}, 0, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := r.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	out := []orders.Order{}
	for cur.Next(ctx) {
		var doc orderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		o, err := doc.toOrder()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, cur.Err()
}
