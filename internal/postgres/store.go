package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-cart-checkout/internal/orders"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store runs each unit in one Postgres transaction. Products read through
// FindForUpdate are row-locked (SELECT ... FOR UPDATE) until commit or
// rollback, so concurrent placements on the same product serialize.
type Store struct {
	db   DB
	psql sq.StatementBuilderType
}

func NewStore(db DB) *Store {
	return &Store{db: db, psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &unit{q: tx, psql: s.psql}); err != nil {
		return err // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Products() orders.ProductRepository { return productRepo{q: s.db, psql: s.psql} }
func (s *Store) Orders() orders.OrderRepository     { return orderRepo{q: s.db, psql: s.psql} }

type unit struct {
	q    pgx.Tx
	psql sq.StatementBuilderType
}

func (u *unit) Users() orders.UserRepository       { return userRepo{q: u.q} }
func (u *unit) Products() orders.ProductRepository { return productRepo{q: u.q, psql: u.psql} }
func (u *unit) Orders() orders.OrderRepository     { return orderRepo{q: u.q, psql: u.psql} }

// ---- users ----

type userRepo struct{ q querier }

func (r userRepo) FindByID(ctx context.Context, id string) (*orders.User, error) {
	u := orders.User{CartItems: []orders.CartItem{}}
	err := r.q.QueryRow(ctx, `SELECT id, name FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, `SELECT product_id, qty FROM cart_items WHERE user_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ci orders.CartItem
		if err := rows.Scan(&ci.ProductID, &ci.Quantity); err != nil {
			return nil, err
		}
		u.CartItems = append(u.CartItems, ci)
	}
	return &u, rows.Err()
}

func (r userRepo) ClearCart(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, id)
	return err
}

// ---- products ----

type productRepo struct {
	q    querier
	psql sq.StatementBuilderType
}

func scanProduct(row interface{ Scan(...any) error }) (orders.Product, error) {
	var (
		p     orders.Product
		cents int64
	)
	if err := row.Scan(&p.ID, &p.Name, &cents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Product{}, err
	}
	p.Price = orders.FromCents(cents)
	return p, nil
}

func (r productRepo) FindForUpdate(ctx context.Context, id string) (*orders.Product, error) {
	p, err := scanProduct(r.q.QueryRow(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM products WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r productRepo) DecrementStock(ctx context.Context, id string, qty int) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id=$1 AND stock >= $2`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrStockConflict
	}
	return nil
}

func (r productRepo) List(ctx context.Context) ([]orders.Product, error) {
	query, args, err := r.psql.
		Select("id", "name", "price_cents", "stock", "created_at", "updated_at").
		From("products").
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- orders ----

type orderRepo struct {
	q    querier
	psql sq.StatementBuilderType
}

var orderColumns = []string{
	"id", "user_id", "status", "total_cents",
	"street_address", "city", "province", "postal_code", "country",
	"order_date", "created_at", "updated_at",
}

func (r orderRepo) Create(ctx context.Context, o *orders.Order) error {
	if _, err := r.q.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents,
			street_address, city, province, postal_code, country,
			order_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.UserID, string(o.Status), orders.ToCents(o.TotalAmount),
		o.Address.StreetAddress, o.Address.City, o.Address.Province, o.Address.PostalCode, o.Address.Country,
		o.OrderDate, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if len(o.Items) == 0 {
		return nil
	}

	ins := r.psql.Insert("order_items").
		Columns("order_id", "line_no", "product_id", "product_name", "qty", "price_cents")
	for i, it := range o.Items {
		ins = ins.Values(o.ID, i+1, it.ProductID, it.Name, it.Quantity, orders.ToCents(it.UnitPrice))
	}
	query, args, err := ins.ToSql()
	if err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (orders.Order, error) {
	var (
		o      orders.Order
		status string
		cents  int64
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &cents,
		&o.Address.StreetAddress, &o.Address.City, &o.Address.Province, &o.Address.PostalCode, &o.Address.Country,
		&o.OrderDate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Status, err = orders.ParseStatus(status); err != nil {
		return orders.Order{}, err
	}
	o.TotalAmount = orders.FromCents(cents)
	o.Items = []orders.LineItem{}
	return o, nil
}

func (r orderRepo) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	query, args, err := r.psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	if its, ok := items[o.ID]; ok {
		o.Items = its
	}
	return &o, nil
}

func (r orderRepo) ListByUser(ctx context.Context, userID string, page, limit int) ([]orders.Order, int64, error) {
	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []orders.Order{}, 0, nil
	}

	query, args, err := r.psql.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out []orders.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if len(ids) == 0 {
		return []orders.Order{}, total, nil
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if its, ok := items[out[i].ID]; ok {
			out[i].Items = its
		}
	}
	return out, total, nil
}

func (r orderRepo) loadItems(ctx context.Context, orderIDs []string) (map[string][]orders.LineItem, error) {
	query, args, err := r.psql.
		Select("order_id", "product_id", "product_name", "qty", "price_cents").
		From("order_items").
		Where(sq.Eq{"order_id": orderIDs}).
		OrderBy("order_id", "line_no").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]orders.LineItem{}
	for rows.Next() {
		var (
			orderID string
			it      orders.LineItem
			cents   int64
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &cents); err != nil {
			return nil, err
		}
		it.UnitPrice = orders.FromCents(cents)
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
