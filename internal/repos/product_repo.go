package repos

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"

	"secondhand/internal/domain"
)

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

const productCols = `id, seller_id, title, description, price_cents, status, created_at, updated_at, deleted_at`

func (r *ProductRepo) Create(ctx context.Context, q Querier, p domain.Product) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
	  INSERT INTO products(id, seller_id, title, description, price_cents, status, created_at, updated_at)
	  VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.SellerID, p.Title, p.Description, p.PriceCents, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *ProductRepo) Get(ctx context.Context, q Querier, id string) (domain.Product, error) {
	var p domain.Product
	err := q.GetContext(ctx, &p, q.Rebind(`SELECT `+productCols+` FROM products WHERE id = ?`), id)
	return p, notFound(err)
}

// Lock reads the product row under an exclusive row lock.
func (r *ProductRepo) Lock(ctx context.Context, q Querier, id string) (domain.Product, error) {
	var p domain.Product
	err := q.GetContext(ctx, &p, q.Rebind(`SELECT `+productCols+` FROM products WHERE id = ?`+forUpdate(q)), id)
	return p, notFound(Classify(err))
}

// LockMany locks products in ascending id order so two multi-product
// transactions can never wait on each other in a cycle.
func (r *ProductRepo) LockMany(ctx context.Context, q Querier, ids []string) (map[string]domain.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := make(map[string]domain.Product, len(sorted))
	for _, id := range sorted {
		if _, seen := out[id]; seen {
			continue
		}
		p, err := r.Lock(ctx, q, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Transition moves a product from expected to next. It fails with a
// *domain.ConflictError, mutating nothing, when the move is not allowed or the
// stored status is no longer expected.
func (r *ProductRepo) Transition(ctx context.Context, q Querier, id string, expected, next domain.ProductStatus) error {
	if !expected.CanTransition(next) {
		return &domain.ConflictError{ProductID: id, Expected: expected, Actual: expected, Next: next}
	}
	res, err := q.ExecContext(ctx, q.Rebind(`
	  UPDATE products SET status = ?, updated_at = ?
	  WHERE id = ? AND status = ? AND deleted_at = ''
	`), next, Now(), id, expected)
	if err != nil {
		return Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	cur, err := r.Get(ctx, q, id)
	if err != nil {
		return err
	}
	return &domain.ConflictError{ProductID: id, Expected: expected, Actual: cur.Status, Next: next}
}

func (r *ProductRepo) SoftDelete(ctx context.Context, q Querier, id string) error {
	now := Now()
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE products SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at = ''`), now, now, id)
	return Classify(err)
}

func (r *ProductRepo) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	var out []domain.Product
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
	  SELECT `+productCols+` FROM products
	  WHERE seller_id = ? AND deleted_at = ''
	  ORDER BY created_at DESC
	`), sellerID)
	return out, err
}
