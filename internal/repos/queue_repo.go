package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"secondhand/internal/domain"
)

type QueueRepo struct{ db *sqlx.DB }

func NewQueueRepo(db *sqlx.DB) *QueueRepo { return &QueueRepo{db: db} }

// LockEntries returns the product's queue ordered by position, locking every
// row. Callers must already hold the product row lock.
func (r *QueueRepo) LockEntries(ctx context.Context, q Querier, productID string) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	err := q.SelectContext(ctx, &out, q.Rebind(`
	  SELECT product_id, buyer_id, position, created_at
	  FROM interest_queue_entries
	  WHERE product_id = ?
	  ORDER BY position ASC`+forUpdate(q)), productID)
	return out, Classify(err)
}

func (r *QueueRepo) Insert(ctx context.Context, q Querier, e domain.QueueEntry) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
	  INSERT INTO interest_queue_entries(product_id, buyer_id, position, created_at)
	  VALUES(?, ?, ?, ?)
	`), e.ProductID, e.BuyerID, e.Position, e.CreatedAt)
	return Classify(err)
}

func (r *QueueRepo) Delete(ctx context.Context, q Querier, productID, buyerID string) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM interest_queue_entries WHERE product_id = ? AND buyer_id = ?`), productID, buyerID)
	if err != nil {
		return false, Classify(err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ShiftDown closes the gap left at position `after` by moving every later
// entry up one place. It goes through negative positions so the
// (product_id, position) unique constraint holds after every row update.
func (r *QueueRepo) ShiftDown(ctx context.Context, q Querier, productID string, after int) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`
	  UPDATE interest_queue_entries SET position = -(position - 1)
	  WHERE product_id = ? AND position > ?
	`), productID, after); err != nil {
		return Classify(err)
	}
	_, err := q.ExecContext(ctx, q.Rebind(`
	  UPDATE interest_queue_entries SET position = -position
	  WHERE product_id = ? AND position < 0
	`), productID)
	return Classify(err)
}

func (r *QueueRepo) DeleteAll(ctx context.Context, q Querier, productID string) error {
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM interest_queue_entries WHERE product_id = ?`), productID)
	return Classify(err)
}

// Position returns 0 when the buyer is not queued.
func (r *QueueRepo) Position(ctx context.Context, q Querier, productID, buyerID string) (int, error) {
	var pos int
	err := q.GetContext(ctx, &pos, q.Rebind(`
	  SELECT position FROM interest_queue_entries WHERE product_id = ? AND buyer_id = ?
	`), productID, buyerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

func (r *QueueRepo) Size(ctx context.Context, q Querier, productID string) (int, error) {
	var n int
	err := q.GetContext(ctx, &n, q.Rebind(`SELECT COUNT(*) FROM interest_queue_entries WHERE product_id = ?`), productID)
	return n, err
}

func (r *QueueRepo) PositionsForBuyer(ctx context.Context, q Querier, buyerID string) ([]domain.QueuePosition, error) {
	out := []domain.QueuePosition{}
	err := q.SelectContext(ctx, &out, q.Rebind(`
	  SELECT e.product_id, e.position,
	         (SELECT COUNT(*) FROM interest_queue_entries x WHERE x.product_id = e.product_id) AS queue_size
	  FROM interest_queue_entries e
	  WHERE e.buyer_id = ?
	  ORDER BY e.created_at, e.product_id
	`), buyerID)
	return out, err
}

// Entries is the unlocked read used by tests and diagnostics.
func (r *QueueRepo) Entries(ctx context.Context, productID string) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
	  SELECT product_id, buyer_id, position, created_at
	  FROM interest_queue_entries WHERE product_id = ? ORDER BY position ASC
	`), productID)
	return out, err
}
