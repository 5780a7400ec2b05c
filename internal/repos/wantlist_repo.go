package repos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"secondhand/internal/domain"
)

type WantListRepo struct{ db *sqlx.DB }

func NewWantListRepo(db *sqlx.DB) *WantListRepo { return &WantListRepo{db: db} }

const wantListCols = `id, buyer_id, status, cancelled_by, created_at, updated_at`

// Active returns the buyer's active want list; ok is false when there is none.
func (r *WantListRepo) Active(ctx context.Context, q Querier, buyerID string) (wl domain.WantList, ok bool, err error) {
	var rows []domain.WantList
	if err := q.SelectContext(ctx, &rows, q.Rebind(`
	  SELECT `+wantListCols+` FROM want_lists WHERE buyer_id = ? AND status = 'active'
	`), buyerID); err != nil {
		return domain.WantList{}, false, Classify(err)
	}
	if len(rows) == 0 {
		return domain.WantList{}, false, nil
	}
	return rows[0], true, nil
}

// Create inserts a new want list. A concurrent insert of another active list
// for the same buyer trips the partial unique index and is reported as busy,
// so the coordinator retries and picks up the winner's list.
func (r *WantListRepo) Create(ctx context.Context, q Querier, wl domain.WantList) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
	  INSERT INTO want_lists(id, buyer_id, status, created_at, updated_at)
	  VALUES(?, ?, ?, ?, ?)
	`), wl.ID, wl.BuyerID, wl.Status, wl.CreatedAt, wl.UpdatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: concurrent want list creation: %v", domain.ErrBusy, err)
	}
	return Classify(err)
}

func (r *WantListRepo) Get(ctx context.Context, q Querier, id string) (domain.WantList, error) {
	var wl domain.WantList
	err := q.GetContext(ctx, &wl, q.Rebind(`SELECT `+wantListCols+` FROM want_lists WHERE id = ?`), id)
	return wl, notFound(err)
}

func (r *WantListRepo) Lock(ctx context.Context, q Querier, id string) (domain.WantList, error) {
	var wl domain.WantList
	err := q.GetContext(ctx, &wl, q.Rebind(`SELECT `+wantListCols+` FROM want_lists WHERE id = ?`+forUpdate(q)), id)
	return wl, notFound(Classify(err))
}

func (r *WantListRepo) SetStatus(ctx context.Context, q Querier, id string, from, to domain.WantListStatus) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
	  UPDATE want_lists SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`), to, Now(), id, from)
	if err != nil {
		return Classify(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("want list %s: status is no longer %s: %w", id, from, domain.ErrWantListClosed)
	}
	return nil
}

func (r *WantListRepo) SetCancelledBy(ctx context.Context, q Querier, id, actorID string) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE want_lists SET cancelled_by = ? WHERE id = ?`), actorID, id)
	return Classify(err)
}

func (r *WantListRepo) Touch(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE want_lists SET updated_at = ? WHERE id = ?`), Now(), id)
	return Classify(err)
}

const itemCols = `id, want_list_id, product_id, added_at`

func (r *WantListRepo) Items(ctx context.Context, q Querier, wantListID string) ([]domain.WantListItem, error) {
	out := []domain.WantListItem{}
	err := q.SelectContext(ctx, &out, q.Rebind(`
	  SELECT `+itemCols+` FROM want_list_items WHERE want_list_id = ? ORDER BY added_at, id
	`), wantListID)
	return out, err
}

func (r *WantListRepo) ItemByProduct(ctx context.Context, q Querier, wantListID, productID string) (domain.WantListItem, error) {
	var it domain.WantListItem
	err := q.GetContext(ctx, &it, q.Rebind(`
	  SELECT `+itemCols+` FROM want_list_items WHERE want_list_id = ? AND product_id = ?
	`), wantListID, productID)
	return it, notFound(err)
}

func (r *WantListRepo) ItemByID(ctx context.Context, q Querier, wantListID, itemID string) (domain.WantListItem, error) {
	var it domain.WantListItem
	err := q.GetContext(ctx, &it, q.Rebind(`
	  SELECT `+itemCols+` FROM want_list_items WHERE want_list_id = ? AND id = ?
	`), wantListID, itemID)
	return it, notFound(err)
}

func (r *WantListRepo) InsertItem(ctx context.Context, q Querier, it domain.WantListItem) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
	  INSERT INTO want_list_items(id, want_list_id, product_id, added_at) VALUES(?, ?, ?, ?)
	`), it.ID, it.WantListID, it.ProductID, it.AddedAt)
	if IsUniqueViolation(err) {
		return domain.ErrDuplicateItem
	}
	return Classify(err)
}

func (r *WantListRepo) DeleteItem(ctx context.Context, q Querier, itemID string) error {
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM want_list_items WHERE id = ?`), itemID)
	return Classify(err)
}

func (r *WantListRepo) DeleteItems(ctx context.Context, q Querier, wantListID string) error {
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM want_list_items WHERE want_list_id = ?`), wantListID)
	return Classify(err)
}

// Holder pairs an active want-list item with the buyer who owns the list.
type Holder struct {
	domain.WantListItem
	BuyerID string `db:"buyer_id"`
}

// ActiveHolders lists the active want-list items that reference productID.
func (r *WantListRepo) ActiveHolders(ctx context.Context, q Querier, productID string) ([]Holder, error) {
	var out []Holder
	err := q.SelectContext(ctx, &out, q.Rebind(`
	  SELECT i.id, i.want_list_id, i.product_id, i.added_at, w.buyer_id
	  FROM want_list_items i
	  JOIN want_lists w ON w.id = i.want_list_id
	  WHERE i.product_id = ? AND w.status = 'active'
	  ORDER BY i.added_at, i.id
	`), productID)
	return out, err
}

// CountSellerItems counts the items of a want list whose product sellerID owns.
func (r *WantListRepo) CountSellerItems(ctx context.Context, q Querier, wantListID, sellerID string) (int, error) {
	var n int
	err := q.GetContext(ctx, &n, q.Rebind(`
	  SELECT COUNT(*) FROM want_list_items i
	  JOIN products p ON p.id = i.product_id
	  WHERE i.want_list_id = ? AND p.seller_id = ?
	`), wantListID, sellerID)
	return n, err
}

// CountSellerSales counts the sales lines of a completed want list sold by sellerID.
func (r *WantListRepo) CountSellerSales(ctx context.Context, q Querier, wantListID, sellerID string) (int, error) {
	var n int
	err := q.GetContext(ctx, &n, q.Rebind(`
	  SELECT COUNT(*) FROM sales_record_lines l
	  JOIN sales_records s ON s.id = l.sales_record_id
	  WHERE s.want_list_id = ? AND l.seller_id = ?
	`), wantListID, sellerID)
	return n, err
}

// EmptyActive returns ids of active want lists that hold no items.
func (r *WantListRepo) EmptyActive(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
	  SELECT w.id FROM want_lists w
	  WHERE w.status = 'active'
	    AND NOT EXISTS (SELECT 1 FROM want_list_items i WHERE i.want_list_id = w.id)
	  ORDER BY w.updated_at
	  LIMIT ?
	`), limit)
	return ids, err
}

// Dangling returns active items whose product has been sold to someone else.
// Completing a want list discards the sold product's queue, leaving these behind.
func (r *WantListRepo) Dangling(ctx context.Context, limit int) ([]Holder, error) {
	var out []Holder
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
	  SELECT i.id, i.want_list_id, i.product_id, i.added_at, w.buyer_id
	  FROM want_list_items i
	  JOIN want_lists w ON w.id = i.want_list_id
	  JOIN products p ON p.id = i.product_id
	  WHERE w.status = 'active' AND p.status = 'sold'
	    AND NOT EXISTS (
	      SELECT 1 FROM interest_queue_entries e
	      WHERE e.product_id = i.product_id AND e.buyer_id = w.buyer_id)
	  ORDER BY i.added_at
	  LIMIT ?
	`), limit)
	return out, err
}
