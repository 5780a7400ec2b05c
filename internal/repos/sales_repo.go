package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"secondhand/internal/domain"
)

type SalesRepo struct{ db *sqlx.DB }

func NewSalesRepo(db *sqlx.DB) *SalesRepo { return &SalesRepo{db: db} }

func (r *SalesRepo) DB() *sqlx.DB { return r.db }

// Insert writes the record and its lines. There is no update or delete path.
func (r *SalesRepo) Insert(ctx context.Context, q Querier, rec domain.SalesRecord) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`
	  INSERT INTO sales_records(id, seller_id, buyer_id, want_list_id, total_cents, item_count, completed_at)
	  VALUES(?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.SellerID, rec.BuyerID, rec.WantListID, rec.TotalCents, rec.ItemCount, rec.CompletedAt); err != nil {
		return Classify(err)
	}
	for _, l := range rec.Lines {
		if _, err := q.ExecContext(ctx, q.Rebind(`
		  INSERT INTO sales_record_lines(sales_record_id, product_id, seller_id, price_cents)
		  VALUES(?, ?, ?, ?)
		`), rec.ID, l.ProductID, l.SellerID, l.PriceCents); err != nil {
			return Classify(err)
		}
	}
	return nil
}

func (r *SalesRepo) ByWantList(ctx context.Context, wantListID string) (domain.SalesRecord, error) {
	var rec domain.SalesRecord
	if err := r.db.GetContext(ctx, &rec, r.db.Rebind(`
	  SELECT id, seller_id, buyer_id, want_list_id, total_cents, item_count, completed_at
	  FROM sales_records WHERE want_list_id = ?
	`), wantListID); err != nil {
		return domain.SalesRecord{}, notFound(err)
	}
	if err := r.db.SelectContext(ctx, &rec.Lines, r.db.Rebind(`
	  SELECT sales_record_id, product_id, seller_id, price_cents
	  FROM sales_record_lines WHERE sales_record_id = ? ORDER BY product_id
	`), rec.ID); err != nil {
		return domain.SalesRecord{}, err
	}
	return rec, nil
}

func (r *SalesRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sales_records`)
	return n, err
}

// ---------- Outbox ----------

const (
	OutboxPending    = "pending"
	OutboxInProgress = "in_progress"
	OutboxSent       = "sent"
	OutboxFailed     = "failed"
)

type OutboxRow struct {
	ID          string `db:"id" json:"id"`
	AggregateID string `db:"aggregate_id" json:"aggregateId"`
	Type        string `db:"type" json:"type"`
	Payload     string `db:"payload" json:"payload"`
	Traceparent string `db:"traceparent" json:"traceparent,omitempty"`
	Status      string `db:"status" json:"status"`
	RetryCount  int    `db:"retry_count" json:"retryCount"`
	LastError   string `db:"last_error" json:"lastError,omitempty"`
	CreatedAt   string `db:"created_at" json:"createdAt"`
}

func (r *SalesRepo) Enqueue(ctx context.Context, q Querier, row OutboxRow) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
	  INSERT INTO sales_outbox(id, aggregate_id, type, payload, traceparent, status, created_at)
	  VALUES(?, ?, ?, ?, ?, 'pending', ?)
	`), row.ID, row.AggregateID, row.Type, row.Payload, row.Traceparent, row.CreatedAt)
	return Classify(err)
}

// LockBatch leases up to batchSize deliverable rows to relayID. Rows whose
// lease expired (a relay died mid-batch) become deliverable again, as do
// failed rows under maxRetries.
func (r *SalesRepo) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration, maxRetries int) ([]OutboxRow, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := Now()
	until := time.Now().UTC().Add(lease).Format(TimeLayout)
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
	  UPDATE sales_outbox SET status = 'in_progress', relay_id = ?, lease_until = ?
	  WHERE id IN (
	    SELECT id FROM sales_outbox
	    WHERE status = 'pending'
	       OR (status = 'failed' AND retry_count < ?)
	       OR (status = 'in_progress' AND lease_until < ?)
	    ORDER BY created_at, id
	    LIMIT ?)
	`), relayID, until, maxRetries, now, batchSize); err != nil {
		return nil, Classify(err)
	}
	var rows []OutboxRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(`
	  SELECT id, aggregate_id, type, payload, traceparent, status, retry_count, last_error, created_at
	  FROM sales_outbox
	  WHERE status = 'in_progress' AND relay_id = ? AND lease_until = ?
	  ORDER BY created_at, id
	`), relayID, until); err != nil {
		return nil, err
	}
	return rows, tx.Commit()
}

func (r *SalesRepo) MarkSent(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE sales_outbox SET status = 'sent', lease_until = '' WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return Classify(err)
}

func (r *SalesRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE sales_outbox
	  SET status = 'failed', retry_count = retry_count + 1, last_error = ?, lease_until = ''
	  WHERE id = ?
	`), errMsg, id)
	return Classify(err)
}

func (r *SalesRepo) OutboxByStatus(ctx context.Context, status string) ([]OutboxRow, error) {
	var rows []OutboxRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
	  SELECT id, aggregate_id, type, payload, traceparent, status, retry_count, last_error, created_at
	  FROM sales_outbox WHERE status = ? ORDER BY created_at, id
	`), status)
	return rows, err
}
