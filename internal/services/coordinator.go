package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"secondhand/internal/domain"
	applog "secondhand/internal/log"
	"secondhand/internal/metrics"
	"secondhand/internal/repos"
)

type CoordinatorConfig struct {
	LockTimeout    time.Duration
	BusyRetries    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SweepBatch     int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 2 * time.Second
	}
	if c.BusyRetries < 0 {
		c.BusyRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 20 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 500 * time.Millisecond
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	return c
}

// Coordinator is the only entry point that mutates reservation state. Each verb
// runs in one transaction spanning product status, queue and want list, and
// only lock contention is retried.
type Coordinator struct {
	db     *sqlx.DB
	cfg    CoordinatorConfig
	tracer trace.Tracer

	Products *repos.ProductRepo
	Queue    *InterestQueue
	Lists    *WantLists
}

func NewCoordinator(db *sqlx.DB, lists *WantLists, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		db:       db,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("secondhand/reservations"),
		Products: lists.Products,
		Queue:    lists.Queue,
		Lists:    lists,
	}
}

// JoinQueue adds productID to the buyer's want list and queues the buyer.
func (c *Coordinator) JoinQueue(ctx context.Context, buyerID, productID string) (JoinResult, error) {
	if err := requireIDs(buyerID, productID); err != nil {
		return JoinResult{}, err
	}
	var res JoinResult
	var item domain.WantListItem
	err := c.run(ctx, "join", func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		item, res, err = c.Lists.AddItem(ctx, tx, buyerID, productID)
		return err
	}, attribute.String("buyer.id", buyerID), attribute.String("product.id", productID))
	if err == nil {
		applog.Audit(nil, "queue.join", map[string]any{
			"buyer": buyerID, "product": productID, "item": item.ID, "position": res.Position, "queue_size": res.QueueSize,
		})
	}
	return res, err
}

// LeaveQueue removes the item named by ref from the buyer's active want list
// and promotes the buyers behind them.
func (c *Coordinator) LeaveQueue(ctx context.Context, buyerID string, ref ItemRef) error {
	if err := requireIDs(buyerID); err != nil {
		return err
	}
	if ref.ItemID == "" && ref.ProductID == "" {
		return domain.ErrInvalidInput
	}
	var item domain.WantListItem
	err := c.run(ctx, "leave", func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		item, err = c.Lists.RemoveItem(ctx, tx, buyerID, ref)
		return err
	}, attribute.String("buyer.id", buyerID), attribute.String("product.id", ref.ProductID), attribute.String("item.id", ref.ItemID))
	if err == nil {
		applog.Audit(nil, "queue.leave", map[string]any{"buyer": buyerID, "product": item.ProductID, "item": item.ID})
	}
	return err
}

// CompleteWantList sells every item of the list to its buyer.
func (c *Coordinator) CompleteWantList(ctx context.Context, buyerID, wantListID string) (domain.SalesRecord, error) {
	if err := requireIDs(buyerID, wantListID); err != nil {
		return domain.SalesRecord{}, err
	}
	var rec domain.SalesRecord
	err := c.run(ctx, "complete", func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		rec, err = c.Lists.Complete(ctx, tx, buyerID, wantListID)
		return err
	}, attribute.String("buyer.id", buyerID), attribute.String("want_list.id", wantListID))
	if err == nil {
		applog.Audit(nil, "wantlist.complete", map[string]any{
			"buyer": buyerID, "want_list": wantListID, "sales_record": rec.ID, "items": rec.ItemCount, "total_cents": rec.TotalCents,
		})
	}
	return rec, err
}

// CancelWantList lets a seller cancel a buyer's want list. The seller must own
// at least one item's product. Cancelling twice is a no-op.
func (c *Coordinator) CancelWantList(ctx context.Context, sellerID, wantListID string) error {
	if err := requireIDs(sellerID, wantListID); err != nil {
		return err
	}
	return c.cancel(ctx, sellerID, wantListID, false)
}

// AdminCancelWantList cancels any want list regardless of product ownership.
func (c *Coordinator) AdminCancelWantList(ctx context.Context, adminID, wantListID string) error {
	if err := requireIDs(adminID, wantListID); err != nil {
		return err
	}
	return c.cancel(ctx, adminID, wantListID, true)
}

func (c *Coordinator) cancel(ctx context.Context, actorID, wantListID string, admin bool) error {
	changed := false
	err := c.run(ctx, "cancel", func(ctx context.Context, tx *sqlx.Tx) error {
		wl, err := c.Lists.Lists.Lock(ctx, tx, wantListID)
		if err != nil {
			return err
		}
		if !admin {
			if err := c.authorizeCancel(ctx, tx, wl, actorID); err != nil {
				return err
			}
		}
		changed, err = c.Lists.Cancel(ctx, tx, wantListID, actorID)
		return err
	}, attribute.String("actor.id", actorID), attribute.String("want_list.id", wantListID))
	if err == nil && changed {
		applog.Audit(nil, "wantlist.cancel", map[string]any{"actor": actorID, "want_list": wantListID, "admin": admin})
	}
	return err
}

// authorizeCancel lets a seller act on a list only while it holds, or sold, one
// of their products. A cancelled list holds nothing, so only whoever cancelled
// it may repeat the cancel.
func (c *Coordinator) authorizeCancel(ctx context.Context, q repos.Querier, wl domain.WantList, sellerID string) error {
	var n int
	var err error
	switch wl.Status {
	case domain.WantListActive:
		n, err = c.Lists.Lists.CountSellerItems(ctx, q, wl.ID, sellerID)
	case domain.WantListCompleted:
		n, err = c.Lists.Lists.CountSellerSales(ctx, q, wl.ID, sellerID)
	case domain.WantListCancelled:
		if wl.CancelledBy == sellerID {
			n = 1
		}
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrForbidden
	}
	return nil
}

// GetPosition returns the buyer's 1-based place in the product's queue, or nil
// when not queued, plus the queue length. It reads outside any transaction.
func (c *Coordinator) GetPosition(ctx context.Context, buyerID, productID string) (*int, int, error) {
	if err := requireIDs(buyerID, productID); err != nil {
		return nil, 0, err
	}
	if _, err := c.Products.Get(ctx, c.db, productID); err != nil {
		return nil, 0, err
	}
	pos, err := c.Queue.PositionOf(ctx, c.db, productID, buyerID)
	if err != nil {
		return nil, 0, err
	}
	size, err := c.Queue.Size(ctx, c.db, productID)
	if err != nil {
		return nil, 0, err
	}
	if pos == 0 {
		return nil, size, nil
	}
	return &pos, size, nil
}

func (c *Coordinator) GetAllPositions(ctx context.Context, buyerID string) ([]domain.QueuePosition, error) {
	if err := requireIDs(buyerID); err != nil {
		return nil, err
	}
	return c.Queue.Entries.PositionsForBuyer(ctx, c.db, buyerID)
}

// ActiveWantList is a display read; a buyer without an active list gets ErrNotFound.
func (c *Coordinator) ActiveWantList(ctx context.Context, buyerID string) (domain.WantList, []domain.WantListItem, error) {
	if err := requireIDs(buyerID); err != nil {
		return domain.WantList{}, nil, err
	}
	wl, ok, err := c.Lists.Lists.Active(ctx, c.db, buyerID)
	if err != nil {
		return domain.WantList{}, nil, err
	}
	if !ok {
		return domain.WantList{}, nil, domain.ErrNotFound
	}
	items, err := c.Lists.Lists.Items(ctx, c.db, wl.ID)
	return wl, items, err
}

// run executes fn in a transaction, retrying with exponential backoff only
// while it fails with domain.ErrBusy.
func (c *Coordinator) run(ctx context.Context, op string, fn func(context.Context, *sqlx.Tx) error, attrs ...attribute.KeyValue) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "reservation."+op, trace.WithAttributes(attrs...))
	defer span.End()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.BusyRetries)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := c.inTx(ctx, fn)
		if err == nil || errors.Is(err, domain.ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		metrics.BusyRetriesTotal.WithLabelValues(op).Inc()
		applog.Warn(nil, "reservation.busy.retry", err, map[string]any{"op": op, "attempt": attempt, "wait_ms": wait.Milliseconds()})
	})

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// The caller went away while a busy attempt waited for its retry.
		err = fmt.Errorf("%w: %v", domain.ErrBusy, err)
	}

	outcome := "ok"
	if err != nil {
		kind := domain.KindOf(err)
		outcome = kind.String()
		span.SetStatus(codes.Error, outcome)
		span.RecordError(err)
		switch kind {
		case domain.KindInvariant, domain.KindInternal:
			applog.Error(nil, "reservation."+op+".fail", err, map[string]any{"attempts": attempt})
		case domain.KindBusy:
			applog.Warn(nil, "reservation."+op+".busy", err, map[string]any{"attempts": attempt})
		}
	}
	span.SetAttributes(attribute.Int("attempts", attempt), attribute.String("outcome", outcome))
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// inTx runs fn in one transaction. The transaction ignores cancellation of the
// caller's context: once begun it commits or rolls back on its own terms.
func (c *Coordinator) inTx(ctx context.Context, fn func(context.Context, *sqlx.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	tx, err := repos.BeginTx(ctx, c.db, c.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(ctx, tx); err != nil {
		return repos.Classify(err)
	}
	return repos.Classify(tx.Commit())
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return domain.ErrInvalidInput
		}
	}
	return nil
}
