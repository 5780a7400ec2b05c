package services

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"secondhand/internal/domain"
	applog "secondhand/internal/log"
	"secondhand/internal/metrics"
)

// ReconcileSold removes want-list items whose product was sold to another
// buyer. Each item is handled in its own transaction.
func (c *Coordinator) ReconcileSold(ctx context.Context) (int, error) {
	holders, err := c.Lists.Lists.Dangling(ctx, c.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, h := range holders {
		done := false
		err := c.run(ctx, "reconcile_sold", func(ctx context.Context, tx *sqlx.Tx) error {
			done = false
			wl, err := c.Lists.Lists.Lock(ctx, tx, h.WantListID)
			if err != nil {
				return err
			}
			if wl.Status != domain.WantListActive {
				return nil
			}
			if _, err := c.Lists.Lists.ItemByID(ctx, tx, wl.ID, h.ID); errors.Is(err, domain.ErrNotFound) {
				return nil
			} else if err != nil {
				return err
			}
			p, err := c.Products.Lock(ctx, tx, h.ProductID)
			if err != nil {
				return err
			}
			if p.Status != domain.StatusSold {
				return nil
			}
			if err := c.Lists.Lists.DeleteItem(ctx, tx, h.ID); err != nil {
				return err
			}
			done = true
			return c.Lists.Lists.Touch(ctx, tx, wl.ID)
		}, attribute.String("want_list.id", h.WantListID), attribute.String("item.id", h.ID))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			removed++
			applog.Info(nil, "sweep.reconcile_sold", map[string]any{"want_list": h.WantListID, "buyer": h.BuyerID, "product": h.ProductID})
		}
	}
	metrics.SweepTotal.WithLabelValues("reconcile_sold").Add(float64(removed))
	return removed, errors.Join(errs...)
}

// CleanupAbandoned cancels active want lists that hold no items.
func (c *Coordinator) CleanupAbandoned(ctx context.Context) (int, error) {
	ids, err := c.Lists.Lists.EmptyActive(ctx, c.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	var errs []error
	for _, id := range ids {
		changed := false
		err := c.run(ctx, "cleanup_abandoned", func(ctx context.Context, tx *sqlx.Tx) error {
			var err error
			changed, err = c.Lists.CancelIfEmpty(ctx, tx, id)
			return err
		}, attribute.String("want_list.id", id))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			cancelled++
		}
	}
	metrics.SweepTotal.WithLabelValues("cleanup_abandoned").Add(float64(cancelled))
	if cancelled > 0 {
		applog.Info(nil, "sweep.cleanup_abandoned", map[string]any{"cancelled": cancelled})
	}
	return cancelled, errors.Join(errs...)
}

// Sweeper runs housekeeping on a fixed interval until its context ends.
type Sweeper struct {
	Coord    *Coordinator
	Interval time.Duration
}

// RunOnce reconciles sold items first so the lists they empty are cleaned up
// in the same pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if _, err := s.Coord.ReconcileSold(ctx); err != nil {
		applog.Error(nil, "sweep.reconcile_sold.fail", err, nil)
	}
	if _, err := s.Coord.CleanupAbandoned(ctx); err != nil {
		applog.Error(nil, "sweep.cleanup_abandoned.fail", err, nil)
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}
