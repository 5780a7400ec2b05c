package analytics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	applog "secondhand/internal/log"
	"secondhand/internal/metrics"
	"secondhand/internal/repos"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration, maxRetries int) ([]repos.OutboxRow, error)
	MarkSent(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type RelayConfig struct {
	RelayID    string
	Interval   time.Duration
	BatchSize  int
	Lease      time.Duration
	MaxRetries int
	// PublishTimeout bounds a single Publish call.
	PublishTimeout time.Duration
}

// Relay moves sales records from the outbox to a Publisher. Delivery is at
// least once: a crash between Publish and MarkSent redelivers after the lease.
type Relay struct {
	store  Store
	pub    Publisher
	cfg    RelayConfig
	tracer trace.Tracer
}

func NewRelay(store Store, pub Publisher, cfg RelayConfig) *Relay {
	if cfg.RelayID == "" {
		cfg.RelayID = "secondhand-relay"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Relay{store: store, pub: pub, cfg: cfg, tracer: otel.Tracer("secondhand/analytics")}
}

func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			applog.Info(nil, "relay.stop", map[string]any{"relay_id": r.cfg.RelayID})
			return
		case <-t.C:
			if _, _, err := r.RunOnce(ctx); err != nil {
				applog.Error(nil, "relay.batch.fail", err, map[string]any{"relay_id": r.cfg.RelayID})
			}
		}
	}
}

// RunOnce leases one batch and delivers it. Per-row publish failures are
// recorded on the row and do not fail the batch.
func (r *Relay) RunOnce(ctx context.Context) (sent, failed int, err error) {
	rows, err := r.store.LockBatch(ctx, r.cfg.RelayID, r.cfg.BatchSize, r.cfg.Lease, r.cfg.MaxRetries)
	if err != nil || len(rows) == 0 {
		return 0, 0, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := r.publish(ctx, row); err != nil {
			failed++
			metrics.OutboxTotal.WithLabelValues("failed").Inc()
			applog.Warn(nil, "relay.publish.fail", err, map[string]any{"event_id": row.ID, "retry": row.RetryCount + 1})
			if merr := r.store.MarkFailed(ctx, row.ID, err.Error()); merr != nil {
				applog.Error(nil, "relay.mark_failed.fail", merr, map[string]any{"event_id": row.ID})
			}
			continue
		}
		ids = append(ids, row.ID)
	}
	if err := r.store.MarkSent(ctx, ids); err != nil {
		return 0, failed, err
	}
	metrics.OutboxTotal.WithLabelValues("sent").Add(float64(len(ids)))
	return len(ids), failed, nil
}

// publish continues the trace of the transaction that completed the sale.
func (r *Relay) publish(ctx context.Context, row repos.OutboxRow) error {
	if row.Traceparent != "" {
		ctx = propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier{"traceparent": row.Traceparent})
	}
	ctx, span := r.tracer.Start(ctx, "sales.relay.publish", trace.WithAttributes(
		attribute.String("event.id", row.ID),
		attribute.String("event.type", row.Type),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	if err := r.pub.Publish(ctx, row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	return nil
}
