package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"secondhand/internal/domain"
	"secondhand/internal/repos"
)

const SalesRecordedEvent = "sales.record.completed"

// SalesRecorder durably writes a completed sale inside the caller's transaction.
type SalesRecorder interface {
	Emit(ctx context.Context, q repos.Querier, rec domain.SalesRecord) error
}

// SalesEmitter stores the sales record and queues it in the outbox for the
// analytics relay, both in the completing transaction.
type SalesEmitter struct {
	Repo *repos.SalesRepo
}

func NewSalesEmitter(repo *repos.SalesRepo) *SalesEmitter { return &SalesEmitter{Repo: repo} }

func (e *SalesEmitter) Emit(ctx context.Context, q repos.Querier, rec domain.SalesRecord) error {
	if err := e.Repo.Insert(ctx, q, rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return e.Repo.Enqueue(ctx, q, repos.OutboxRow{
		ID:          uuid.NewString(),
		AggregateID: rec.WantListID,
		Type:        SalesRecordedEvent,
		Payload:     string(payload),
		Traceparent: carrier.Get("traceparent"),
		CreatedAt:   rec.CompletedAt,
	})
}
