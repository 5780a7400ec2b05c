package services

import (
	"context"
	"fmt"

	"secondhand/internal/domain"
	"secondhand/internal/repos"
)

type JoinResult struct {
	Position  int `json:"position"`
	QueueSize int `json:"queueSize"`
}

// InterestQueue keeps the first-come-first-served order of buyers per product.
// Mutating methods run inside the caller's transaction and lock the product
// row before the queue rows.
type InterestQueue struct {
	Products *repos.ProductRepo
	Entries  *repos.QueueRepo
}

func NewInterestQueue(products *repos.ProductRepo, entries *repos.QueueRepo) *InterestQueue {
	return &InterestQueue{Products: products, Entries: entries}
}

// Join appends buyerID to the product's queue. The first entry reserves the product.
func (s *InterestQueue) Join(ctx context.Context, q repos.Querier, productID, buyerID string) (JoinResult, error) {
	p, err := s.Products.Lock(ctx, q, productID)
	if err != nil {
		return JoinResult{}, err
	}
	if p.Deleted() || !p.Status.Visible() {
		return JoinResult{}, fmt.Errorf("%w: %s is %s", domain.ErrProductUnavailable, productID, p.Status)
	}
	if p.SellerID == buyerID {
		return JoinResult{}, domain.ErrOwnProduct
	}

	entries, err := s.lockDense(ctx, q, p)
	if err != nil {
		return JoinResult{}, err
	}
	for _, e := range entries {
		if e.BuyerID == buyerID {
			return JoinResult{}, domain.ErrAlreadyQueued
		}
	}

	pos := len(entries) + 1
	if err := s.Entries.Insert(ctx, q, domain.QueueEntry{
		ProductID: productID, BuyerID: buyerID, Position: pos, CreatedAt: repos.Now(),
	}); err != nil {
		return JoinResult{}, err
	}
	if pos == 1 {
		if err := s.Products.Transition(ctx, q, productID, domain.StatusAvailable, domain.StatusReserved); err != nil {
			return JoinResult{}, err
		}
	}
	return JoinResult{Position: pos, QueueSize: pos}, nil
}

// Leave removes buyerID and promotes everyone behind them. An emptied queue
// releases the reservation.
func (s *InterestQueue) Leave(ctx context.Context, q repos.Querier, productID, buyerID string) error {
	p, err := s.Products.Lock(ctx, q, productID)
	if err != nil {
		return err
	}
	entries, err := s.lockDense(ctx, q, p)
	if err != nil {
		return err
	}
	pos := 0
	for _, e := range entries {
		if e.BuyerID == buyerID {
			pos = e.Position
			break
		}
	}
	if pos == 0 {
		return domain.ErrNotQueued
	}

	if _, err := s.Entries.Delete(ctx, q, productID, buyerID); err != nil {
		return err
	}
	if err := s.Entries.ShiftDown(ctx, q, productID, pos); err != nil {
		return err
	}
	if len(entries) == 1 && p.Status == domain.StatusReserved {
		return s.Products.Transition(ctx, q, productID, domain.StatusReserved, domain.StatusAvailable)
	}
	return nil
}

// Discard drops the whole queue without promoting anyone and returns what it
// removed. The product lock must already be held.
func (s *InterestQueue) Discard(ctx context.Context, q repos.Querier, p domain.Product) ([]domain.QueueEntry, error) {
	entries, err := s.lockDense(ctx, q, p)
	if err != nil {
		return nil, err
	}
	if err := s.Entries.DeleteAll(ctx, q, p.ID); err != nil {
		return nil, err
	}
	return entries, nil
}

// Head returns the reservation holder, or "" for an empty queue. The product
// lock must already be held.
func (s *InterestQueue) Head(ctx context.Context, q repos.Querier, p domain.Product) (string, error) {
	entries, err := s.lockDense(ctx, q, p)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[0].BuyerID, nil
}

// PositionOf returns 0 when buyerID is not queued.
func (s *InterestQueue) PositionOf(ctx context.Context, q repos.Querier, productID, buyerID string) (int, error) {
	return s.Entries.Position(ctx, q, productID, buyerID)
}

func (s *InterestQueue) Size(ctx context.Context, q repos.Querier, productID string) (int, error) {
	return s.Entries.Size(ctx, q, productID)
}

// lockDense locks the queue rows and checks them against the product status.
func (s *InterestQueue) lockDense(ctx context.Context, q repos.Querier, p domain.Product) ([]domain.QueueEntry, error) {
	entries, err := s.Entries.LockEntries(ctx, q, p.ID)
	if err != nil {
		return nil, err
	}
	if err := checkDense(p.ID, entries); err != nil {
		return nil, err
	}
	switch {
	case len(entries) > 0 && p.Status != domain.StatusReserved:
		return nil, &domain.InvariantError{ProductID: p.ID, Detail: fmt.Sprintf("%d queued buyers but status %s", len(entries), p.Status)}
	case len(entries) == 0 && p.Status == domain.StatusReserved:
		return nil, &domain.InvariantError{ProductID: p.ID, Detail: "reserved with an empty queue"}
	}
	return entries, nil
}

// checkDense expects entries ordered by position.
func checkDense(productID string, entries []domain.QueueEntry) error {
	for i, e := range entries {
		if e.Position != i+1 {
			return &domain.InvariantError{
				ProductID: productID,
				Detail:    fmt.Sprintf("position %d found where %d expected", e.Position, i+1),
			}
		}
	}
	return nil
}
