package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"secondhand/internal/domain"
	"secondhand/internal/repos"
)

// ItemRef names a want-list item either by product or by item id.
type ItemRef struct {
	ProductID string
	ItemID    string
}

// WantLists is the per-buyer want list aggregate. Every method runs inside the
// caller's transaction; a failure anywhere must abort that transaction.
type WantLists struct {
	Lists    *repos.WantListRepo
	Products *repos.ProductRepo
	Queue    *InterestQueue
	Sales    SalesRecorder
}

func NewWantLists(lists *repos.WantListRepo, products *repos.ProductRepo, queue *InterestQueue, sales SalesRecorder) *WantLists {
	return &WantLists{Lists: lists, Products: products, Queue: queue, Sales: sales}
}

func (s *WantLists) GetOrCreateActive(ctx context.Context, q repos.Querier, buyerID string) (domain.WantList, error) {
	wl, ok, err := s.Lists.Active(ctx, q, buyerID)
	if err != nil || ok {
		return wl, err
	}
	now := repos.Now()
	wl = domain.WantList{ID: uuid.NewString(), BuyerID: buyerID, Status: domain.WantListActive, CreatedAt: now, UpdatedAt: now}
	if err := s.Lists.Create(ctx, q, wl); err != nil {
		return domain.WantList{}, err
	}
	return wl, nil
}

// AddItem queues the buyer for productID and records the item. The queue entry
// and the item row are written in the same transaction or not at all.
func (s *WantLists) AddItem(ctx context.Context, q repos.Querier, buyerID, productID string) (domain.WantListItem, JoinResult, error) {
	wl, err := s.GetOrCreateActive(ctx, q, buyerID)
	if err != nil {
		return domain.WantListItem{}, JoinResult{}, err
	}
	// Lock order everywhere: want list, then products, then queue rows.
	if err := s.lockActive(ctx, q, wl.ID); err != nil {
		return domain.WantListItem{}, JoinResult{}, err
	}
	if _, err := s.Lists.ItemByProduct(ctx, q, wl.ID, productID); err == nil {
		return domain.WantListItem{}, JoinResult{}, domain.ErrDuplicateItem
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.WantListItem{}, JoinResult{}, err
	}

	res, err := s.Queue.Join(ctx, q, productID, buyerID)
	if err != nil {
		return domain.WantListItem{}, JoinResult{}, err
	}
	item := domain.WantListItem{ID: uuid.NewString(), WantListID: wl.ID, ProductID: productID, AddedAt: repos.Now()}
	if err := s.Lists.InsertItem(ctx, q, item); err != nil {
		return domain.WantListItem{}, JoinResult{}, err
	}
	if err := s.Lists.Touch(ctx, q, wl.ID); err != nil {
		return domain.WantListItem{}, JoinResult{}, err
	}
	return item, res, nil
}

// RemoveItem deletes the item from the buyer's active list and leaves the
// product's queue. Items left dangling by a sale to another buyer have no queue
// entry any more; those are removed on their own.
func (s *WantLists) RemoveItem(ctx context.Context, q repos.Querier, buyerID string, ref ItemRef) (domain.WantListItem, error) {
	wl, ok, err := s.Lists.Active(ctx, q, buyerID)
	if err != nil {
		return domain.WantListItem{}, err
	}
	if !ok {
		return domain.WantListItem{}, domain.ErrItemNotFound
	}
	if err := s.lockActive(ctx, q, wl.ID); err != nil {
		return domain.WantListItem{}, err
	}
	var item domain.WantListItem
	if ref.ItemID != "" {
		item, err = s.Lists.ItemByID(ctx, q, wl.ID, ref.ItemID)
	} else {
		item, err = s.Lists.ItemByProduct(ctx, q, wl.ID, ref.ProductID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.WantListItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.WantListItem{}, err
	}
	// Unpublish removes items under the product lock alone, so the item is
	// only settled once that lock is held.
	if _, err := s.Products.Lock(ctx, q, item.ProductID); err != nil {
		return domain.WantListItem{}, err
	}
	if _, err := s.Lists.ItemByID(ctx, q, wl.ID, item.ID); errors.Is(err, domain.ErrNotFound) {
		return domain.WantListItem{}, domain.ErrItemNotFound
	} else if err != nil {
		return domain.WantListItem{}, err
	}

	if err := s.Lists.DeleteItem(ctx, q, item.ID); err != nil {
		return domain.WantListItem{}, err
	}
	if err := s.leave(ctx, q, item.ProductID, buyerID); err != nil {
		return domain.WantListItem{}, err
	}
	return item, s.Lists.Touch(ctx, q, wl.ID)
}

// Cancel releases every reservation the list holds and closes it on behalf of
// actorID. Cancelling a cancelled list is a no-op; reports whether anything changed.
func (s *WantLists) Cancel(ctx context.Context, q repos.Querier, wantListID, actorID string) (bool, error) {
	wl, err := s.Lists.Lock(ctx, q, wantListID)
	if err != nil {
		return false, err
	}
	switch wl.Status {
	case domain.WantListCancelled:
		return false, nil
	case domain.WantListCompleted:
		return false, domain.ErrWantListClosed
	}

	items, err := s.lockItems(ctx, q, wl.ID)
	if err != nil {
		return false, err
	}
	for _, it := range sortedByProduct(items) {
		if err := s.leave(ctx, q, it.ProductID, wl.BuyerID); err != nil {
			return false, err
		}
	}
	if err := s.Lists.DeleteItems(ctx, q, wl.ID); err != nil {
		return false, err
	}
	if err := s.Lists.SetStatus(ctx, q, wl.ID, domain.WantListActive, domain.WantListCancelled); err != nil {
		return false, err
	}
	return true, s.Lists.SetCancelledBy(ctx, q, wl.ID, actorID)
}

// Complete sells every item to the buyer. It requires the buyer to be the
// reservation holder on every product; otherwise nothing changes.
func (s *WantLists) Complete(ctx context.Context, q repos.Querier, buyerID, wantListID string) (domain.SalesRecord, error) {
	wl, err := s.Lists.Lock(ctx, q, wantListID)
	if err != nil {
		return domain.SalesRecord{}, err
	}
	if wl.BuyerID != buyerID {
		return domain.SalesRecord{}, domain.ErrNotFound
	}
	if wl.Status != domain.WantListActive {
		return domain.SalesRecord{}, domain.ErrWantListClosed
	}
	items, err := s.lockItems(ctx, q, wl.ID)
	if err != nil {
		return domain.SalesRecord{}, err
	}
	if len(items) == 0 {
		return domain.SalesRecord{}, domain.ErrEmptyWantList
	}
	products, err := s.Products.LockMany(ctx, q, productIDs(items))
	if err != nil {
		return domain.SalesRecord{}, err
	}
	items = sortedByProduct(items)
	for _, it := range items {
		p := products[it.ProductID]
		if p.Deleted() || p.Status != domain.StatusReserved {
			return domain.SalesRecord{}, fmt.Errorf("%w: %s is %s", domain.ErrQueueNotHeadForAllItems, p.ID, p.Status)
		}
		head, err := s.Queue.Head(ctx, q, p)
		if err != nil {
			return domain.SalesRecord{}, err
		}
		if head != buyerID {
			return domain.SalesRecord{}, fmt.Errorf("%w: not first for %s", domain.ErrQueueNotHeadForAllItems, p.ID)
		}
	}

	rec := domain.SalesRecord{
		ID:          uuid.NewString(),
		BuyerID:     buyerID,
		WantListID:  wl.ID,
		ItemCount:   len(items),
		CompletedAt: repos.Now(),
	}
	sellers := map[string]struct{}{}
	for _, it := range items {
		p := products[it.ProductID]
		if _, err := s.Queue.Discard(ctx, q, p); err != nil {
			return domain.SalesRecord{}, err
		}
		if err := s.Products.Transition(ctx, q, p.ID, domain.StatusReserved, domain.StatusSold); err != nil {
			return domain.SalesRecord{}, err
		}
		rec.TotalCents += p.PriceCents
		rec.Lines = append(rec.Lines, domain.SalesLine{SalesRecordID: rec.ID, ProductID: p.ID, SellerID: p.SellerID, PriceCents: p.PriceCents})
		sellers[p.SellerID] = struct{}{}
	}
	if len(sellers) == 1 {
		rec.SellerID = rec.Lines[0].SellerID
	}

	if err := s.Lists.DeleteItems(ctx, q, wl.ID); err != nil {
		return domain.SalesRecord{}, err
	}
	if err := s.Lists.SetStatus(ctx, q, wl.ID, domain.WantListActive, domain.WantListCompleted); err != nil {
		return domain.SalesRecord{}, err
	}
	if err := s.Sales.Emit(ctx, q, rec); err != nil {
		return domain.SalesRecord{}, err
	}
	return rec, nil
}

// CancelIfEmpty closes an active list that holds no items. It reports false
// when the list gained an item or changed status since it was selected.
func (s *WantLists) CancelIfEmpty(ctx context.Context, q repos.Querier, wantListID string) (bool, error) {
	wl, err := s.Lists.Lock(ctx, q, wantListID)
	if err != nil {
		return false, err
	}
	if wl.Status != domain.WantListActive {
		return false, nil
	}
	items, err := s.Lists.Items(ctx, q, wl.ID)
	if err != nil || len(items) > 0 {
		return false, err
	}
	return true, s.Lists.SetStatus(ctx, q, wl.ID, domain.WantListActive, domain.WantListCancelled)
}

// lockActive locks the want list and fails with ErrBusy when it was closed
// after the caller selected it, so the retry resolves the buyer's list again.
func (s *WantLists) lockActive(ctx context.Context, q repos.Querier, wantListID string) error {
	wl, err := s.Lists.Lock(ctx, q, wantListID)
	if err != nil {
		return err
	}
	if wl.Status != domain.WantListActive {
		return fmt.Errorf("%w: want list %s is %s", domain.ErrBusy, wl.ID, wl.Status)
	}
	return nil
}

// lockItems locks the products of a locked want list and returns its items as
// they stand once those locks are held. Unpublish may have removed some in
// between; nothing can add one without the want list lock.
func (s *WantLists) lockItems(ctx context.Context, q repos.Querier, wantListID string) ([]domain.WantListItem, error) {
	items, err := s.Lists.Items(ctx, q, wantListID)
	if err != nil || len(items) == 0 {
		return items, err
	}
	if _, err := s.Products.LockMany(ctx, q, productIDs(items)); err != nil {
		return nil, err
	}
	return s.Lists.Items(ctx, q, wantListID)
}

// leave is Queue.Leave that tolerates a missing entry when the product was
// sold to somebody else.
func (s *WantLists) leave(ctx context.Context, q repos.Querier, productID, buyerID string) error {
	err := s.Queue.Leave(ctx, q, productID, buyerID)
	if !errors.Is(err, domain.ErrNotQueued) {
		return err
	}
	p, perr := s.Products.Get(ctx, q, productID)
	if perr != nil {
		return perr
	}
	if p.Status == domain.StatusSold {
		return nil
	}
	return &domain.InvariantError{ProductID: productID, Detail: fmt.Sprintf("want list item for %s without a queue entry", buyerID)}
}

func productIDs(items []domain.WantListItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

func sortedByProduct(items []domain.WantListItem) []domain.WantListItem {
	out := append([]domain.WantListItem(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
