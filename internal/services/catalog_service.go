package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"secondhand/internal/domain"
	applog "secondhand/internal/log"
	"secondhand/internal/repos"
	"secondhand/internal/validate"
)

type NewProduct struct {
	Title       string
	Description string
	PriceCents  int64
}

// CreateProduct stores a draft listing owned by sellerID.
func (c *Coordinator) CreateProduct(ctx context.Context, sellerID string, in NewProduct) (domain.Product, error) {
	if err := requireIDs(sellerID); err != nil {
		return domain.Product{}, err
	}
	title, ok := validate.Title(in.Title)
	if !ok || len(in.Description) > 4000 || in.PriceCents < 0 || in.PriceCents > validate.MaxPriceCents {
		return domain.Product{}, domain.ErrInvalidInput
	}
	now := repos.Now()
	p := domain.Product{
		ID:          uuid.NewString(),
		SellerID:    sellerID,
		Title:       title,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		Status:      domain.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := c.run(ctx, "product_create", func(ctx context.Context, tx *sqlx.Tx) error {
		return c.Products.Create(ctx, tx, p)
	}, attribute.String("seller.id", sellerID))
	if err != nil {
		return domain.Product{}, err
	}
	applog.Audit(nil, "product.create", map[string]any{"seller": sellerID, "product": p.ID})
	return p, nil
}

func (c *Coordinator) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if err := requireIDs(productID); err != nil {
		return domain.Product{}, err
	}
	p, err := c.Products.Get(ctx, c.db, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if p.Deleted() {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *Coordinator) SellerProducts(ctx context.Context, sellerID string) ([]domain.Product, error) {
	if err := requireIDs(sellerID); err != nil {
		return nil, err
	}
	return c.Products.ListBySeller(ctx, sellerID)
}

// PublishProduct moves a draft to available.
func (c *Coordinator) PublishProduct(ctx context.Context, sellerID, productID string) error {
	if err := requireIDs(sellerID, productID); err != nil {
		return err
	}
	err := c.run(ctx, "product_publish", func(ctx context.Context, tx *sqlx.Tx) error {
		p, err := c.ownedProduct(ctx, tx, sellerID, productID)
		if err != nil {
			return err
		}
		return c.Products.Transition(ctx, tx, p.ID, p.Status, domain.StatusAvailable)
	}, attribute.String("seller.id", sellerID), attribute.String("product.id", productID))
	if err == nil {
		applog.Audit(nil, "product.publish", map[string]any{"seller": sellerID, "product": productID})
	}
	return err
}

// UnpublishProduct takes a listing back to draft. Every queued buyer is
// evicted and their want-list items are removed with them; returns how many
// buyers were evicted.
func (c *Coordinator) UnpublishProduct(ctx context.Context, sellerID, productID string) (int, error) {
	if err := requireIDs(sellerID, productID); err != nil {
		return 0, err
	}
	evicted := 0
	err := c.run(ctx, "product_unpublish", func(ctx context.Context, tx *sqlx.Tx) error {
		evicted = 0
		p, err := c.ownedProduct(ctx, tx, sellerID, productID)
		if err != nil {
			return err
		}
		if p.Status == domain.StatusReserved {
			entries, err := c.Queue.Discard(ctx, tx, p)
			if err != nil {
				return err
			}
			holders, err := c.Lists.Lists.ActiveHolders(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if len(holders) != len(entries) {
				return &domain.InvariantError{ProductID: p.ID, Detail: fmt.Sprintf("%d queued buyers but %d want-list items", len(entries), len(holders))}
			}
			for _, h := range holders {
				if err := c.Lists.Lists.DeleteItem(ctx, tx, h.ID); err != nil {
					return err
				}
			}
			evicted = len(entries)
		}
		return c.Products.Transition(ctx, tx, p.ID, p.Status, domain.StatusDraft)
	}, attribute.String("seller.id", sellerID), attribute.String("product.id", productID))
	if err == nil {
		applog.Audit(nil, "product.unpublish", map[string]any{"seller": sellerID, "product": productID, "evicted": evicted})
	}
	return evicted, err
}

// DeleteProduct soft-deletes a listing nobody is queued for.
func (c *Coordinator) DeleteProduct(ctx context.Context, sellerID, productID string) error {
	if err := requireIDs(sellerID, productID); err != nil {
		return err
	}
	err := c.run(ctx, "product_delete", func(ctx context.Context, tx *sqlx.Tx) error {
		p, err := c.ownedProduct(ctx, tx, sellerID, productID)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusDraft && p.Status != domain.StatusAvailable {
			return &domain.ConflictError{ProductID: p.ID, Expected: domain.StatusAvailable, Actual: p.Status, Next: "deleted"}
		}
		return c.Products.SoftDelete(ctx, tx, p.ID)
	}, attribute.String("seller.id", sellerID), attribute.String("product.id", productID))
	if err == nil {
		applog.Audit(nil, "product.delete", map[string]any{"seller": sellerID, "product": productID})
	}
	return err
}

// ownedProduct locks a live product that sellerID owns.
func (c *Coordinator) ownedProduct(ctx context.Context, tx *sqlx.Tx, sellerID, productID string) (domain.Product, error) {
	p, err := c.Products.Lock(ctx, tx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if p.Deleted() {
		return domain.Product{}, domain.ErrNotFound
	}
	if p.SellerID != sellerID {
		return domain.Product{}, domain.ErrForbidden
	}
	return p, nil
}
