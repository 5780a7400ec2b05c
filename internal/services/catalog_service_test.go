package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secondhand/internal/domain"
)

func TestProductLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.c.CreateProduct(ctx, "seller", NewProduct{Title: "  Walkman  ", PriceCents: 4500})
	require.NoError(t, err)
	assert.Equal(t, "Walkman", p.Title)
	assert.Equal(t, domain.StatusDraft, p.Status)

	assert.ErrorIs(t, e.c.PublishProduct(ctx, "seller2", p.ID), domain.ErrForbidden)
	require.NoError(t, e.c.PublishProduct(ctx, "seller", p.ID))
	assert.Equal(t, domain.StatusAvailable, e.status(t, p.ID))

	var conflict *domain.ConflictError
	require.ErrorAs(t, e.c.PublishProduct(ctx, "seller", p.ID), &conflict)
	assert.Equal(t, domain.StatusAvailable, conflict.Actual)

	require.NoError(t, e.c.DeleteProduct(ctx, "seller", p.ID))
	_, err = e.c.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	mine, err := e.c.SellerProducts(ctx, "seller")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestCreateProductValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.c.CreateProduct(ctx, "seller", NewProduct{Title: " ", PriceCents: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.c.CreateProduct(ctx, "seller", NewProduct{Title: "ok", PriceCents: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUnpublishEvictsQueue(t *testing.T) {
	e := newEnv(t, "x", "y")
	ctx := context.Background()
	p := e.listed(t, "seller", 100)
	other := e.listed(t, "seller2", 100)
	for _, b := range []string{"x", "y"} {
		_, err := e.c.JoinQueue(ctx, b, p)
		require.NoError(t, err)
	}
	_, err := e.c.JoinQueue(ctx, "x", other)
	require.NoError(t, err)

	evicted, err := e.c.UnpublishProduct(ctx, "seller", p)
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, domain.StatusDraft, e.status(t, p))
	assert.Empty(t, e.buyersOf(t, p))

	_, items, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, other, items[0].ProductID)
	e.requireConsistent(t)

	_, err = e.c.JoinQueue(ctx, "y", p)
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)
}

func TestSoldProductsAreFinal(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p := e.listed(t, "seller", 100)
	_, err := e.c.JoinQueue(ctx, "x", p)
	require.NoError(t, err)
	wl, _, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)
	_, err = e.c.CompleteWantList(ctx, "x", wl.ID)
	require.NoError(t, err)

	var conflict *domain.ConflictError
	_, err = e.c.UnpublishProduct(ctx, "seller", p)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StatusSold, conflict.Actual)
	assert.ErrorAs(t, e.c.DeleteProduct(ctx, "seller", p), &conflict)
	assert.Equal(t, domain.StatusSold, e.status(t, p))
}

func TestDeleteReservedProductRejected(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p := e.listed(t, "seller", 100)
	_, err := e.c.JoinQueue(ctx, "x", p)
	require.NoError(t, err)
	err = e.c.DeleteProduct(ctx, "seller", p)
	assert.Equal(t, domain.KindBusiness, domain.KindOf(err))
	assert.Equal(t, domain.StatusReserved, e.status(t, p))
}
