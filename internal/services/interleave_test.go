package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secondhand/internal/domain"
	"secondhand/internal/repos"
)

// interleaved runs hook once, through the same transaction, right after the
// first read whose SQL contains match. Under READ COMMITTED that is what a
// concurrent commit landing between two statements looks like; SQLite
// serializes writers and cannot produce it on its own.
type interleaved struct {
	repos.Querier
	match string
	hook  func(q repos.Querier)
	fired bool
}

func (i *interleaved) after(query string) {
	if !i.fired && strings.Contains(query, i.match) {
		i.fired = true
		i.hook(i.Querier)
	}
}

func (i *interleaved) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	err := i.Querier.GetContext(ctx, dest, query, args...)
	if err == nil {
		i.after(query)
	}
	return err
}

func (i *interleaved) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	err := i.Querier.SelectContext(ctx, dest, query, args...)
	if err == nil {
		i.after(query)
	}
	return err
}

const (
	activeListQuery = "status = 'active'"
	itemsQuery      = "want_list_id = ? ORDER BY added_at"
	itemByProduct   = "AND product_id = ?"
)

func (e *testEnv) begin(t *testing.T) *sqlx.Tx {
	t.Helper()
	tx, err := repos.BeginTx(context.Background(), e.db, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

// unpublishedUnder applies what a committed unpublish of productID leaves
// behind: no queue, no items, back to draft.
func unpublishedUnder(t *testing.T, q repos.Querier, productID string) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []string{
		`DELETE FROM interest_queue_entries WHERE product_id = ?`,
		`DELETE FROM want_list_items WHERE product_id = ?`,
		`UPDATE products SET status = 'draft' WHERE id = ?`,
	} {
		_, err := q.ExecContext(ctx, q.Rebind(stmt), productID)
		require.NoError(t, err)
	}
}

func TestAddItemToListCancelledMeanwhileIsBusy(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p1 := e.listed(t, "seller", 100)
	p2 := e.listed(t, "seller", 200)
	_, err := e.c.JoinQueue(ctx, "x", p1)
	require.NoError(t, err)
	wl, _, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)

	tx := e.begin(t)
	q := &interleaved{Querier: tx, match: activeListQuery, hook: func(q repos.Querier) {
		changed, err := e.c.Lists.Cancel(ctx, q, wl.ID, "seller")
		require.NoError(t, err)
		require.True(t, changed)
	}}
	_, _, err = e.c.Lists.AddItem(ctx, q, "x", p2)
	assert.ErrorIs(t, err, domain.ErrBusy)
	require.True(t, q.fired)

	var queued int
	require.NoError(t, tx.GetContext(ctx, &queued, tx.Rebind(`SELECT COUNT(*) FROM interest_queue_entries WHERE product_id = ?`), p2))
	assert.Zero(t, queued)
}

func TestJoinRetriesOntoFreshListAfterCancel(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p1 := e.listed(t, "seller", 100)
	p2 := e.listed(t, "seller", 200)
	_, err := e.c.JoinQueue(ctx, "x", p1)
	require.NoError(t, err)
	wl, _, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)

	attempts := 0
	err = e.c.run(ctx, "join", func(ctx context.Context, tx *sqlx.Tx) error {
		attempts++
		if attempts > 1 {
			_, _, err := e.c.Lists.AddItem(ctx, tx, "x", p2)
			return err
		}
		q := &interleaved{Querier: tx, match: activeListQuery, hook: func(q repos.Querier) {
			_, err := e.c.Lists.Cancel(ctx, q, wl.ID, "seller")
			require.NoError(t, err)
		}}
		_, _, err := e.c.Lists.AddItem(ctx, q, "x", p2)
		// Keep the cancel, as the seller's own transaction would.
		require.NoError(t, tx.Commit())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	fresh, items, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)
	assert.NotEqual(t, wl.ID, fresh.ID)
	require.Len(t, items, 1)
	assert.Equal(t, p2, items[0].ProductID)
	assert.Equal(t, domain.StatusAvailable, e.status(t, p1))
	assert.Equal(t, []string{"x"}, e.buyersOf(t, p2))
	e.requireConsistent(t)
}

func TestRemoveItemFromListCancelledMeanwhileIsBusy(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p := e.listed(t, "seller", 100)
	_, err := e.c.JoinQueue(ctx, "x", p)
	require.NoError(t, err)
	wl, _, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)

	tx := e.begin(t)
	q := &interleaved{Querier: tx, match: activeListQuery, hook: func(q repos.Querier) {
		_, err := e.c.Lists.Cancel(ctx, q, wl.ID, "seller")
		require.NoError(t, err)
	}}
	_, err = e.c.Lists.RemoveItem(ctx, q, "x", ItemRef{ProductID: p})
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestCancelSkipsItemsUnpublishedMeanwhile(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p1 := e.listed(t, "seller", 100)
	p2 := e.listed(t, "seller2", 200)
	for _, p := range []string{p1, p2} {
		_, err := e.c.JoinQueue(ctx, "x", p)
		require.NoError(t, err)
	}
	wl, _, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)

	tx := e.begin(t)
	q := &interleaved{Querier: tx, match: itemsQuery, hook: func(q repos.Querier) {
		unpublishedUnder(t, q, p1)
	}}
	changed, err := e.c.Lists.Cancel(ctx, q, wl.ID, "seller2")
	require.NoError(t, err)
	assert.True(t, changed)
	require.True(t, q.fired)
	require.NoError(t, tx.Commit())

	assert.Equal(t, domain.StatusDraft, e.status(t, p1))
	assert.Equal(t, domain.StatusAvailable, e.status(t, p2))
	assert.Empty(t, e.buyersOf(t, p2))
	e.requireConsistent(t)
}

func TestRemoveItemUnpublishedMeanwhileIsNotFound(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p := e.listed(t, "seller", 100)
	_, err := e.c.JoinQueue(ctx, "x", p)
	require.NoError(t, err)

	tx := e.begin(t)
	q := &interleaved{Querier: tx, match: itemByProduct, hook: func(q repos.Querier) {
		unpublishedUnder(t, q, p)
	}}
	_, err = e.c.Lists.RemoveItem(ctx, q, "x", ItemRef{ProductID: p})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCompleteSeesItemsUnpublishedMeanwhile(t *testing.T) {
	e := newEnv(t, "x")
	ctx := context.Background()
	p1 := e.listed(t, "seller", 100)
	p2 := e.listed(t, "seller", 200)
	for _, p := range []string{p1, p2} {
		_, err := e.c.JoinQueue(ctx, "x", p)
		require.NoError(t, err)
	}
	wl, _, err := e.c.ActiveWantList(ctx, "x")
	require.NoError(t, err)

	tx := e.begin(t)
	q := &interleaved{Querier: tx, match: itemsQuery, hook: func(q repos.Querier) {
		unpublishedUnder(t, q, p1)
	}}
	rec, err := e.c.Lists.Complete(ctx, q, "x", wl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ItemCount)
	assert.EqualValues(t, 200, rec.TotalCents)
}
