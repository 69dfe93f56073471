package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/silkroad/internal/pagination"
	"github.com/mbd888/silkroad/internal/testutil"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	inv := &Invoice{
		ID:           "inv_pg1",
		Borrower:     "Samsung Electronics",
		Amount:       decimal.RequireFromString("234800"),
		RiskScore:    intPtr(72),
		Supplier:     supplierWallet,
		PrivacyHash:  "ab",
		ZKCompressed: true,
		Signature:    "sig1",
		MintedAt:     now,
	}
	require.NoError(t, store.Create(ctx, inv))

	got, err := store.Get(ctx, "inv_pg1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(inv.Amount))
	require.NotNil(t, got.Rate)
	assert.Equal(t, "16.5%", got.Rate.Label)
	assert.Equal(t, ExplorerURL("sig1"), got.ExplorerURL)

	got.RiskScore = nil
	require.NoError(t, store.Update(ctx, got))
	got, err = store.Get(ctx, "inv_pg1")
	require.NoError(t, err)
	assert.Nil(t, got.RiskScore)
	assert.Nil(t, got.Rate)

	sold, err := store.MarkSold(ctx, "inv_pg1", buyerWallet, decimal.NewFromInt(5), now)
	require.NoError(t, err)
	assert.True(t, sold.Sold)
	assert.Equal(t, buyerWallet, sold.Buyer)

	_, err = store.MarkSold(ctx, "inv_pg1", buyerWallet, decimal.NewFromInt(5), now)
	assert.ErrorIs(t, err, ErrAlreadySold)

	_, err = store.MarkSold(ctx, "inv_nope", buyerWallet, decimal.NewFromInt(5), now)
	assert.ErrorIs(t, err, ErrNotFound)

	open, err := store.List(ctx, ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := store.List(ctx, ListFilter{Limit: 10, IncludeSold: true})
	require.NoError(t, err)
	require.Len(t, all, 1)

	rest, err := store.List(ctx, ListFilter{Limit: 10, IncludeSold: true, After: &pagination.Cursor{At: all[0].MintedAt, ID: all[0].ID}})
	require.NoError(t, err)
	assert.Empty(t, rest, "the cursor row is excluded")
}
