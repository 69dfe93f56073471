package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/silkroad/internal/testutil"
)

func TestPostgresStore_Book(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	for _, r := range DemoBook() {
		require.NoError(t, store.Insert(ctx, r))
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 5)
	stats := Summarize(records)
	assert.Equal(t, 4, stats.PendingCount)

	require.NoError(t, store.MarkPaid(ctx, "SET-001", time.Now()))
	assert.ErrorIs(t, store.MarkPaid(ctx, "SET-001", time.Now()), ErrAlreadyPaid)
	assert.ErrorIs(t, store.MarkPaid(ctx, "SET-999", time.Now()), ErrNotFound)

	rec, err := store.Get(ctx, "SET-001")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, rec.Status)
	assert.NotNil(t, rec.PaidAt)
}
