package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

type countingStore struct {
	interfaces.TransactionStore
	reads int
}

func (c *countingStore) RetrieveByHash(
	ctx context.Context,
	h model.MessageHash,
) (model.EncryptedTransaction, bool, error) {
	c.reads++
	return c.TransactionStore.RetrieveByHash(ctx, h)
}

func TestCachedStoreServesRepeatReads(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	inner := &countingStore{TransactionStore: newMemStore(t)}
	c, err := NewCachedStore(inner, 8)
	require.NoError(t, err)

	tx := testTx("cached")
	_, err = inner.TransactionStore.Save(ctx, tx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, found, err := c.RetrieveByHash(ctx, tx.Hash)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, tx, got)
	}
	assert.Equal(t, 1, inner.reads)

	require.NoError(t, c.Delete(ctx, tx.Hash))
	_, found, err := c.RetrieveByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 2, inner.reads)
}

func TestCachedStoreDoesNotCacheMisses(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	c, err := NewCachedStore(newMemStore(t), 8)
	require.NoError(t, err)

	tx := testTx("late")
	_, found, err := c.RetrieveByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.False(t, found)

	created, err := c.Save(ctx, tx)
	require.NoError(t, err)
	assert.True(t, created)

	_, found, err = c.RetrieveByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.True(t, found)
}

// hookStore runs afterRead once a read from the
// wrapped store has returned.
type hookStore struct {
	interfaces.TransactionStore
	afterRead func()
}

func (h *hookStore) RetrieveByHash(
	ctx context.Context,
	hash model.MessageHash,
) (model.EncryptedTransaction, bool, error) {
	tx, found, err := h.TransactionStore.RetrieveByHash(ctx, hash)
	if fn := h.afterRead; fn != nil {
		h.afterRead = nil
		fn()
	}
	return tx, found, err
}

func TestCachedStoreReadRacingDelete(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	inner := &hookStore{TransactionStore: newMemStore(t)}
	c, err := NewCachedStore(inner, 8)
	require.NoError(t, err)

	tx := testTx("racing")
	_, err = inner.TransactionStore.Save(ctx, tx)
	require.NoError(t, err)

	inner.afterRead = func() {
		require.NoError(t, c.Delete(ctx, tx.Hash))
	}
	_, found, err := c.RetrieveByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = c.RetrieveByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.False(t, found, "deleted row must not be served from the cache")
}
