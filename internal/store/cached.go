package store

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// CachedStore is a read-through LRU in front of a
// TransactionStore. Rows are immutable, so the only
// invalidation needed is on delete. A read that
// overlaps a delete does not fill the cache.
type CachedStore struct {
	interfaces.TransactionStore
	cache *lru.Cache

	mu      sync.Mutex
	deletes uint64
}

// NewCachedStore wraps inner with an LRU holding up
// to size rows.
func NewCachedStore( // A
	inner interfaces.TransactionStore,
	size int,
) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("transaction cache: %w", err)
	}
	return &CachedStore{TransactionStore: inner, cache: cache}, nil
}

func (c *CachedStore) Save( // A
	ctx context.Context,
	tx model.EncryptedTransaction,
) (bool, error) {
	created, err := c.TransactionStore.Save(ctx, tx)
	if err == nil && created {
		c.cache.Add(tx.Hash, tx.EncodedPayload)
	}
	return created, err
}

func (c *CachedStore) RetrieveByHash( // A
	ctx context.Context,
	hash model.MessageHash,
) (model.EncryptedTransaction, bool, error) {
	if v, ok := c.cache.Get(hash); ok {
		return model.EncryptedTransaction{
			Hash:           hash,
			EncodedPayload: v.([]byte),
		}, true, nil
	}
	gen := c.generation()
	tx, found, err := c.TransactionStore.RetrieveByHash(ctx, hash)
	if err == nil && found {
		c.mu.Lock()
		if c.deletes == gen {
			c.cache.Add(hash, tx.EncodedPayload)
		}
		c.mu.Unlock()
	}
	return tx, found, err
}

func (c *CachedStore) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes
}

func (c *CachedStore) Delete( // A
	ctx context.Context,
	hash model.MessageHash,
) error {
	err := c.TransactionStore.Delete(ctx, hash)
	c.mu.Lock()
	c.deletes++
	c.cache.Remove(hash)
	c.mu.Unlock()
	return err
}
