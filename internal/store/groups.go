package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// GroupStore persists encoded privacy groups,
// indexed by id and by member lookup id.
type GroupStore interface { // A
	// SaveGroup inserts or replaces the group.
	SaveGroup(
		ctx context.Context,
		id []byte,
		lookupID []byte,
		data []byte,
	) error
	RetrieveGroup(
		ctx context.Context,
		id []byte,
	) (data []byte, found bool, err error)
	FindGroupsByLookupID(
		ctx context.Context,
		lookupID []byte,
	) ([][]byte, error)
	RetrieveAllGroups(ctx context.Context) ([][]byte, error)
}

func groupKey(id []byte) []byte {
	return append([]byte(prefixGroup), id...)
}

func lookupKey(lookupID, id []byte) []byte {
	k := make([]byte, 0, len(prefixGroupLookup)+len(lookupID)+1+len(id))
	k = append(k, prefixGroupLookup...)
	k = append(k, lookupID...)
	k = append(k, ':')
	return append(k, id...)
}

func (s *BadgerStore) SaveGroup( // A
	ctx context.Context,
	id []byte,
	lookupID []byte,
	data []byte,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(groupKey(id), data); err != nil {
			return err
		}
		return txn.Set(lookupKey(lookupID, id), nil)
	})
	if err != nil {
		return fmt.Errorf("%w: save privacy group: %v", model.ErrPersistence, err)
	}
	return nil
}

func (s *BadgerStore) RetrieveGroup( // A
	ctx context.Context,
	id []byte,
) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf(
			"%w: read privacy group: %v", model.ErrPersistence, err,
		)
	}
	return value, true, nil
}

func (s *BadgerStore) FindGroupsByLookupID( // A
	ctx context.Context,
	lookupID []byte,
) ([][]byte, error) {
	prefix := lookupKey(lookupID, nil)
	var out [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := it.Item().KeyCopy(nil)[len(prefix):]
			item, err := txn.Get(groupKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf(
			"%w: find privacy groups: %v", model.ErrPersistence, err,
		)
	}
	return out, nil
}

func (s *BadgerStore) RetrieveAllGroups( // A
	ctx context.Context,
) ([][]byte, error) {
	prefix := []byte(prefixGroup)
	var out [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf(
			"%w: list privacy groups: %v", model.ErrPersistence, err,
		)
	}
	return out, nil
}
