package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	prefixTransaction = "tx:"
	prefixGroup       = "pg:"
	prefixGroupLookup = "pglookup:"

	saveConflictRetries = 3
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path string
	// InMemory ignores Path. Used by tests.
	InMemory bool
	// MinimumFreeGB refuses to open when the volume
	// holding Path has less free space.
	MinimumFreeGB uint64
	SyncWrites    bool
	Logger        *slog.Logger
}

// BadgerStore keeps transactions and privacy groups
// in one badger database.
type BadgerStore struct { // A
	db  *badger.DB
	log *slog.Logger
}

var (
	_ interfaces.TransactionStore = (*BadgerStore)(nil)
	_ GroupStore                  = (*BadgerStore)(nil)
)

// OpenBadger opens or creates the database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) { // A
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger store: no path configured")
		}
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", cfg.Path, err)
		}
		if err := checkFreeSpace(cfg.Path, cfg.MinimumFreeGB); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(cfg.Path)
		opts.ValueLogFileSize = 1024 * 1024 * 100
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = badgerLogger{log: cfg.Logger.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", model.ErrPersistence, err)
	}
	return &BadgerStore{db: db, log: cfg.Logger}, nil
}

func checkFreeSpace(path string, minimumGB uint64) error {
	if minimumGB == 0 {
		return nil
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("disk usage %s: %w", path, err)
	}
	freeGB := usage.Free / (1024 * 1024 * 1024)
	if freeGB < minimumGB {
		return fmt.Errorf(
			"%w: %d GB free at %s, need %d GB",
			model.ErrPersistence,
			freeGB,
			path,
			minimumGB,
		)
	}
	return nil
}

func txKey(h model.MessageHash) []byte {
	return append([]byte(prefixTransaction), h[:]...)
}

// Save inserts tx unless its hash is present.
// Concurrent saves of the same hash resolve to one
// insert and duplicates.
func (s *BadgerStore) Save( // A
	ctx context.Context,
	tx model.EncryptedTransaction,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := txKey(tx.Hash)
	var err error
	for attempt := 0; attempt < saveConflictRetries; attempt++ {
		created := false
		err = s.db.Update(func(txn *badger.Txn) error {
			_, getErr := txn.Get(key)
			if getErr == nil {
				return nil
			}
			if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return getErr
			}
			created = true
			return txn.Set(key, tx.EncodedPayload)
		})
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return false, fmt.Errorf(
		"%w: save %s: %v", model.ErrPersistence, tx.Hash, err,
	)
}

func (s *BadgerStore) RetrieveByHash( // A
	ctx context.Context,
	hash model.MessageHash,
) (model.EncryptedTransaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.EncryptedTransaction{}, false, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(hash))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.EncryptedTransaction{}, false, nil
	}
	if err != nil {
		return model.EncryptedTransaction{}, false, fmt.Errorf(
			"%w: read %s: %v", model.ErrPersistence, hash, err,
		)
	}
	return model.EncryptedTransaction{
		Hash:           hash,
		EncodedPayload: value,
	}, true, nil
}

// RetrieveAll pages through transactions in key
// order.
func (s *BadgerStore) RetrieveAll( // A
	ctx context.Context,
	offset int,
	limit int,
) ([]model.EncryptedTransaction, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf(
			"invalid page offset=%d limit=%d", offset, limit,
		)
	}
	prefix := []byte(prefixTransaction)
	var out []model.EncryptedTransaction
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if skipped < offset {
				skipped++
				continue
			}
			item := it.Item()
			h, err := model.MessageHashFromBytes(
				item.Key()[len(prefix):],
			)
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, model.EncryptedTransaction{
				Hash:           h,
				EncodedPayload: v,
			})
			if len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve all: %v", model.ErrPersistence, err)
	}
	return out, nil
}

// RetrieveAfter seeks past after and returns up to
// limit rows in hash order.
func (s *BadgerStore) RetrieveAfter( // A
	ctx context.Context,
	after model.MessageHash,
	limit int,
) ([]model.EncryptedTransaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid page limit=%d", limit)
	}
	prefix := []byte(prefixTransaction)
	start := txKey(after)
	var out []model.EncryptedTransaction
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			h, err := model.MessageHashFromBytes(
				item.Key()[len(prefix):],
			)
			if err != nil {
				return err
			}
			if h == after {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, model.EncryptedTransaction{
				Hash:           h,
				EncodedPayload: v,
			})
			if len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve after %s: %v", model.ErrPersistence, after, err)
	}
	return out, nil
}

func (s *BadgerStore) Count(ctx context.Context) (int64, error) { // A
	prefix := []byte(prefixTransaction)
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", model.ErrPersistence, err)
	}
	return n, nil
}

// Delete removes the row. Deleting an absent hash
// succeeds.
func (s *BadgerStore) Delete( // A
	ctx context.Context,
	hash model.MessageHash,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(txKey(hash))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", model.ErrPersistence, hash, err)
	}
	return nil
}

// Upcheck verifies the database answers reads.
func (s *BadgerStore) Upcheck(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger is closed", model.ErrPersistence)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("upcheck"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: upcheck: %v", model.ErrPersistence, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// badgerLogger routes badger's printf logging into
// slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
