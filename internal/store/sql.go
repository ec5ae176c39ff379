package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// Schema is the DDL the SQL store expects. It is
// applied by operators, not by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS ENCRYPTED_TRANSACTION (
  ID BIGINT NOT NULL AUTO_INCREMENT,
  HASH VARBINARY(100) NOT NULL,
  ENCODED_PAYLOAD LONGBLOB NOT NULL,
  PRIMARY KEY (ID),
  UNIQUE KEY ENCRYPTED_TRANSACTION_HASH (HASH)
);
CREATE TABLE IF NOT EXISTS PRIVACY_GROUP (
  ID VARBINARY(100) NOT NULL,
  LOOKUP_ID VARBINARY(100) NOT NULL,
  DATA BLOB NOT NULL,
  PRIMARY KEY (ID),
  KEY PRIVACY_GROUP_LOOKUP (LOOKUP_ID)
);`

const (
	queryInsertTx = "INSERT IGNORE INTO ENCRYPTED_TRANSACTION " +
		"(HASH, ENCODED_PAYLOAD) VALUES (?, ?)"
	querySelectTx = "SELECT ENCODED_PAYLOAD FROM ENCRYPTED_TRANSACTION " +
		"WHERE HASH = ?"
	querySelectPage = "SELECT HASH, ENCODED_PAYLOAD FROM ENCRYPTED_TRANSACTION " +
		"ORDER BY ID LIMIT ? OFFSET ?"
	querySelectAfter = "SELECT HASH, ENCODED_PAYLOAD FROM ENCRYPTED_TRANSACTION " +
		"WHERE HASH > ? ORDER BY HASH LIMIT ?"
	queryCountTx  = "SELECT COUNT(*) FROM ENCRYPTED_TRANSACTION"
	queryDeleteTx = "DELETE FROM ENCRYPTED_TRANSACTION WHERE HASH = ?"

	queryUpsertGroup = "INSERT INTO PRIVACY_GROUP (ID, LOOKUP_ID, DATA) " +
		"VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE DATA = VALUES(DATA)"
	querySelectGroup   = "SELECT DATA FROM PRIVACY_GROUP WHERE ID = ?"
	queryLookupGroups  = "SELECT DATA FROM PRIVACY_GROUP WHERE LOOKUP_ID = ?"
	querySelectGroups  = "SELECT DATA FROM PRIVACY_GROUP"
	defaultMaxOpenConn = 20
	defaultMaxIdleConn = 10
)

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Logger       *slog.Logger
}

// SQLStore keeps transactions in the
// ENCRYPTED_TRANSACTION table.
type SQLStore struct { // A
	db  *sql.DB
	log *slog.Logger
}

var (
	_ interfaces.TransactionStore = (*SQLStore)(nil)
	_ GroupStore                  = (*SQLStore)(nil)
)

// OpenSQL connects and pings the database.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) { // A
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql store: no dsn configured")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open sql: %v", model.ErrPersistence, err)
	}
	s := NewSQLStore(db, cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sql: %v", model.ErrPersistence, err)
	}
	return s, nil
}

// NewSQLStore wraps an existing handle.
func NewSQLStore(db *sql.DB, cfg SQLConfig) *SQLStore { // A
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConn
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConn
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	return &SQLStore{db: db, log: cfg.Logger}
}

func (s *SQLStore) Save( // A
	ctx context.Context,
	tx model.EncryptedTransaction,
) (bool, error) {
	res, err := s.db.ExecContext(
		ctx, queryInsertTx, tx.Hash[:], tx.EncodedPayload,
	)
	if err != nil {
		return false, fmt.Errorf(
			"%w: insert %s: %v", model.ErrPersistence, tx.Hash, err,
		)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf(
			"%w: rows affected: %v", model.ErrPersistence, err,
		)
	}
	return n == 1, nil
}

func (s *SQLStore) RetrieveByHash( // A
	ctx context.Context,
	hash model.MessageHash,
) (model.EncryptedTransaction, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, querySelectTx, hash[:]).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EncryptedTransaction{}, false, nil
	}
	if err != nil {
		return model.EncryptedTransaction{}, false, fmt.Errorf(
			"%w: select %s: %v", model.ErrPersistence, hash, err,
		)
	}
	return model.EncryptedTransaction{
		Hash:           hash,
		EncodedPayload: payload,
	}, true, nil
}

func (s *SQLStore) RetrieveAll( // A
	ctx context.Context,
	offset int,
	limit int,
) ([]model.EncryptedTransaction, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf(
			"invalid page offset=%d limit=%d", offset, limit,
		)
	}
	rows, err := s.db.QueryContext(ctx, querySelectPage, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: select page: %v", model.ErrPersistence, err)
	}
	return scanTransactions(rows)
}

// RetrieveAfter pages by hash, starting after the
// given one.
func (s *SQLStore) RetrieveAfter( // A
	ctx context.Context,
	after model.MessageHash,
	limit int,
) ([]model.EncryptedTransaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid page limit=%d", limit)
	}
	rows, err := s.db.QueryContext(ctx, querySelectAfter, after[:], limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select after: %v", model.ErrPersistence, err)
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]model.EncryptedTransaction, error) { // A
	defer rows.Close()

	var out []model.EncryptedTransaction
	for rows.Next() {
		var rawHash, payload []byte
		if err := rows.Scan(&rawHash, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", model.ErrPersistence, err)
		}
		h, err := model.MessageHashFromBytes(rawHash)
		if err != nil {
			return nil, err
		}
		out = append(out, model.EncryptedTransaction{
			Hash:           h,
			EncodedPayload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", model.ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryCountTx).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", model.ErrPersistence, err)
	}
	return n, nil
}

func (s *SQLStore) Delete( // A
	ctx context.Context,
	hash model.MessageHash,
) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteTx, hash[:]); err != nil {
		return fmt.Errorf(
			"%w: delete %s: %v", model.ErrPersistence, hash, err,
		)
	}
	return nil
}

func (s *SQLStore) Upcheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", model.ErrPersistence, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) SaveGroup( // A
	ctx context.Context,
	id []byte,
	lookupID []byte,
	data []byte,
) error {
	if _, err := s.db.ExecContext(
		ctx, queryUpsertGroup, id, lookupID, data,
	); err != nil {
		return fmt.Errorf(
			"%w: upsert privacy group: %v", model.ErrPersistence, err,
		)
	}
	return nil
}

func (s *SQLStore) RetrieveGroup( // A
	ctx context.Context,
	id []byte,
) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, querySelectGroup, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf(
			"%w: select privacy group: %v", model.ErrPersistence, err,
		)
	}
	return data, true, nil
}

func (s *SQLStore) FindGroupsByLookupID( // A
	ctx context.Context,
	lookupID []byte,
) ([][]byte, error) {
	return s.queryGroups(ctx, queryLookupGroups, lookupID)
}

func (s *SQLStore) RetrieveAllGroups( // A
	ctx context.Context,
) ([][]byte, error) {
	return s.queryGroups(ctx, querySelectGroups)
}

func (s *SQLStore) queryGroups( // A
	ctx context.Context,
	query string,
	args ...any,
) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: select privacy groups: %v", model.ErrPersistence, err,
		)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", model.ErrPersistence, err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", model.ErrPersistence, err)
	}
	return out, nil
}
