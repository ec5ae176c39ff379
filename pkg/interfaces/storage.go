package interfaces

import (
	"context"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// TransactionStore is the content-addressed store of
// encrypted transactions.
type TransactionStore interface { // A
	// Save inserts tx unless a row with the same hash
	// exists. created is false for a duplicate.
	Save(
		ctx context.Context,
		tx model.EncryptedTransaction,
	) (created bool, err error)
	// RetrieveByHash reports absence with found=false
	// and a nil error.
	RetrieveByHash(
		ctx context.Context,
		hash model.MessageHash,
	) (tx model.EncryptedTransaction, found bool, err error)
	RetrieveAll(
		ctx context.Context,
		offset int,
		limit int,
	) ([]model.EncryptedTransaction, error)
	// RetrieveAfter returns up to limit rows whose
	// hash sorts after the given one, in hash order.
	// The zero hash starts from the first row.
	RetrieveAfter(
		ctx context.Context,
		after model.MessageHash,
		limit int,
	) ([]model.EncryptedTransaction, error)
	Count(ctx context.Context) (int64, error)
	// Delete is idempotent.
	Delete(
		ctx context.Context,
		hash model.MessageHash,
	) error
	Upcheck(ctx context.Context) error
	Close() error
}

// PayloadCodec converts payloads to and from their
// wire form.
type PayloadCodec interface { // A
	Encode(payload model.EncodedPayload) ([]byte, error)
	Decode(data []byte) (model.EncodedPayload, error)
}
