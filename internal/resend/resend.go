// Package resend republishes stored transactions to
// peers and pulls missing ones back from them.
package resend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/internal/transaction"
	"github.com/i5heu/ouroboros-privacy/internal/transport"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const defaultBatchSize = 100

// Inbound stores payloads received from peers.
type Inbound interface {
	StoreVerifiedPayload(
		ctx context.Context,
		claimed model.MessageHash,
		data []byte,
	) (transaction.StoreResult, error)
}

// Config wires a Manager.
type Config struct {
	Store     interfaces.TransactionStore
	Codec     interfaces.PayloadCodec
	Enclave   interfaces.Enclave
	Discovery interfaces.Discovery
	Client    interfaces.PeerClient
	Inbound   Inbound
	// Lifecycle, when set, is advanced to RESENDABLE
	// for every republished transaction.
	Lifecycle *transaction.Lifecycle
	// BatchSize bounds both the store page and the
	// size of one PUSH_BATCH.
	BatchSize int
	Retry     transport.RetryPolicy
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Manager runs resend and recovery.
type Manager struct { // A
	store     interfaces.TransactionStore
	codec     interfaces.PayloadCodec
	enclave   interfaces.Enclave
	discovery interfaces.Discovery
	client    interfaces.PeerClient
	inbound   Inbound
	lifecycle *transaction.Lifecycle
	batchSize int
	retry     transport.RetryPolicy
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New checks the wiring.
func New(cfg Config) (*Manager, error) { // A
	switch {
	case cfg.Store == nil:
		return nil, errors.New("resend: store is required")
	case cfg.Codec == nil:
		return nil, errors.New("resend: codec is required")
	case cfg.Enclave == nil:
		return nil, errors.New("resend: enclave is required")
	case cfg.Discovery == nil:
		return nil, errors.New("resend: discovery is required")
	case cfg.Client == nil:
		return nil, errors.New("resend: peer client is required")
	case cfg.Inbound == nil:
		return nil, errors.New("resend: inbound store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:     cfg.Store,
		codec:     cfg.Codec,
		enclave:   cfg.Enclave,
		discovery: cfg.Discovery,
		client:    cfg.Client,
		inbound:   cfg.Inbound,
		lifecycle: cfg.Lifecycle,
		batchSize: cfg.BatchSize,
		retry:     cfg.Retry,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}, nil
}

// Result counts the outcome of ResendAll.
type Result struct {
	Total     int
	Published int
	Failed    int
}

// view returns the copy of payload that belongs to
// key, or false when key takes no part in it.
// Transactions sent by key are returned as stored.
func (m *Manager) view( // A
	payload model.EncodedPayload,
	key model.PublicKey,
	managed []model.PublicKey,
) (model.EncodedPayload, bool) {
	if payload.SenderKey == key {
		return payload, true
	}
	if !model.ContainsKey(managed, payload.SenderKey) {
		return model.EncodedPayload{}, false
	}
	if !model.ContainsKey(payload.RecipientKeys, key) {
		return model.EncodedPayload{}, false
	}
	return transaction.PeerView(payload, []model.PublicKey{key}), true
}

// item is one stored transaction prepared for key.
type item struct {
	hash model.MessageHash
	data []byte
}

// scan walks the store in hash order starting after
// the cursor and collects the prepared items for key
// until limit items are found or the store ends. next
// is the hash of the last row examined; more is
// false once the store is exhausted. Rows that do
// not decode are logged and skipped.
func (m *Manager) scan( // A
	ctx context.Context,
	key model.PublicKey,
	after model.MessageHash,
	limit int,
) (items []item, next model.MessageHash, more bool, err error) {
	managed := m.enclave.PublicKeys()
	next = after
	for {
		if err := ctx.Err(); err != nil {
			return nil, next, false, err
		}
		rows, err := m.store.RetrieveAfter(ctx, next, m.batchSize)
		if err != nil {
			return nil, next, false, err
		}
		for _, row := range rows {
			next = row.Hash
			payload, err := m.codec.Decode(row.EncodedPayload)
			if err != nil {
				m.log.Warn("skipping undecodable transaction",
					"hash", row.Hash.String(),
					"error", err)
				continue
			}
			v, ok := m.view(payload, key, managed)
			if !ok {
				continue
			}
			data := row.EncodedPayload
			if v.SenderKey != key {
				if data, err = m.codec.Encode(v); err != nil {
					return nil, next, false, err
				}
			}
			items = append(items, item{hash: row.Hash, data: data})
			if len(items) >= limit {
				return items, next, true, nil
			}
		}
		if len(rows) < m.batchSize {
			return items, next, false, nil
		}
	}
}

// ResendAll republishes every transaction involving
// key to the node serving key. Network failures are
// counted, not returned.
func (m *Manager) ResendAll( // A
	ctx context.Context,
	key model.PublicKey,
) (Result, error) {
	url, err := m.discovery.RecipientURL(key)
	if err != nil {
		return Result{}, err
	}
	if m.discovery.IsLocalURL(url) {
		return Result{}, fmt.Errorf(
			"%w: key %s is managed by this node",
			model.ErrPrivacyValidation,
			key,
		)
	}

	var (
		res    Result
		cursor model.MessageHash
	)
	for {
		items, next, more, scanErr := m.scan(ctx, key, cursor, m.batchSize)
		if scanErr != nil {
			err = scanErr
			break
		}
		if len(items) > 0 {
			res.Total += len(items)
			published, failed := m.pushBatch(ctx, url, items)
			res.Published += published
			res.Failed += failed
		}
		if !more {
			break
		}
		cursor = next
	}
	m.metrics.ResendPublished.Add(float64(res.Published))
	m.metrics.ResendFailed.Add(float64(res.Failed))
	m.log.Info("resend finished",
		"key", key.String(),
		"peer", url,
		"total", res.Total,
		"published", res.Published,
		"failed", res.Failed)
	return res, err
}

func (m *Manager) pushBatch( // A
	ctx context.Context,
	url string,
	items []item,
) (published int, failed int) {
	payloads := make([][]byte, len(items))
	for i := range items {
		payloads[i] = items[i].data
	}
	var acks []interfaces.PushAck
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		acks, err = m.client.PushBatch(ctx, url, payloads)
		return err
	})
	if err != nil {
		m.log.Warn("resend batch failed",
			"peer", url,
			"items", len(items),
			"error", err)
		return 0, len(items)
	}
	for i, ack := range acks {
		if ack.Error != "" || ack.Hash != items[i].hash {
			m.log.Debug("resend item rejected",
				"peer", url,
				"hash", items[i].hash.String(),
				"error", ack.Error)
			failed++
			continue
		}
		published++
		if m.lifecycle != nil {
			_ = m.lifecycle.Advance(items[i].hash, model.TxResendable)
		}
	}
	return published, failed
}

// ResendIndividual returns the encoded copy of hash
// that belongs to key.
func (m *Manager) ResendIndividual( // A
	ctx context.Context,
	hash model.MessageHash,
	key model.PublicKey,
) ([]byte, error) {
	tx, found, err := m.store.RetrieveByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", model.ErrTransactionNotFound, hash)
	}
	payload, err := m.codec.Decode(tx.EncodedPayload)
	if err != nil {
		return nil, err
	}
	v, ok := m.view(payload, key, m.enclave.PublicKeys())
	if !ok {
		return nil, fmt.Errorf(
			"%w: %s is not a party to %s",
			model.ErrKeyNotFound,
			key,
			hash,
		)
	}
	if v.SenderKey == key {
		return tx.EncodedPayload, nil
	}
	return m.codec.Encode(v)
}

// HandleResendRequest answers one page of a peer's
// RESEND_REQUEST. The page holds at most the
// requested limit, capped at the batch size.
func (m *Manager) HandleResendRequest( // A
	ctx context.Context,
	req interfaces.ResendRequest,
) (interfaces.ResendPage, error) {
	limit := req.Limit
	if limit <= 0 || limit > m.batchSize {
		limit = m.batchSize
	}
	items, next, more, err := m.scan(ctx, req.Key, req.After, limit)
	if err != nil {
		return interfaces.ResendPage{}, err
	}
	page := interfaces.ResendPage{
		Items: make([]interfaces.ResendItem, 0, len(items)),
		Next:  next,
		More:  more,
	}
	for _, it := range items {
		page.Items = append(page.Items, interfaces.ResendItem{Hash: it.hash, Payload: it.data})
	}
	m.log.Debug("serving resend page",
		"key", req.Key.String(),
		"items", len(page.Items),
		"more", more)
	return page, nil
}
