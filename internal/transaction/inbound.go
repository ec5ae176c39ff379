package transaction

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// StoreResult tells what happened to an inbound
// payload.
type StoreResult struct {
	Hash model.MessageHash
	// Created is false when the row already existed.
	Created bool
	// Ignored is true when the payload was dropped
	// because it does not fit the local state, for
	// example an affected transaction with a
	// different privacy mode.
	Ignored bool
}

// StorePayloadFromOtherNode accepts an encoded
// payload pushed by a peer. The hash is always
// recomputed from the cipher text.
func (m *Manager) StorePayloadFromOtherNode( // A
	ctx context.Context,
	data []byte,
) (StoreResult, error) {
	payload, err := m.decode(data)
	if err != nil {
		m.metrics.TransactionsRejected.WithLabelValues("malformed").Inc()
		return StoreResult{}, err
	}
	return m.storeInbound(ctx, payload.Hash(), payload)
}

// StoreVerifiedPayload is StorePayloadFromOtherNode
// for a payload that arrives with a claimed hash, as
// resend items do. A mismatch is an integrity
// violation and nothing is stored.
func (m *Manager) StoreVerifiedPayload( // A
	ctx context.Context,
	claimed model.MessageHash,
	data []byte,
) (StoreResult, error) {
	payload, err := m.decode(data)
	if err != nil {
		m.metrics.TransactionsRejected.WithLabelValues("malformed").Inc()
		return StoreResult{}, err
	}
	hash := payload.Hash()
	if hash != claimed {
		m.metrics.TransactionsRejected.WithLabelValues("hash_mismatch").Inc()
		return StoreResult{}, fmt.Errorf(
			"%w: payload hashes to %s, claimed %s",
			model.ErrIntegrity,
			hash,
			claimed,
		)
	}
	return m.storeInbound(ctx, hash, payload)
}

func (m *Manager) storeInbound( // A
	ctx context.Context,
	hash model.MessageHash,
	payload model.EncodedPayload,
) (StoreResult, error) {
	affected, err := m.validator.FindAffectedFromPayload(ctx, payload)
	if err != nil {
		return StoreResult{}, err
	}
	ok, err := m.validator.ValidatePayload(hash, payload, affected)
	if err != nil {
		m.metrics.TransactionsRejected.WithLabelValues("privacy").Inc()
		return StoreResult{}, err
	}
	if !ok {
		m.metrics.TransactionsRejected.WithLabelValues("ignored").Inc()
		return StoreResult{Hash: hash, Ignored: true}, nil
	}
	invalid, err := m.enclave.FindInvalidSecurityHashes(payload, affected)
	if err != nil {
		return StoreResult{}, err
	}
	payload, err = m.validator.SanitisePayload(hash, payload, invalid)
	if err != nil {
		m.metrics.TransactionsRejected.WithLabelValues("privacy").Inc()
		return StoreResult{}, err
	}

	managed := m.enclave.PublicKeys()
	if model.ContainsKey(managed, payload.SenderKey) {
		payload, err = m.rebuildOwn(payload)
		if err != nil {
			return StoreResult{}, err
		}
	}

	encoded, err := m.codec.Encode(payload)
	if err != nil {
		return StoreResult{}, err
	}
	created, err := m.store.Save(ctx, model.EncryptedTransaction{
		Hash:           hash,
		EncodedPayload: encoded,
	})
	if err != nil {
		return StoreResult{}, err
	}
	if !created {
		m.metrics.TransactionsStored.WithLabelValues("duplicate").Inc()
		return StoreResult{Hash: hash}, nil
	}

	_ = m.lifecycle.Advance(hash, model.TxStored)
	m.metrics.TransactionsStored.WithLabelValues("created").Inc()
	m.log.Debug("inbound transaction stored",
		"hash", hash.String(),
		"mode", payload.PrivacyMode.String())
	m.notify(hash, payload, managed)
	return StoreResult{Hash: hash, Created: true}, nil
}

// rebuildOwn restores the full payload of a
// transaction this node sent from a peer's view of
// it. Boxes are sealed deterministically, so the
// result is byte for byte the original.
func (m *Manager) rebuildOwn( // A
	view model.EncodedPayload,
) (model.EncodedPayload, error) {
	full := view.Clone()
	if len(full.RecipientKeys) == 0 {
		return full, nil
	}
	for i, k := range full.RecipientKeys {
		if len(full.RecipientBoxes[i]) > 0 {
			continue
		}
		box, err := m.enclave.CreateNewRecipientBox(view, k)
		if err != nil {
			return model.EncodedPayload{}, fmt.Errorf(
				"rebuild own transaction %s: %w", view.Hash(), err,
			)
		}
		full.RecipientBoxes[i] = box
	}
	return full, nil
}

func (m *Manager) notify( // A
	hash model.MessageHash,
	payload model.EncodedPayload,
	managed []model.PublicKey,
) {
	m.listenerMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenerMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	for _, k := range managedParties(payload, managed) {
		for _, l := range listeners {
			l(hash, k)
		}
	}
}
