package enclave

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/i5heu/ouroboros-privacy/internal/keys"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const defaultSharedKeyCache = 1024

// Config configures an Enclave.
type Config struct {
	Provider interfaces.KeyProvider
	// ForwardingKeys are added as recipients of every
	// transaction this node sends.
	ForwardingKeys []model.PublicKey
	// SharedKeyCacheSize bounds the precomputed key
	// cache. Zero selects a default.
	SharedKeyCacheSize int
	Logger             *slog.Logger
}

// keySet is an immutable snapshot of the managed
// keys. It is replaced wholesale on refresh.
type keySet struct {
	order   []model.PublicKey
	private map[model.PublicKey]model.PrivateKey
}

func (ks *keySet) lookup(pub model.PublicKey) (model.PrivateKey, bool) {
	priv, ok := ks.private[pub]
	return priv, ok
}

// Enclave holds the managed key pairs and performs
// every encryption and decryption of payloads.
type Enclave struct { // A
	provider   interfaces.KeyProvider
	forwarding []model.PublicKey
	log        *slog.Logger

	keys   atomic.Pointer[keySet]
	status atomic.Uint32
	shared *lru.Cache

	refreshMu sync.Mutex
	random    io.Reader
}

// New loads the key set from the provider.
func New(cfg Config) (*Enclave, error) { // A
	if cfg.Provider == nil {
		return nil, errors.New("enclave: key provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	size := cfg.SharedKeyCacheSize
	if size <= 0 {
		size = defaultSharedKeyCache
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("enclave: shared key cache: %w", err)
	}
	e := &Enclave{
		provider:   cfg.Provider,
		forwarding: model.DedupKeys(cfg.ForwardingKeys),
		log:        cfg.Logger,
		shared:     cache,
		random:     rand.Reader,
	}
	if err := e.Refresh(); err != nil {
		return nil, err
	}
	return e, nil
}

// Refresh re-reads the key provider and atomically
// swaps in the new key set.
func (e *Enclave) Refresh() error { // A
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	pairs, err := e.provider.KeyPairs()
	if err != nil {
		return fmt.Errorf("enclave: load keys: %w", err)
	}
	if len(pairs) == 0 {
		return errors.New("enclave: no managed keys")
	}
	ks := &keySet{
		order:   make([]model.PublicKey, 0, len(pairs)),
		private: make(map[model.PublicKey]model.PrivateKey, len(pairs)),
	}
	for _, p := range pairs {
		if keys.PublicFromPrivate(p.Private) != p.Public {
			return fmt.Errorf(
				"enclave: key pair %s is inconsistent",
				p.Public,
			)
		}
		if _, dup := ks.private[p.Public]; dup {
			continue
		}
		ks.order = append(ks.order, p.Public)
		ks.private[p.Public] = p.Private
	}
	e.keys.Store(ks)
	e.shared.Purge()
	e.log.Info("enclave keys loaded", "count", len(ks.order))
	return nil
}

// Status reports whether the enclave performs
// crypto.
func (e *Enclave) Status() interfaces.EnclaveStatus {
	return interfaces.EnclaveStatus(e.status.Load())
}

// SetStatus marks the enclave up or down.
func (e *Enclave) SetStatus(s interfaces.EnclaveStatus) {
	prev := interfaces.EnclaveStatus(e.status.Swap(uint32(s)))
	if prev != s {
		e.log.Warn("enclave status changed",
			"from", prev.String(),
			"to", s.String())
	}
}

// PublicKeys lists the managed keys in provider
// order. It keeps working while the enclave is
// down.
func (e *Enclave) PublicKeys() []model.PublicKey {
	ks := e.keys.Load()
	return append([]model.PublicKey(nil), ks.order...)
}

// DefaultPublicKey is the first managed key.
func (e *Enclave) DefaultPublicKey() model.PublicKey {
	return e.keys.Load().order[0]
}

// ForwardingKeys lists the always-send-to keys.
func (e *Enclave) ForwardingKeys() []model.PublicKey {
	return append([]model.PublicKey(nil), e.forwarding...)
}

// IsManaged reports whether key belongs to this
// node.
func (e *Enclave) IsManaged(key model.PublicKey) bool {
	_, ok := e.keys.Load().lookup(key)
	return ok
}

// EncryptPayload encrypts message once under a fresh
// master key and wraps that key for every recipient.
func (e *Enclave) EncryptPayload( // A
	message []byte,
	sender model.PublicKey,
	recipients []model.PublicKey,
	meta model.PrivacyMetadata,
) (model.EncodedPayload, error) {
	material, err := e.newMaterial()
	if err != nil {
		return model.EncodedPayload{}, err
	}
	return e.EncryptPayloadWithMaterial(
		message, material, sender, recipients, meta,
	)
}

// EncryptPayloadWithMaterial encrypts with existing
// key material. The same material and message give
// byte-identical cipher text and boxes.
func (e *Enclave) EncryptPayloadWithMaterial( // A
	message []byte,
	material interfaces.MasterKeyMaterial,
	sender model.PublicKey,
	recipients []model.PublicKey,
	meta model.PrivacyMetadata,
) (model.EncodedPayload, error) {
	if err := e.checkUp(); err != nil {
		return model.EncodedPayload{}, err
	}
	if material.CipherTextNonce == material.RecipientNonce {
		return model.EncodedPayload{}, fmt.Errorf(
			"%w: cipher text and recipient nonce must differ",
			model.ErrIntegrity,
		)
	}
	ks := e.keys.Load()
	senderPriv, ok := ks.lookup(sender)
	if !ok {
		return model.EncodedPayload{}, fmt.Errorf(
			"%w: sender key %s is not managed here",
			model.ErrEnclaveUnavailable,
			sender,
		)
	}
	if !meta.Mode.Valid() {
		return model.EncodedPayload{}, fmt.Errorf(
			"%w: invalid privacy mode %d",
			model.ErrPrivacyValidation,
			meta.Mode,
		)
	}

	cipherText := secretbox.Seal(
		nil,
		message,
		(*[model.NonceSize]byte)(&material.CipherTextNonce),
		(*[model.KeySize]byte)(&material.MasterKey),
	)

	boxes := make([][]byte, len(recipients))
	for i, r := range recipients {
		if r.IsZero() {
			return model.EncodedPayload{}, fmt.Errorf(
				"%w: recipient %d has an empty key",
				model.ErrKeyNotFound,
				i,
			)
		}
		boxes[i] = e.sealMasterKey(
			material.MasterKey,
			material.RecipientNonce,
			r,
			sender,
			senderPriv,
		)
	}

	payload := model.EncodedPayload{
		SenderKey:           sender,
		CipherText:          cipherText,
		CipherTextNonce:     material.CipherTextNonce,
		RecipientBoxes:      boxes,
		RecipientNonce:      material.RecipientNonce,
		RecipientKeys:       append([]model.PublicKey(nil), recipients...),
		PrivacyMode:         meta.Mode,
		ExecHash:            append([]byte(nil), meta.ExecHash...),
		MandatoryRecipients: model.DedupKeys(meta.MandatoryRecipients),
		PrivacyGroupID:      append([]byte(nil), meta.PrivacyGroupID...),
	}
	if len(meta.AffectedTransactions) > 0 {
		payload.AffectedContractTransactions = make(
			map[model.MessageHash][]byte,
			len(meta.AffectedTransactions),
		)
		for _, a := range meta.AffectedTransactions {
			sec, err := e.securityHash(cipherText, a.Payload)
			if err != nil {
				return model.EncodedPayload{}, fmt.Errorf(
					"security hash for %s: %w", a.Hash, err,
				)
			}
			payload.AffectedContractTransactions[a.Hash] = sec
		}
	}
	return payload, nil
}

// RecoverMaterial opens a box of payload with any
// managed key and returns the key material.
func (e *Enclave) RecoverMaterial( // A
	payload model.EncodedPayload,
) (interfaces.MasterKeyMaterial, error) {
	if err := e.checkUp(); err != nil {
		return interfaces.MasterKeyMaterial{}, err
	}
	ks := e.keys.Load()
	for _, k := range ks.order {
		master, err := e.openMasterKey(ks, payload, k)
		if err == nil {
			return interfaces.MasterKeyMaterial{
				MasterKey:       master,
				CipherTextNonce: payload.CipherTextNonce,
				RecipientNonce:  payload.RecipientNonce,
			}, nil
		}
	}
	return interfaces.MasterKeyMaterial{}, fmt.Errorf(
		"%w: no managed key opens payload %s",
		model.ErrEnclaveUnavailable,
		payload.Hash(),
	)
}

// DecryptPayload opens payload as identity. A
// sender may always open its own transactions.
func (e *Enclave) DecryptPayload( // A
	payload model.EncodedPayload,
	identity model.PublicKey,
) ([]byte, error) {
	if err := e.checkUp(); err != nil {
		return nil, err
	}
	master, err := e.openMasterKey(e.keys.Load(), payload, identity)
	if err != nil {
		return nil, err
	}
	plain, ok := secretbox.Open(
		nil,
		payload.CipherText,
		(*[model.NonceSize]byte)(&payload.CipherTextNonce),
		(*[model.KeySize]byte)(&master),
	)
	if !ok {
		return nil, fmt.Errorf(
			"%w: cipher text does not authenticate",
			model.ErrIntegrity,
		)
	}
	return plain, nil
}

// CreateNewRecipientBox wraps the payload's master
// key for an additional recipient. Only the sender
// can do this.
func (e *Enclave) CreateNewRecipientBox( // A
	payload model.EncodedPayload,
	recipient model.PublicKey,
) ([]byte, error) {
	if err := e.checkUp(); err != nil {
		return nil, err
	}
	ks := e.keys.Load()
	senderPriv, ok := ks.lookup(payload.SenderKey)
	if !ok {
		return nil, fmt.Errorf(
			"%w: sender key %s is not managed here",
			model.ErrEnclaveUnavailable,
			payload.SenderKey,
		)
	}
	material, err := e.RecoverMaterial(payload)
	if err != nil {
		return nil, err
	}
	return e.sealMasterKey(
		material.MasterKey,
		payload.RecipientNonce,
		recipient,
		payload.SenderKey,
		senderPriv,
	), nil
}

// FindInvalidSecurityHashes checks every affected
// transaction payload claims. A claim is invalid
// when the transaction is not in affected or its
// recomputed security hash differs.
func (e *Enclave) FindInvalidSecurityHashes( // A
	payload model.EncodedPayload,
	affected []model.AffectedTransaction,
) ([]model.MessageHash, error) {
	if err := e.checkUp(); err != nil {
		return nil, err
	}
	known := make(map[model.MessageHash]model.EncodedPayload, len(affected))
	for _, a := range affected {
		known[a.Hash] = a.Payload
	}
	var invalid []model.MessageHash
	for h, claimed := range payload.AffectedContractTransactions {
		local, ok := known[h]
		if !ok {
			invalid = append(invalid, h)
			continue
		}
		expected, err := e.securityHash(payload.CipherText, local)
		if err != nil || !constantTimeEqual(claimed, expected) {
			invalid = append(invalid, h)
		}
	}
	model.SortHashes(invalid)
	return invalid, nil
}

func (e *Enclave) checkUp() error {
	if e.Status() == interfaces.EnclaveDown {
		return fmt.Errorf("%w: enclave is down", model.ErrEnclaveUnavailable)
	}
	return nil
}

func (e *Enclave) newMaterial() (interfaces.MasterKeyMaterial, error) { // A
	var m interfaces.MasterKeyMaterial
	if _, err := io.ReadFull(e.random, m.MasterKey[:]); err != nil {
		return m, fmt.Errorf("generate master key: %w", err)
	}
	if _, err := io.ReadFull(e.random, m.CipherTextNonce[:]); err != nil {
		return m, fmt.Errorf("generate nonce: %w", err)
	}
	for {
		if _, err := io.ReadFull(e.random, m.RecipientNonce[:]); err != nil {
			return m, fmt.Errorf("generate recipient nonce: %w", err)
		}
		if m.RecipientNonce != m.CipherTextNonce {
			return m, nil
		}
	}
}
