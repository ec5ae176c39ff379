// Package transaction encrypts, stores, publishes
// and decrypts private transactions.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/internal/privacy"
	"github.com/i5heu/ouroboros-privacy/internal/transport"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const defaultPublishWorkers = 8

// Listener is told about every newly stored inbound
// transaction, once per local recipient key.
type Listener func(hash model.MessageHash, recipient model.PublicKey)

// Config wires a Manager.
type Config struct {
	Enclave   interfaces.Enclave
	Store     interfaces.TransactionStore
	Codec     interfaces.PayloadCodec
	Validator *privacy.Validator
	Discovery interfaces.Discovery
	Client    interfaces.PeerClient
	// MandatoryRecipients are added to every
	// MANDATORY_RECIPIENTS transaction sent here.
	MandatoryRecipients []model.PublicKey
	PublishWorkers      int
	Retry               transport.RetryPolicy
	LifecycleSize       int
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
}

// Manager is the transaction manager of one node.
type Manager struct { // A
	enclave   interfaces.Enclave
	store     interfaces.TransactionStore
	codec     interfaces.PayloadCodec
	validator *privacy.Validator
	discovery interfaces.Discovery
	client    interfaces.PeerClient
	mandatory []model.PublicKey
	retry     transport.RetryPolicy
	lifecycle *Lifecycle
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	log       *slog.Logger

	listenerMu sync.RWMutex
	listeners  []Listener
	closeOnce  sync.Once
}

// New checks the wiring and starts the publish pool.
func New(cfg Config) (*Manager, error) { // A
	var missing []string
	if cfg.Enclave == nil {
		missing = append(missing, "enclave")
	}
	if cfg.Store == nil {
		missing = append(missing, "store")
	}
	if cfg.Codec == nil {
		missing = append(missing, "codec")
	}
	if cfg.Validator == nil {
		missing = append(missing, "validator")
	}
	if cfg.Discovery == nil {
		missing = append(missing, "discovery")
	}
	if cfg.Client == nil {
		missing = append(missing, "peer client")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("transaction manager: missing %v", missing)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.PublishWorkers <= 0 {
		cfg.PublishWorkers = defaultPublishWorkers
	}
	lc, err := NewLifecycle(cfg.LifecycleSize, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		enclave:   cfg.Enclave,
		store:     cfg.Store,
		codec:     cfg.Codec,
		validator: cfg.Validator,
		discovery: cfg.Discovery,
		client:    cfg.Client,
		mandatory: model.DedupKeys(cfg.MandatoryRecipients),
		retry:     cfg.Retry,
		lifecycle: lc,
		pool:      workerpool.New(cfg.PublishWorkers),
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}, nil
}

// Lifecycle exposes the state tracker.
func (m *Manager) Lifecycle() *Lifecycle {
	return m.lifecycle
}

// AddListener registers l for inbound stores.
func (m *Manager) AddListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Close waits for queued publishes to finish.
func (m *Manager) Close() error {
	m.closeOnce.Do(m.pool.StopWait)
	return nil
}

// SendRequest is a transaction to encrypt and
// distribute.
type SendRequest struct {
	Payload []byte
	// Sender defaults to the enclave's default key.
	Sender               model.PublicKey
	Recipients           []model.PublicKey
	PrivacyMode          model.PrivacyMode
	AffectedTransactions []model.MessageHash
	ExecHash             []byte
	MandatoryRecipients  []model.PublicKey
	PrivacyGroupID       []byte
}

// SendResponse reports the stored hash and which
// peers could not be reached.
type SendResponse struct {
	Hash           model.MessageHash
	ManagedParties []model.PublicKey
	Sender         model.PublicKey
	// FailedPeers could not be published to. The
	// transaction is stored locally regardless and
	// can be resent later.
	FailedPeers []string
}

// Send validates, encrypts, stores and publishes a
// transaction. Nothing is written unless every
// check passes, and the local commit always happens
// before any peer is contacted.
func (m *Manager) Send( // A
	ctx context.Context,
	req SendRequest,
) (SendResponse, error) {
	sender := req.Sender
	if sender.IsZero() {
		sender = m.enclave.DefaultPublicKey()
	}
	managed := m.enclave.PublicKeys()
	if !model.ContainsKey(managed, sender) {
		return SendResponse{}, fmt.Errorf(
			"%w: sender %s is not managed by this node",
			model.ErrKeyNotFound,
			sender,
		)
	}

	mandatory := model.DedupKeys(req.MandatoryRecipients)
	if req.PrivacyMode == model.MandatoryRecipients {
		mandatory = model.DedupKeys(append(mandatory, m.mandatory...))
	}
	recipients := make([]model.PublicKey, 0, len(req.Recipients)+1)
	recipients = append(recipients, req.Recipients...)
	recipients = append(recipients, sender)
	recipients = append(recipients, m.enclave.ForwardingKeys()...)
	if req.PrivacyMode == model.MandatoryRecipients {
		recipients = append(recipients, mandatory...)
	}
	recipients = model.DedupKeys(recipients)

	affected, err := m.validator.FindAffectedFromSendRequest(ctx, req.AffectedTransactions)
	if err != nil {
		return SendResponse{}, err
	}
	if err := m.validator.ValidateSendRequest(privacy.SendRequest{
		Mode:                req.PrivacyMode,
		Recipients:          recipients,
		Affected:            affected,
		MandatoryRecipients: mandatory,
		ExecHash:            req.ExecHash,
	}); err != nil {
		return SendResponse{}, err
	}
	routes, err := m.routes(recipients, managed)
	if err != nil {
		return SendResponse{}, err
	}

	payload, err := m.enclave.EncryptPayload(req.Payload, sender, recipients, model.PrivacyMetadata{
		Mode:                 req.PrivacyMode,
		AffectedTransactions: affected,
		ExecHash:             req.ExecHash,
		MandatoryRecipients:  mandatory,
		PrivacyGroupID:       req.PrivacyGroupID,
	})
	if err != nil {
		return SendResponse{}, err
	}
	hash := payload.Hash()
	m.lifecycle.begin(hash)

	encoded, err := m.codec.Encode(payload)
	if err != nil {
		return SendResponse{}, err
	}
	if _, err := m.store.Save(ctx, model.EncryptedTransaction{
		Hash:           hash,
		EncodedPayload: encoded,
	}); err != nil {
		return SendResponse{}, err
	}
	_ = m.lifecycle.Advance(hash, model.TxStored)
	m.metrics.TransactionsSent.Inc()
	m.log.Debug("transaction stored",
		"hash", hash.String(),
		"mode", req.PrivacyMode.String(),
		"recipients", len(recipients))

	failed := m.publish(ctx, hash, payload, routes)
	if len(failed) == 0 {
		_ = m.lifecycle.Advance(hash, model.TxDistributed)
	}

	return SendResponse{
		Hash:           hash,
		ManagedParties: managedParties(payload, managed),
		Sender:         sender,
		FailedPeers:    failed,
	}, nil
}

// routes groups remote recipients by the URL of the
// node serving them. Every remote key must resolve.
func (m *Manager) routes( // A
	recipients []model.PublicKey,
	managed []model.PublicKey,
) (map[string][]model.PublicKey, error) {
	out := make(map[string][]model.PublicKey)
	for _, k := range recipients {
		if model.ContainsKey(managed, k) {
			continue
		}
		u, err := m.discovery.RecipientURL(k)
		if err != nil {
			return nil, err
		}
		if m.discovery.IsLocalURL(u) {
			continue
		}
		out[u] = append(out[u], k)
	}
	return out, nil
}

// ReceiveRequest names a stored transaction and the
// local key to open it with. A zero Recipient tries
// every managed key.
type ReceiveRequest struct {
	Hash      model.MessageHash
	Recipient model.PublicKey
}

// ReceiveResponse is a decrypted transaction.
type ReceiveResponse struct {
	Payload              []byte
	PrivacyMode          model.PrivacyMode
	AffectedTransactions []model.MessageHash
	ExecHash             []byte
	ManagedParties       []model.PublicKey
	Sender               model.PublicKey
	PrivacyGroupID       []byte
}

// Receive decrypts a stored transaction.
func (m *Manager) Receive( // A
	ctx context.Context,
	req ReceiveRequest,
) (ReceiveResponse, error) {
	payload, err := m.load(ctx, req.Hash)
	if err != nil {
		return ReceiveResponse{}, err
	}
	if m.enclave.Status() == interfaces.EnclaveDown {
		return ReceiveResponse{}, fmt.Errorf("%w: enclave is down", model.ErrEnclaveUnavailable)
	}
	managed := m.enclave.PublicKeys()

	var plain []byte
	if !req.Recipient.IsZero() {
		if !model.ContainsKey(managed, req.Recipient) {
			return ReceiveResponse{}, fmt.Errorf(
				"%w: recipient %s is not managed by this node",
				model.ErrKeyNotFound,
				req.Recipient,
			)
		}
		plain, err = m.enclave.DecryptPayload(payload, req.Recipient)
		if errors.Is(err, model.ErrEnclaveUnavailable) {
			return ReceiveResponse{}, fmt.Errorf(
				"%w: %s cannot open %s: %v",
				model.ErrKeyNotFound,
				req.Recipient,
				req.Hash,
				err,
			)
		}
		if err != nil {
			return ReceiveResponse{}, err
		}
	} else {
		plain, err = m.decryptWithAny(payload, managed)
		if err != nil {
			return ReceiveResponse{}, err
		}
	}

	return ReceiveResponse{
		Payload:              plain,
		PrivacyMode:          payload.PrivacyMode,
		AffectedTransactions: payload.AffectedHashes(),
		ExecHash:             payload.ExecHash,
		ManagedParties:       managedParties(payload, managed),
		Sender:               payload.SenderKey,
		PrivacyGroupID:       payload.PrivacyGroupID,
	}, nil
}

func (m *Manager) decryptWithAny( // A
	payload model.EncodedPayload,
	managed []model.PublicKey,
) ([]byte, error) {
	candidates := make([]model.PublicKey, 0, len(managed))
	if model.ContainsKey(managed, payload.SenderKey) {
		candidates = append(candidates, payload.SenderKey)
	}
	candidates = append(candidates, managed...)
	var lastErr error
	for _, k := range model.DedupKeys(candidates) {
		plain, err := m.enclave.DecryptPayload(payload, k)
		if err == nil {
			return plain, nil
		}
		if errors.Is(err, model.ErrIntegrity) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf(
		"%w: no managed key opens %s: %v",
		model.ErrKeyNotFound,
		payload.Hash(),
		lastErr,
	)
}

// Delete removes a transaction. Deleting an absent
// transaction succeeds.
func (m *Manager) Delete(ctx context.Context, hash model.MessageHash) error { // A
	if err := m.store.Delete(ctx, hash); err != nil {
		return err
	}
	_ = m.lifecycle.Advance(hash, model.TxDeleted)
	m.log.Debug("transaction deleted", "hash", hash.String())
	return nil
}

// IsSender reports whether this node sent hash.
func (m *Manager) IsSender(ctx context.Context, hash model.MessageHash) (bool, error) {
	payload, err := m.load(ctx, hash)
	if err != nil {
		return false, err
	}
	return model.ContainsKey(m.enclave.PublicKeys(), payload.SenderKey), nil
}

// GetParticipants returns the recipient keys of hash.
func (m *Manager) GetParticipants( // A
	ctx context.Context,
	hash model.MessageHash,
) ([]model.PublicKey, error) {
	payload, err := m.load(ctx, hash)
	if err != nil {
		return nil, err
	}
	return payload.RecipientKeys, nil
}

// GetMandatoryRecipients returns the mandatory
// recipients of a MANDATORY_RECIPIENTS transaction.
func (m *Manager) GetMandatoryRecipients( // A
	ctx context.Context,
	hash model.MessageHash,
) ([]model.PublicKey, error) {
	payload, err := m.load(ctx, hash)
	if err != nil {
		return nil, err
	}
	if payload.PrivacyMode != model.MandatoryRecipients {
		return nil, fmt.Errorf(
			"%w: transaction %s is %s, not %s",
			model.ErrPrivacyValidation,
			hash,
			payload.PrivacyMode,
			model.MandatoryRecipients,
		)
	}
	return payload.MandatoryRecipients, nil
}

// Upcheck reports whether storage and enclave are
// usable.
func (m *Manager) Upcheck(ctx context.Context) error { // A
	if m.enclave.Status() == interfaces.EnclaveDown {
		return fmt.Errorf("%w: enclave is down", model.ErrEnclaveUnavailable)
	}
	return m.store.Upcheck(ctx)
}

func (m *Manager) load( // A
	ctx context.Context,
	hash model.MessageHash,
) (model.EncodedPayload, error) {
	tx, found, err := m.store.RetrieveByHash(ctx, hash)
	if err != nil {
		return model.EncodedPayload{}, err
	}
	if !found {
		return model.EncodedPayload{}, fmt.Errorf(
			"%w: %s", model.ErrTransactionNotFound, hash,
		)
	}
	return m.decode(tx.EncodedPayload)
}

func (m *Manager) decode(data []byte) (model.EncodedPayload, error) {
	p, err := m.codec.Decode(data)
	if err != nil && !errors.Is(err, model.ErrIntegrity) {
		err = fmt.Errorf("%w: %v", model.ErrIntegrity, err)
	}
	return p, err
}

// managedParties lists the local keys taking part in
// payload.
func managedParties( // A
	payload model.EncodedPayload,
	managed []model.PublicKey,
) []model.PublicKey {
	var out []model.PublicKey
	if model.ContainsKey(managed, payload.SenderKey) {
		out = append(out, payload.SenderKey)
	}
	for _, k := range payload.OpenableKeys() {
		if model.ContainsKey(managed, k) {
			out = append(out, k)
		}
	}
	return model.DedupKeys(out)
}
