// Package privacy is a privacy manager node. It
// encrypts private transactions for their
// recipients, stores them by content hash and keeps
// the copies held by its peers in sync.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-privacy/internal/config"
	"github.com/i5heu/ouroboros-privacy/internal/enclave"
	"github.com/i5heu/ouroboros-privacy/internal/encoding"
	"github.com/i5heu/ouroboros-privacy/internal/keys"
	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/internal/partyinfo"
	validation "github.com/i5heu/ouroboros-privacy/internal/privacy"
	"github.com/i5heu/ouroboros-privacy/internal/privacygroup"
	"github.com/i5heu/ouroboros-privacy/internal/resend"
	"github.com/i5heu/ouroboros-privacy/internal/scheduler"
	"github.com/i5heu/ouroboros-privacy/internal/store"
	"github.com/i5heu/ouroboros-privacy/internal/transaction"
	"github.com/i5heu/ouroboros-privacy/internal/transport"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

var (
	ErrNotStarted = errors.New("privacy: node not started")
	ErrClosed     = errors.New("privacy: node closed")
)

type (
	SendRequest     = transaction.SendRequest
	SendResponse    = transaction.SendResponse
	ReceiveRequest  = transaction.ReceiveRequest
	ReceiveResponse = transaction.ReceiveResponse
	StoreResult     = transaction.StoreResult
	ResendResult    = resend.Result
	FetchResult     = resend.FetchResult
	RecoveryReport  = resend.RecoveryReport
)

const shutdownTimeout = 10 * time.Second

// backingStore is a database holding both
// transactions and privacy groups.
type backingStore interface {
	interfaces.TransactionStore
	store.GroupStore
}

// Node is one privacy manager. It owns the store,
// the enclave, the peer transport and the lifecycle
// of background tasks.
type Node struct {
	log      *slog.Logger
	config   Config
	settings config.Config
	metrics  *metrics.Metrics

	backing backingStore
	store   interfaces.TransactionStore
	enclave *enclave.Enclave
	parties *partyinfo.Service
	poller  *partyinfo.Poller
	tx      *transaction.Manager
	groups  *privacygroup.Manager
	resend  *resend.Manager
	tasks   scheduler.Group

	quic       *transport.QUICTransport
	servers    []*http.Server
	serveWG    sync.WaitGroup
	listenAddr string

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

var _ interfaces.PeerHandler = (*Node)(nil)

// New validates the configuration. New does not
// perform I/O; call Start to open the node.
func New(conf Config) (*Node, error) { // A
	settings := conf.Settings
	settings.ApplyDefaults()
	validate := settings.Validate
	if conf.KeyProvider != nil {
		validate = settings.ValidateExternalKeys
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger(settings)
	}
	if conf.Metrics == nil {
		conf.Metrics = metrics.New()
	}
	return &Node{
		log:      conf.Logger,
		config:   conf,
		settings: settings,
		metrics:  conf.Metrics,
	}, nil
}

// Start opens storage and keys, wires every
// component and starts serving peers. Only the
// first call has effect.
func (n *Node) Start(ctx context.Context) error { // A
	var startErr error
	n.startOnce.Do(func() {
		if err := n.open(ctx); err != nil {
			startErr = err
			_ = n.Close(ctx)
			return
		}
		n.started.Store(true)
		n.log.Info("privacy node started",
			"url", n.URL(),
			"transport", n.transportName(),
			"keys", len(n.enclave.PublicKeys()))
	})
	return startErr
}

func (n *Node) open(ctx context.Context) error { // A
	s := n.settings

	backing, err := n.openStore(ctx)
	if err != nil {
		return err
	}
	n.backing = backing
	n.store = backing
	if s.Storage.CacheSize > 0 {
		cached, err := store.NewCachedStore(backing, s.Storage.CacheSize)
		if err != nil {
			return err
		}
		n.store = cached
	}

	codec, err := encoding.NewCodec(s.Storage.Codec)
	if err != nil {
		return err
	}
	forwarding, err := config.ParseKeys(s.Keys.ForwardingKeys)
	if err != nil {
		return err
	}
	mandatory, err := config.ParseKeys(s.Keys.MandatoryRecipients)
	if err != nil {
		return err
	}
	provider := n.config.KeyProvider
	if provider == nil {
		provider = keys.NewFileProvider(s.Keys.KeyFiles)
	}
	n.enclave, err = enclave.New(enclave.Config{
		Provider:       provider,
		ForwardingKeys: forwarding,
		Logger:         n.component("enclave"),
	})
	if err != nil {
		return fmt.Errorf("init enclave: %w", err)
	}

	validator, err := validation.NewValidator(validation.Config{
		Store:           n.store,
		Codec:           codec,
		EnhancedPrivacy: s.Features.EnhancedPrivacy,
		Logger:          n.component("privacy"),
	})
	if err != nil {
		return err
	}
	n.parties = partyinfo.New(partyinfo.Config{
		URL:                  s.Server.AdvertisedURL,
		Keys:                 n.enclave,
		Peers:                s.Peers,
		DisablePeerDiscovery: s.Features.DisablePeerDiscovery,
		Metrics:              n.metrics,
		Logger:               n.component("partyinfo"),
	})

	client, err := n.openClient()
	if err != nil {
		return err
	}
	retry := transport.RetryPolicy{
		Attempts: s.Resend.MaxAttempts,
		Base:     s.Resend.Backoff,
	}

	n.tx, err = transaction.New(transaction.Config{
		Enclave:             n.enclave,
		Store:               n.store,
		Codec:               codec,
		Validator:           validator,
		Discovery:           n.parties,
		Client:              client,
		MandatoryRecipients: mandatory,
		PublishWorkers:      s.Resend.PublishWorkers,
		Retry:               retry,
		Metrics:             n.metrics,
		Logger:              n.component("transaction"),
	})
	if err != nil {
		return err
	}
	n.groups, err = privacygroup.New(privacygroup.Config{
		Store:     n.backing,
		Keys:      n.enclave,
		Discovery: n.parties,
		Client:    client,
		Retry:     retry,
		Metrics:   n.metrics,
		Logger:    n.component("privacygroup"),
	})
	if err != nil {
		return err
	}
	n.resend, err = resend.New(resend.Config{
		Store:     n.store,
		Codec:     codec,
		Enclave:   n.enclave,
		Discovery: n.parties,
		Client:    client,
		Inbound:   n.tx,
		Lifecycle: n.tx.Lifecycle(),
		BatchSize: s.Resend.BatchSize,
		Retry:     retry,
		Metrics:   n.metrics,
		Logger:    n.component("resend"),
	})
	if err != nil {
		return err
	}
	n.poller = partyinfo.NewPoller(
		n.parties,
		client,
		s.Server.RequestTimeout,
		n.component("partyinfo"),
	)

	if err := n.serve(); err != nil {
		return err
	}
	if !n.config.ManualTasks {
		n.tasks.Add(n.poller.Task(), s.PartyInfo.PollInterval)
		n.tasks.Add(n.resend.Task(), s.Resend.HousekeepingInterval)
		n.tasks.Start()
	}
	return nil
}

func (n *Node) component(name string) *slog.Logger {
	return n.log.With("component", name)
}

func (n *Node) transportName() string {
	if n.config.Network != nil {
		return "loopback"
	}
	return n.settings.Server.Transport
}

func (n *Node) openStore(ctx context.Context) (backingStore, error) { // A
	s := n.settings.Storage
	switch s.Kind {
	case config.StorageMySQL:
		return store.OpenSQL(ctx, store.SQLConfig{
			Driver: "mysql",
			DSN:    s.DSN,
			Logger: n.component("store"),
		})
	default:
		return store.OpenBadger(store.BadgerConfig{
			Path:          s.Path,
			InMemory:      n.config.InMemory,
			MinimumFreeGB: s.MinimumFreeGB,
			Logger:        n.component("store"),
		})
	}
}

// openClient returns the outbound side of the
// configured transport. QUIC listens here as well
// since one endpoint dials and accepts.
func (n *Node) openClient() (interfaces.PeerClient, error) { // A
	timeout := n.settings.Server.RequestTimeout
	switch {
	case n.config.Network != nil:
		return n.config.Network.Client(timeout), nil
	case n.settings.Server.Transport == config.TransportQUIC:
		q, err := transport.NewQUICTransport(transport.QUICConfig{
			ListenAddr: n.settings.Server.ListenAddr,
			Handler:    n,
			Timeout:    timeout,
			Logger:     n.component("quic"),
		})
		if err != nil {
			return nil, err
		}
		n.quic = q
		n.listenAddr = q.ListenAddr()
		return q.Client(), nil
	default:
		return transport.NewHTTPClient(nil, timeout), nil
	}
}

func (n *Node) serve() error { // A
	s := n.settings.Server
	switch {
	case n.config.Network != nil:
		n.config.Network.Register(s.AdvertisedURL, n)
	case s.Transport == config.TransportHTTP:
		addr, err := n.listen(s.ListenAddr, transport.NewHTTPHandler(n, n.component("http")))
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.ListenAddr, err)
		}
		n.listenAddr = addr
	}
	if s.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.metrics.Handler())
		if _, err := n.listen(s.MetricsAddr, mux); err != nil {
			return fmt.Errorf("listen metrics %s: %w", s.MetricsAddr, err)
		}
	}
	return nil
}

func (n *Node) listen(addr string, h http.Handler) (string, error) { // A
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: n.settings.Server.RequestTimeout,
	}
	n.servers = append(n.servers, srv)
	n.serveWG.Add(1)
	go func() {
		defer n.serveWG.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("http server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Run starts the node, blocks until ctx is
// canceled and then shuts down within a bounded
// time.
func (n *Node) Run(ctx context.Context) error { // A
	if err := n.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return n.Close(shutdownCtx)
}

// Close stops background tasks and the transport,
// waits for queued publishes and closes storage.
// Close is idempotent.
func (n *Node) Close(ctx context.Context) error { // A
	var closeErr error
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		n.tasks.Stop()

		if n.config.Network != nil {
			n.config.Network.Unregister(n.settings.Server.AdvertisedURL)
		}
		for _, srv := range n.servers {
			if err := srv.Shutdown(ctx); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("shutdown http: %w", err))
			}
		}
		n.serveWG.Wait()
		if n.quic != nil {
			if err := n.quic.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close quic: %w", err))
			}
		}
		if n.tx != nil {
			if err := n.tx.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close transactions: %w", err))
			}
		}
		if n.backing != nil {
			if err := n.backing.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close store: %w", err))
			}
		}
		n.log.Info("privacy node closed")
	})
	return closeErr
}

func (n *Node) ready() error {
	if n.closed.Load() {
		return ErrClosed
	}
	if !n.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// URL is the address peers use to reach this node.
func (n *Node) URL() string {
	return n.settings.Server.AdvertisedURL
}

// ListenAddr is the bound socket address, empty for
// a node on an in-process network.
func (n *Node) ListenAddr() string {
	return n.listenAddr
}

// Metrics returns the node's collectors.
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// PublicKeys lists the keys this node manages.
func (n *Node) PublicKeys() ([]model.PublicKey, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.enclave.PublicKeys(), nil
}

// Send encrypts, stores and publishes a private
// transaction.
func (n *Node) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	if err := n.ready(); err != nil {
		return SendResponse{}, err
	}
	return n.tx.Send(ctx, req)
}

// Receive decrypts a stored transaction.
func (n *Node) Receive(ctx context.Context, req ReceiveRequest) (ReceiveResponse, error) {
	if err := n.ready(); err != nil {
		return ReceiveResponse{}, err
	}
	return n.tx.Receive(ctx, req)
}

// Delete removes a stored transaction.
func (n *Node) Delete(ctx context.Context, hash model.MessageHash) error {
	if err := n.ready(); err != nil {
		return err
	}
	return n.tx.Delete(ctx, hash)
}

// IsSender reports whether this node sent hash.
func (n *Node) IsSender(ctx context.Context, hash model.MessageHash) (bool, error) {
	if err := n.ready(); err != nil {
		return false, err
	}
	return n.tx.IsSender(ctx, hash)
}

// GetParticipants returns the recipient keys of
// hash.
func (n *Node) GetParticipants(ctx context.Context, hash model.MessageHash) ([]model.PublicKey, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.tx.GetParticipants(ctx, hash)
}

// GetMandatoryRecipients returns the mandatory
// recipients of a MANDATORY_RECIPIENTS transaction.
func (n *Node) GetMandatoryRecipients(ctx context.Context, hash model.MessageHash) ([]model.PublicKey, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.tx.GetMandatoryRecipients(ctx, hash)
}

// StorePayloadFromOtherNode stores a payload pushed
// by a peer.
func (n *Node) StorePayloadFromOtherNode(ctx context.Context, data []byte) (StoreResult, error) {
	if err := n.ready(); err != nil {
		return StoreResult{}, err
	}
	return n.tx.StorePayloadFromOtherNode(ctx, data)
}

// AddListener registers l for inbound transactions.
func (n *Node) AddListener(l transaction.Listener) error {
	if err := n.ready(); err != nil {
		return err
	}
	n.tx.AddListener(l)
	return nil
}

// ResendAll republishes every transaction involving
// key to the node that serves it.
func (n *Node) ResendAll(ctx context.Context, key model.PublicKey) (ResendResult, error) {
	if err := n.ready(); err != nil {
		return ResendResult{}, err
	}
	return n.resend.ResendAll(ctx, key)
}

// ResendIndividual returns the copy of hash that
// belongs to key.
func (n *Node) ResendIndividual(
	ctx context.Context,
	hash model.MessageHash,
	key model.PublicKey,
) ([]byte, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.resend.ResendIndividual(ctx, hash, key)
}

// RequestResend pulls every transaction involving
// key from the peer at url.
func (n *Node) RequestResend(ctx context.Context, url string, key model.PublicKey) (FetchResult, error) {
	if err := n.ready(); err != nil {
		return FetchResult{}, err
	}
	return n.resend.RequestResendFromPeer(ctx, url, key)
}

// Recover pulls the transactions of every local key
// from every known peer.
func (n *Node) Recover(ctx context.Context) (RecoveryReport, error) {
	if err := n.ready(); err != nil {
		return RecoveryReport{}, err
	}
	return n.resend.Recover(ctx)
}

// GetPartyInfo returns this node's view of the
// network.
func (n *Node) GetPartyInfo() (model.NodeInfo, error) {
	if err := n.ready(); err != nil {
		return model.NodeInfo{}, err
	}
	return n.parties.GetCurrentNodeInfo(), nil
}

// UpdatePartyInfo merges what a peer reports.
func (n *Node) UpdatePartyInfo(remote model.NodeInfo) (model.NodeInfo, error) {
	if err := n.ready(); err != nil {
		return model.NodeInfo{}, err
	}
	return n.parties.UpdateFromRemote(remote)
}

// PollPartyInfo runs one party info round against
// every known peer.
func (n *Node) PollPartyInfo(ctx context.Context) error {
	if err := n.ready(); err != nil {
		return err
	}
	return n.poller.PollOnce(ctx)
}

// RemoveRecipients drops every route pointing at
// url and returns how many were removed.
func (n *Node) RemoveRecipients(url string) (int, error) {
	if err := n.ready(); err != nil {
		return 0, err
	}
	return n.parties.RemoveRecipient(url), nil
}

// CreatePrivacyGroup creates and distributes a
// privacy group.
func (n *Node) CreatePrivacyGroup(
	ctx context.Context,
	name string,
	description string,
	from model.PublicKey,
	members []model.PublicKey,
	seed []byte,
) (model.PrivacyGroup, error) {
	if err := n.ready(); err != nil {
		return model.PrivacyGroup{}, err
	}
	return n.groups.CreatePrivacyGroup(ctx, name, description, from, members, seed)
}

// FindPrivacyGroup returns the active groups with
// exactly members.
func (n *Node) FindPrivacyGroup(ctx context.Context, members []model.PublicKey) ([]model.PrivacyGroup, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.groups.FindPrivacyGroup(ctx, members)
}

// RetrievePrivacyGroup loads a group by id.
func (n *Node) RetrievePrivacyGroup(ctx context.Context, id []byte) (model.PrivacyGroup, error) {
	if err := n.ready(); err != nil {
		return model.PrivacyGroup{}, err
	}
	return n.groups.RetrievePrivacyGroup(ctx, id)
}

// DeletePrivacyGroup marks a group deleted on behalf
// of from and tells the other members.
func (n *Node) DeletePrivacyGroup(
	ctx context.Context,
	from model.PublicKey,
	id []byte,
) (model.PrivacyGroup, error) {
	if err := n.ready(); err != nil {
		return model.PrivacyGroup{}, err
	}
	return n.groups.DeletePrivacyGroup(ctx, from, id)
}

// PrivacyGroups exposes the privacy group manager
// for the less common group operations.
func (n *Node) PrivacyGroups() (*privacygroup.Manager, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.groups, nil
}
