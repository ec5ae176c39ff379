package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
)

const (
	alpnProtocol     = "ouroboros-privacy/1"
	handshakeTimeout = 10 * time.Second
	idleTimeout      = 30 * time.Second
)

// QUICConfig configures a QUICTransport.
type QUICConfig struct {
	ListenAddr string
	// Handler serves inbound requests. A nil handler
	// makes a dial-only transport.
	Handler interfaces.PeerHandler
	Timeout time.Duration
	Logger  *slog.Logger
}

// QUICTransport carries the peer protocol over QUIC.
// Every request uses its own bidirectional stream
// on a cached connection per peer address.
type QUICTransport struct { // A
	mu       sync.Mutex
	conns    map[string]*quic.Conn
	listener *quic.Listener
	dispatch *dispatcher
	tlsCert  tls.Certificate
	timeout  time.Duration
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQUICTransport listens on cfg.ListenAddr and
// starts serving when a handler is given.
func NewQUICTransport(cfg QUICConfig) (*QUICTransport, error) { // A
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf(
			"generate TLS cert: %w", err,
		)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &QUICTransport{
		conns:   make(map[string]*quic.Conn),
		tlsCert: cert,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.Handler == nil {
		return t, nil
	}

	listener, err := quic.ListenAddr(
		cfg.ListenAddr,
		t.serverTLSConfig(),
		t.quicConfig(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf(
			"listen %s: %w", cfg.ListenAddr, err,
		)
	}
	t.listener = listener
	t.dispatch = newDispatcher(cfg.Handler, cfg.Logger)
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// ListenAddr returns the bound address, or "" for a
// dial-only transport.
func (t *QUICTransport) ListenAddr() string { // A
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Client returns a PeerClient using this transport.
func (t *QUICTransport) Client() *Client {
	return newClient(t, t.timeout)
}

// Close stops serving and closes every connection.
func (t *QUICTransport) Close() error { // A
	t.cancel()

	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*quic.Conn)
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseWithError(0, "graceful close")
	}

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.wg.Wait()
	return err
}

func (t *QUICTransport) roundTrip( // A
	ctx context.Context,
	peerURL string,
	msg Message,
) ([]byte, error) {
	addr := hostPort(peerURL)
	conn, err := t.connection(ctx, addr)
	if err != nil {
		return nil, networkError(msg.Type, peerURL, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.forget(addr, conn)
		return nil, networkError(msg.Type, peerURL, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := WriteMessage(stream, msg); err != nil {
		stream.CancelRead(0)
		return nil, networkError(msg.Type, peerURL, err)
	}
	// Closing the stream ends only our send side.
	if err := stream.Close(); err != nil {
		return nil, networkError(msg.Type, peerURL, err)
	}
	resp, err := ReadResponse(stream)
	if err != nil {
		return nil, networkError(msg.Type, peerURL, err)
	}
	if resp.Code != codeOK {
		return nil, remoteError(peerURL, resp.Code, resp.Error)
	}
	return resp.Payload, nil
}

func (t *QUICTransport) connection( // A
	ctx context.Context,
	addr string,
) (*quic.Conn, error) {
	t.mu.Lock()
	c, ok := t.conns[addr]
	t.mu.Unlock()
	if ok && c.Context().Err() == nil {
		return c, nil
	}

	c, err := quic.DialAddr(
		ctx,
		addr,
		t.clientTLSConfig(),
		t.quicConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.conns[addr]; ok && existing.Context().Err() == nil {
		_ = c.CloseWithError(0, "duplicate")
		return existing, nil
	}
	t.conns[addr] = c
	return c, nil
}

func (t *QUICTransport) forget(addr string, c *quic.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[addr] == c {
		delete(t.conns, addr)
	}
}

func (t *QUICTransport) acceptLoop() { // A
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && t.ctx.Err() == nil {
				t.log.Warn("quic accept failed", "error", err)
			}
			return
		}
		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

func (t *QUICTransport) serveConn(conn *quic.Conn) { // A
	defer t.wg.Done()
	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.serveStream(stream)
	}
}

func (t *QUICTransport) serveStream(stream *quic.Stream) { // A
	defer t.wg.Done()
	defer func() { _ = stream.Close() }()

	ctx := t.ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
		_ = stream.SetDeadline(time.Now().Add(t.timeout))
	}
	msg, err := ReadMessage(stream)
	if err != nil {
		t.log.Debug("quic read request failed", "error", err)
		stream.CancelRead(0)
		return
	}
	if err := WriteResponse(stream, t.dispatch.serve(ctx, msg)); err != nil {
		t.log.Debug("quic write response failed", "error", err)
	}
}

func (t *QUICTransport) serverTLSConfig() *tls.Config { // A
	return &tls.Config{
		Certificates: []tls.Certificate{t.tlsCert},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519MLKEM768,
		},
	}
}

func (t *QUICTransport) clientTLSConfig() *tls.Config { // A
	return &tls.Config{
		Certificates: []tls.Certificate{
			t.tlsCert,
		},
		// #nosec G402 -- payloads are sealed end to end;
		// the channel is not the trust boundary.
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519MLKEM768,
		},
	}
}

func (t *QUICTransport) quicConfig() *quic.Config { // A
	return &quic.Config{
		HandshakeIdleTimeout: handshakeTimeout,
		MaxIdleTimeout:       idleTimeout,
	}
}

// hostPort extracts host:port from a peer URL such
// as quic://10.0.0.1:9001. A bare address is
// returned unchanged.
func hostPort(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
