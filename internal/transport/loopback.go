package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

var errUnreachable = errors.New("peer unreachable")

// Loopback is an in-process network. Every call is
// framed and parsed exactly as on a real stream, so
// nodes wired through it behave like remote ones.
type Loopback struct { // A
	mu    sync.RWMutex
	nodes map[string]*dispatcher
	down  map[string]bool
	log   *slog.Logger
}

// NewLoopback creates an empty in-process network.
func NewLoopback(logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loopback{
		nodes: make(map[string]*dispatcher),
		down:  make(map[string]bool),
		log:   logger,
	}
}

// Register attaches handler at url.
func (l *Loopback) Register(url string, h interfaces.PeerHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[model.NormalizeURL(url)] = newDispatcher(h, l.log)
}

// Unregister detaches whatever serves url.
func (l *Loopback) Unregister(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.nodes, model.NormalizeURL(url))
}

// SetDown makes url unreachable while down is true.
func (l *Loopback) SetDown(url string, down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down[model.NormalizeURL(url)] = down
}

// Client returns a PeerClient on this network.
func (l *Loopback) Client(timeout time.Duration) *Client {
	return newClient(l, timeout)
}

func (l *Loopback) roundTrip( // A
	ctx context.Context,
	url string,
	msg Message,
) ([]byte, error) {
	l.mu.RLock()
	d, ok := l.nodes[url]
	down := l.down[url]
	l.mu.RUnlock()
	if !ok || down {
		return nil, networkError(msg.Type, url, errUnreachable)
	}
	if err := ctx.Err(); err != nil {
		return nil, networkError(msg.Type, url, err)
	}

	var wire bytes.Buffer
	if err := WriteMessage(&wire, msg); err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	in, err := ReadMessage(&wire)
	if err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	wire.Reset()
	if err := WriteResponse(&wire, d.serve(ctx, in)); err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	resp, err := ReadResponse(&wire)
	if err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	if resp.Code != codeOK {
		return nil, remoteError(url, resp.Code, resp.Error)
	}
	return resp.Payload, nil
}
