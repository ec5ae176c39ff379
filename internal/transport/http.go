package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
)

const (
	contentTypeOctet = "application/octet-stream"
	contentTypeText  = "text/plain"
	headerEncoding   = "Content-Encoding"
	encodingZstd     = "zstd"
)

// Paths of the peer protocol over HTTP.
const (
	PathPush         = "/push"
	PathPushBatch    = "/pushBatch"
	PathPartyInfo    = "/partyinfo"
	PathResend       = "/resend"
	PathPrivacyGroup = "/pushPrivacyGroup"
	PathUpcheck      = "/upcheck"
)

func pathFor(t MessageType) string {
	switch t {
	case MessageTypePush:
		return PathPush
	case MessageTypePushBatch:
		return PathPushBatch
	case MessageTypePartyInfo:
		return PathPartyInfo
	case MessageTypeResend:
		return PathResend
	case MessageTypePrivacyGroup:
		return PathPrivacyGroup
	case MessageTypeUpcheck:
		return PathUpcheck
	default:
		return ""
	}
}

// httpTransport is the HTTP binding of the peer
// protocol.
type httpTransport struct {
	client *http.Client
}

// NewHTTPClient returns a PeerClient that talks to
// peers over HTTP. A nil client selects one with
// the given timeout.
func NewHTTPClient(client *http.Client, timeout time.Duration) *Client { // A
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return newClient(&httpTransport{client: client}, timeout)
}

func (t *httpTransport) roundTrip( // A
	ctx context.Context,
	url string,
	msg Message,
) ([]byte, error) {
	path := pathFor(msg.Type)
	if path == "" {
		return nil, networkError(msg.Type, url, fmt.Errorf("no route"))
	}
	method := http.MethodPost
	var body io.Reader = bytes.NewReader(msg.Payload)
	if msg.Type == MessageTypeUpcheck {
		method = http.MethodGet
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(url, "/")+path, body)
	if err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeOctet)
	}
	if compressed(msg.Type) {
		req.Header.Set(headerEncoding, encodingZstd)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload+1))
	if err != nil {
		return nil, networkError(msg.Type, url, err)
	}
	if len(data) > maxPayload {
		return nil, networkError(msg.Type, url, fmt.Errorf("response exceeds %dMB", maxPayloadMB))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(url, codeFromStatus(resp.StatusCode), strings.TrimSpace(string(data)))
	}
	return data, nil
}

// NewHTTPHandler serves the peer protocol for h.
func NewHTTPHandler( // A
	h interfaces.PeerHandler,
	logger *slog.Logger,
) *mux.Router {
	d := newDispatcher(h, logger)
	r := mux.NewRouter()
	for _, t := range []MessageType{
		MessageTypePush,
		MessageTypePushBatch,
		MessageTypePartyInfo,
		MessageTypeResend,
		MessageTypePrivacyGroup,
	} {
		r.Handle(pathFor(t), d.httpHandler(t)).Methods(http.MethodPost)
	}
	r.Handle(PathUpcheck, d.httpHandler(MessageTypeUpcheck)).Methods(http.MethodGet)
	return r
}

func (d *dispatcher) httpHandler(t MessageType) http.Handler { // A
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		if compressed(t) && r.Header.Get(headerEncoding) != encodingZstd {
			http.Error(w, "zstd content encoding required", http.StatusBadRequest)
			return
		}

		resp := d.serve(r.Context(), Message{Type: t, Payload: body})
		if resp.Code != codeOK {
			http.Error(w, resp.Error, httpStatus(resp.Code))
			return
		}
		switch {
		case t == MessageTypePush || t == MessageTypeUpcheck:
			w.Header().Set("Content-Type", contentTypeText)
		case compressed(t):
			w.Header().Set("Content-Type", contentTypeOctet)
			w.Header().Set(headerEncoding, encodingZstd)
		default:
			w.Header().Set("Content-Type", contentTypeOctet)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Payload)
	})
}
