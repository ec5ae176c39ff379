package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/i5heu/ouroboros-privacy/internal/encoding"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// roundTripper sends one request frame to url and
// returns the response payload. Remote failures are
// returned as remoteError values.
type roundTripper interface {
	roundTrip(
		ctx context.Context,
		url string,
		msg Message,
	) ([]byte, error)
}

// Client implements interfaces.PeerClient over
// any roundTripper.
type Client struct { // A
	rt      roundTripper
	timeout time.Duration
}

var _ interfaces.PeerClient = (*Client)(nil)

func newClient(rt roundTripper, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{rt: rt, timeout: timeout}
}

func (c *Client) call( // A
	ctx context.Context,
	url string,
	msgType MessageType,
	body []byte,
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if compressed(msgType) {
		body = compress(body)
	}
	resp, err := c.rt.roundTrip(ctx, model.NormalizeURL(url), Message{
		Type:    msgType,
		Payload: body,
	})
	if err != nil {
		return nil, err
	}
	if compressed(msgType) {
		return decompress(resp)
	}
	return resp, nil
}

// Push sends one encoded payload and returns the
// hash the peer stored it under.
func (c *Client) Push( // A
	ctx context.Context,
	url string,
	payload []byte,
) (model.MessageHash, error) {
	resp, err := c.call(ctx, url, MessageTypePush, payload)
	if err != nil {
		return model.MessageHash{}, err
	}
	return model.MessageHashFromBase64(string(resp))
}

// PushBatch sends several encoded payloads at once.
func (c *Client) PushBatch( // A
	ctx context.Context,
	url string,
	payloads [][]byte,
) ([]interfaces.PushAck, error) {
	resp, err := c.call(
		ctx, url, MessageTypePushBatch, encoding.EncodeByteArrays(payloads),
	)
	if err != nil {
		return nil, err
	}
	acks, err := encoding.DecodePushAcks(resp)
	if err != nil {
		return nil, err
	}
	if len(acks) != len(payloads) {
		return nil, fmt.Errorf(
			"%w: %d acks for %d payloads",
			model.ErrIntegrity,
			len(acks),
			len(payloads),
		)
	}
	return acks, nil
}

// PartyInfo exchanges node info with a peer.
func (c *Client) PartyInfo( // A
	ctx context.Context,
	url string,
	local model.NodeInfo,
) (model.NodeInfo, error) {
	resp, err := c.call(
		ctx, url, MessageTypePartyInfo, encoding.EncodeNodeInfo(local),
	)
	if err != nil {
		return model.NodeInfo{}, err
	}
	return encoding.DecodeNodeInfo(resp)
}

// RequestResend asks a peer for one page of the
// transactions involving req.Key.
func (c *Client) RequestResend( // A
	ctx context.Context,
	url string,
	req interfaces.ResendRequest,
) (interfaces.ResendPage, error) {
	resp, err := c.call(
		ctx, url, MessageTypeResend, encoding.EncodeResendRequest(req),
	)
	if err != nil {
		return interfaces.ResendPage{}, err
	}
	return encoding.DecodeResendPage(resp)
}

// PushPrivacyGroup sends an encoded privacy group.
func (c *Client) PushPrivacyGroup( // A
	ctx context.Context,
	url string,
	group []byte,
) error {
	_, err := c.call(ctx, url, MessageTypePrivacyGroup, group)
	return err
}

// Upcheck asks whether a peer is serving.
func (c *Client) Upcheck(ctx context.Context, url string) error {
	_, err := c.call(ctx, url, MessageTypeUpcheck, nil)
	return err
}

func compressed(t MessageType) bool {
	return t == MessageTypePushBatch || t == MessageTypeResend
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayload))
)

func compress(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return zstdEncoder.EncodeAll(b, nil)
}

func decompress(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	out, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", model.ErrIntegrity, err)
	}
	return out, nil
}
