package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-privacy/internal/encoding"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const upcheckReply = "I'm up!"

// dispatcher turns request frames into calls on a
// PeerHandler.
type dispatcher struct { // A
	handler interfaces.PeerHandler
	log     *slog.Logger
}

func newDispatcher(h interfaces.PeerHandler, logger *slog.Logger) *dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{handler: h, log: logger}
}

// serve handles one message and never fails; errors
// travel inside the Response.
func (d *dispatcher) serve( // A
	ctx context.Context,
	msg Message,
) Response {
	body := msg.Payload
	if compressed(msg.Type) {
		var err error
		body, err = decompress(body)
		if err != nil {
			return failure(codeBadRequest, err)
		}
	}

	out, err := d.handle(ctx, msg.Type, body)
	if err != nil {
		code := errorCode(err)
		if code == codeInternal || code == codeUnavailable {
			d.log.Warn("peer request failed",
				"op", msg.Type.String(),
				"error", err)
		} else {
			d.log.Debug("peer request rejected",
				"op", msg.Type.String(),
				"error", err)
		}
		return failure(code, err)
	}
	if compressed(msg.Type) {
		out = compress(out)
	}
	return Response{Code: codeOK, Payload: out}
}

func (d *dispatcher) handle( // A
	ctx context.Context,
	msgType MessageType,
	body []byte,
) ([]byte, error) {
	switch msgType {
	case MessageTypePush:
		h, err := d.handler.HandlePush(ctx, body)
		if err != nil {
			return nil, err
		}
		return []byte(h.String()), nil
	case MessageTypePushBatch:
		payloads, err := encoding.DecodeByteArrays(body)
		if err != nil {
			return nil, err
		}
		acks := d.handler.HandlePushBatch(ctx, payloads)
		return encoding.EncodePushAcks(acks), nil
	case MessageTypePartyInfo:
		remote, err := encoding.DecodeNodeInfo(body)
		if err != nil {
			return nil, err
		}
		local, err := d.handler.HandlePartyInfo(ctx, remote)
		if err != nil {
			return nil, err
		}
		return encoding.EncodeNodeInfo(local), nil
	case MessageTypeResend:
		req, err := encoding.DecodeResendRequest(body)
		if err != nil {
			return nil, err
		}
		page, err := d.handler.HandleResendRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		return encoding.EncodeResendPage(page), nil
	case MessageTypePrivacyGroup:
		return nil, d.handler.HandlePrivacyGroup(ctx, body)
	case MessageTypeUpcheck:
		if err := d.handler.Upcheck(ctx); err != nil {
			return nil, err
		}
		return []byte(upcheckReply), nil
	default:
		return nil, fmt.Errorf(
			"%w: unknown message type %d",
			model.ErrIntegrity,
			uint32(msgType),
		)
	}
}

func failure(code uint8, err error) Response {
	return Response{Code: code, Error: err.Error()}
}
