package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	headerSize   = 8
	maxPayloadMB = 64
	maxPayload   = maxPayloadMB * 1024 * 1024
)

const maxUint32 = ^uint32(0)

// MessageType names a peer operation on a framed
// stream.
type MessageType uint32

const (
	MessageTypePush MessageType = iota + 1
	MessageTypePushBatch
	MessageTypePartyInfo
	MessageTypeResend
	MessageTypePrivacyGroup
	MessageTypeUpcheck
)

func (t MessageType) String() string {
	switch t {
	case MessageTypePush:
		return "push"
	case MessageTypePushBatch:
		return "pushBatch"
	case MessageTypePartyInfo:
		return "partyInfo"
	case MessageTypeResend:
		return "resend"
	case MessageTypePrivacyGroup:
		return "privacyGroup"
	case MessageTypeUpcheck:
		return "upcheck"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

// Message is one request frame.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Response is the answer frame to a Message. Code
// is codeOK on success; otherwise Error carries the
// remote error text.
type Response struct {
	Code    uint8
	Payload []byte
	Error   string
}

func intLenToUint32( // A
	value int,
) (uint32, error) {
	if value < 0 || uint64(value) > uint64(maxUint32) {
		return 0, fmt.Errorf(
			"length out of uint32 range: %d",
			value,
		)
	}
	// #nosec G115 -- bounds are validated just above.
	return uint32(value), nil
}

// WriteMessage writes a request frame.
// Wire format:
// [4B type big-endian uint32]
// [4B payload length big-endian uint32]
// [N bytes payload]
func WriteMessage( // A
	w io.Writer,
	msg Message,
) error {
	if len(msg.Payload) > maxPayload {
		return fmt.Errorf(
			"payload exceeds %dMB limit",
			maxPayloadMB,
		)
	}
	payloadLen, err := intLenToUint32(len(msg.Payload))
	if err != nil {
		return err
	}
	buf := make([]byte, headerSize+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(msg.Type))
	binary.BigEndian.PutUint32(buf[4:headerSize], payloadLen)
	copy(buf[headerSize:], msg.Payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads a request frame.
func ReadMessage( // A
	r io.Reader,
) (Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, fmt.Errorf(
			"read header: %w",
			err,
		)
	}
	msgType := MessageType(binary.BigEndian.Uint32(hdr[:4]))
	payloadLen := binary.BigEndian.Uint32(hdr[4:])
	if payloadLen > maxPayload {
		return Message{}, fmt.Errorf(
			"payload length %d exceeds %dMB limit",
			payloadLen,
			maxPayloadMB,
		)
	}
	payload, err := readN(r, int(payloadLen))
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:    msgType,
		Payload: payload,
	}, nil
}

// responseHeaderSize is the fixed overhead of a
// response frame: 1B code + 4B payload length.
const responseHeaderSize = 5

// WriteResponse writes a response frame.
// Wire format:
//
//	[1B code: 0=ok]
//	[4B payload length big-endian]
//	[N bytes payload]
//	[4B error length] (only if code!=0)
//	[M bytes error]   (only if code!=0)
func WriteResponse( // A
	w io.Writer,
	resp Response,
) error {
	if len(resp.Payload) > maxPayload {
		return fmt.Errorf(
			"response payload exceeds %dMB limit",
			maxPayloadMB,
		)
	}
	payloadLen, err := intLenToUint32(len(resp.Payload))
	if err != nil {
		return err
	}
	size := responseHeaderSize + len(resp.Payload)
	if resp.Code != codeOK {
		size += 4 + len(resp.Error)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, resp.Code)
	buf = binary.BigEndian.AppendUint32(buf, payloadLen)
	buf = append(buf, resp.Payload...)
	if resp.Code != codeOK {
		errLen, err := intLenToUint32(len(resp.Error))
		if err != nil {
			return err
		}
		buf = binary.BigEndian.AppendUint32(buf, errLen)
		buf = append(buf, resp.Error...)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// ReadResponse reads a response frame.
func ReadResponse( // A
	r io.Reader,
) (Response, error) {
	var hdr [responseHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Response{}, fmt.Errorf(
			"read response header: %w", err,
		)
	}
	code := hdr[0]
	payloadLen := binary.BigEndian.Uint32(hdr[1:5])
	if payloadLen > maxPayload {
		return Response{}, fmt.Errorf(
			"response payload %d exceeds %dMB limit",
			payloadLen,
			maxPayloadMB,
		)
	}
	payload, err := readN(r, int(payloadLen))
	if err != nil {
		return Response{}, err
	}
	resp := Response{Code: code, Payload: payload}
	if code == codeOK {
		return resp, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Response{}, fmt.Errorf(
			"read error length: %w", err,
		)
	}
	errLen := binary.BigEndian.Uint32(lenBuf[:])
	if errLen > maxPayload {
		return Response{}, errors.New("error message too long")
	}
	msg, err := readN(r, int(errLen))
	if err != nil {
		return Response{}, err
	}
	resp.Error = string(msg)
	return resp, nil
}

// readN reads exactly n bytes from r.
func readN( // A
	r io.Reader,
	n int,
) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf(
			"read bytes: %w", err,
		)
	}
	return buf, nil
}
