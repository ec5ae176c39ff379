package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWriteReadMessageRoundTrip(t *testing.T) { // A
	t.Parallel()
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "empty payload",
			msg:  Message{Type: MessageTypeUpcheck},
		},
		{
			name: "small payload",
			msg: Message{
				Type:    MessageTypePush,
				Payload: []byte("hello"),
			},
		},
		{
			name: "binary payload",
			msg: Message{
				Type:    MessageTypeResend,
				Payload: []byte{0x00, 0xff, 0x01, 0xfe},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, tc.msg))
			got, err := ReadMessage(&buf)
			require.NoError(t, err)
			require.Equal(t, tc.msg.Type, got.Type)
			require.True(t, bytes.Equal(tc.msg.Payload, got.Payload))
		})
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) { // A
	t.Parallel()
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(MessageTypePush))
	binary.BigEndian.PutUint32(hdr[4:], maxPayload+1)
	_, err := ReadMessage(bytes.NewReader(hdr[:]))
	require.Error(t, err)
}

func TestReadMessageTruncated(t *testing.T) { // A
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{
		Type:    MessageTypePush,
		Payload: []byte("truncated"),
	}))
	data := buf.Bytes()[:buf.Len()-3]
	_, err := ReadMessage(bytes.NewReader(data))
	require.Error(t, err)
}

func TestWriteReadResponse(t *testing.T) { // A
	t.Parallel()
	tests := []struct {
		name string
		resp Response
	}{
		{
			name: "ok",
			resp: Response{Code: codeOK, Payload: []byte("body")},
		},
		{
			name: "ok empty",
			resp: Response{Code: codeOK},
		},
		{
			name: "error",
			resp: Response{Code: codeNotFound, Error: "no such transaction"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteResponse(&buf, tc.resp))
			got, err := ReadResponse(&buf)
			require.NoError(t, err)
			require.Equal(t, tc.resp.Code, got.Code)
			require.True(t, bytes.Equal(tc.resp.Payload, got.Payload))
			require.Equal(t, tc.resp.Error, got.Error)
			require.Zero(t, buf.Len())
		})
	}
}

func TestMessageTypeString(t *testing.T) { // A
	t.Parallel()
	require.Equal(t, "push", MessageTypePush.String())
	require.Contains(t, MessageType(99).String(), "99")
}

func TestMessageRoundTripProperty(t *testing.T) { // A
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		msg := Message{
			Type: MessageType(rapid.Uint32Range(1, 6).Draw(t, "type")),
			Payload: rapid.SliceOfN(
				rapid.Byte(), 0, 4096,
			).Draw(t, "payload"),
		}
		var buf bytes.Buffer
		if err := WriteMessage(&buf, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Type != msg.Type || !bytes.Equal(got.Payload, msg.Payload) {
			t.Fatalf("round trip mismatch")
		}
	})
}
