package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	lengthSize = 8
	// maxFieldSize bounds a single decoded field.
	maxFieldSize = 64 * 1024 * 1024
)

// frameWriter writes the legacy framing: every field
// is an 8-byte big-endian length followed by the
// bytes, arrays are an 8-byte count followed by
// their fields.
type frameWriter struct {
	buf bytes.Buffer
}

func (w *frameWriter) long(v int64) {
	var l [lengthSize]byte
	binary.BigEndian.PutUint64(l[:], uint64(v))
	w.buf.Write(l[:])
}

func (w *frameWriter) field(b []byte) {
	w.long(int64(len(b)))
	w.buf.Write(b)
}

func (w *frameWriter) array(items [][]byte) {
	w.long(int64(len(items)))
	for _, it := range items {
		w.field(it)
	}
}

func (w *frameWriter) bytes() []byte {
	return w.buf.Bytes()
}

// frameReader reads what frameWriter wrote. Every
// error wraps model.ErrIntegrity.
type frameReader struct {
	data []byte
	off  int
}

func newFrameReader(data []byte) *frameReader {
	return &frameReader{data: data}
}

func (r *frameReader) remaining() int {
	return len(r.data) - r.off
}

func (r *frameReader) long() (int64, error) { // A
	if r.remaining() < lengthSize {
		return 0, fmt.Errorf(
			"%w: truncated length at offset %d",
			model.ErrIntegrity,
			r.off,
		)
	}
	v := binary.BigEndian.Uint64(r.data[r.off : r.off+lengthSize])
	r.off += lengthSize
	if v > math.MaxInt64 {
		return 0, fmt.Errorf(
			"%w: length out of range at offset %d",
			model.ErrIntegrity,
			r.off-lengthSize,
		)
	}
	return int64(v), nil
}

func (r *frameReader) field() ([]byte, error) { // A
	n, err := r.long()
	if err != nil {
		return nil, err
	}
	if n > maxFieldSize || n > int64(r.remaining()) {
		return nil, fmt.Errorf(
			"%w: field of %d bytes exceeds remaining %d",
			model.ErrIntegrity,
			n,
			r.remaining(),
		)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *frameReader) array() ([][]byte, error) { // A
	count, err := r.long()
	if err != nil {
		return nil, err
	}
	// Every element needs at least its length prefix.
	if count > int64(r.remaining()/lengthSize) {
		return nil, fmt.Errorf(
			"%w: array of %d elements exceeds input",
			model.ErrIntegrity,
			count,
		)
	}
	if count == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, count)
	for i := int64(0); i < count; i++ {
		f, err := r.field()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *frameReader) key() (model.PublicKey, error) {
	f, err := r.field()
	if err != nil {
		return model.PublicKey{}, err
	}
	k, err := model.PublicKeyFromBytes(f)
	if err != nil {
		return k, fmt.Errorf("%w: %v", model.ErrIntegrity, err)
	}
	return k, nil
}

func (r *frameReader) nonce() (model.Nonce, error) {
	var n model.Nonce
	f, err := r.field()
	if err != nil {
		return n, err
	}
	if len(f) != model.NonceSize {
		return n, fmt.Errorf(
			"%w: nonce must be %d bytes, got %d",
			model.ErrIntegrity,
			model.NonceSize,
			len(f),
		)
	}
	copy(n[:], f)
	return n, nil
}

func (r *frameReader) keys() ([]model.PublicKey, error) {
	raw, err := r.array()
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	out := make([]model.PublicKey, 0, len(raw))
	for _, b := range raw {
		k, err := model.PublicKeyFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrIntegrity, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func (r *frameReader) done() error {
	if r.remaining() != 0 {
		return fmt.Errorf(
			"%w: %d trailing bytes",
			model.ErrIntegrity,
			r.remaining(),
		)
	}
	return nil
}

func keysToBytes(keys []model.PublicKey) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = k.Bytes()
	}
	return out
}
