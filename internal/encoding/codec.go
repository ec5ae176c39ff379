package encoding

import (
	"fmt"
	"strings"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
)

const (
	CodecLegacy = "legacy"
	CodecCBOR   = "cbor"
)

// NewCodec returns the payload codec named in the
// configuration. An empty name selects the legacy
// format.
func NewCodec(name string) (interfaces.PayloadCodec, error) { // A
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecLegacy:
		return LegacyCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("unknown payload codec %q", name)
	}
}
