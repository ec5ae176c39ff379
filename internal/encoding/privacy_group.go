package encoding

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

var groupEncMode, _ = cbor.CoreDetEncOptions().EncMode()

// EncodePrivacyGroup serializes a group for storage
// and for PUSH_PRIVACY_GROUP.
func EncodePrivacyGroup(g model.PrivacyGroup) ([]byte, error) {
	data, err := groupEncMode.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode privacy group: %w", err)
	}
	return data, nil
}

// DecodePrivacyGroup parses an encoded group.
func DecodePrivacyGroup(data []byte) (model.PrivacyGroup, error) { // A
	var g model.PrivacyGroup
	if err := cbor.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf(
			"%w: decode privacy group: %v",
			model.ErrIntegrity,
			err,
		)
	}
	if len(g.ID) == 0 {
		return g, fmt.Errorf(
			"%w: privacy group without id",
			model.ErrIntegrity,
		)
	}
	return g, nil
}
