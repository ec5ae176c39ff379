package encoding

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

type cborAffected struct {
	_            struct{} `cbor:",toarray"`
	Hash         []byte
	SecurityHash []byte
}

type cborPayload struct {
	_                   struct{} `cbor:",toarray"`
	SenderKey           []byte
	CipherText          []byte
	CipherTextNonce     []byte
	RecipientBoxes      [][]byte
	RecipientNonce      []byte
	RecipientKeys       [][]byte
	PrivacyMode         uint8
	Affected            []cborAffected
	ExecHash            []byte
	MandatoryRecipients [][]byte
	PrivacyGroupID      []byte
}

// CBORCodec encodes payloads as deterministic CBOR
// arrays.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ interfaces.PayloadCodec = (*CBORCodec)(nil)

// NewCBORCodec builds the codec with core
// deterministic encoding.
func NewCBORCodec() (*CBORCodec, error) { // A
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Encode( // A
	p model.EncodedPayload,
) ([]byte, error) {
	if !p.PrivacyMode.Valid() {
		return nil, fmt.Errorf(
			"encode payload: invalid privacy mode %d",
			p.PrivacyMode,
		)
	}
	out := cborPayload{
		SenderKey:           p.SenderKey.Bytes(),
		CipherText:          p.CipherText,
		CipherTextNonce:     p.CipherTextNonce[:],
		RecipientBoxes:      p.RecipientBoxes,
		RecipientNonce:      p.RecipientNonce[:],
		RecipientKeys:       keysToBytes(p.RecipientKeys),
		PrivacyMode:         uint8(p.PrivacyMode),
		ExecHash:            p.ExecHash,
		MandatoryRecipients: keysToBytes(p.MandatoryRecipients),
		PrivacyGroupID:      p.PrivacyGroupID,
	}
	for _, h := range p.AffectedHashes() {
		out.Affected = append(out.Affected, cborAffected{
			Hash:         h.Bytes(),
			SecurityHash: p.AffectedContractTransactions[h],
		})
	}
	data, err := c.enc.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func (c *CBORCodec) Decode( // A
	data []byte,
) (model.EncodedPayload, error) {
	var in cborPayload
	if err := c.dec.Unmarshal(data, &in); err != nil {
		return model.EncodedPayload{}, fmt.Errorf(
			"%w: decode cbor payload: %v",
			model.ErrIntegrity,
			err,
		)
	}

	var p model.EncodedPayload
	var err error
	if p.SenderKey, err = model.PublicKeyFromBytes(in.SenderKey); err != nil {
		return p, fmt.Errorf("%w: sender: %v", model.ErrIntegrity, err)
	}
	if len(in.CipherTextNonce) != model.NonceSize ||
		len(in.RecipientNonce) != model.NonceSize {
		return p, fmt.Errorf("%w: bad nonce length", model.ErrIntegrity)
	}
	copy(p.CipherTextNonce[:], in.CipherTextNonce)
	copy(p.RecipientNonce[:], in.RecipientNonce)
	p.CipherText = nilIfEmpty(in.CipherText)
	for _, b := range in.RecipientBoxes {
		p.RecipientBoxes = append(p.RecipientBoxes, nilIfEmpty(b))
	}
	if p.RecipientKeys, err = bytesToKeys(in.RecipientKeys); err != nil {
		return p, err
	}
	if p.MandatoryRecipients, err = bytesToKeys(in.MandatoryRecipients); err != nil {
		return p, err
	}
	mode, err := model.PrivacyModeFromFlag(int64(in.PrivacyMode))
	if err != nil {
		return p, fmt.Errorf("%w: %v", model.ErrIntegrity, err)
	}
	p.PrivacyMode = mode
	p.ExecHash = nilIfEmpty(in.ExecHash)
	p.PrivacyGroupID = nilIfEmpty(in.PrivacyGroupID)
	if len(in.Affected) > 0 {
		p.AffectedContractTransactions = make(
			map[model.MessageHash][]byte, len(in.Affected),
		)
		for _, a := range in.Affected {
			h, err := model.MessageHashFromBytes(a.Hash)
			if err != nil {
				return p, err
			}
			p.AffectedContractTransactions[h] = nilIfEmpty(a.SecurityHash)
		}
	}
	return p, p.CheckShape()
}

func bytesToKeys(raw [][]byte) ([]model.PublicKey, error) {
	if len(raw) == 0 {
		return nil, nil
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

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
