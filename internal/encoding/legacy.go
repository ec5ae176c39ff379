package encoding

import (
	"fmt"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// LegacyCodec is the length-prefixed payload format
// every peer understands.
//
// Layout:
//
//	sender | cipherText | nonce | boxes[] |
//	recipientNonce | recipientKeys[] |
//	privacyFlag | affected[(hash, securityHash)] |
//	execHash | mandatoryRecipients[] | groupID
//
// Everything after recipientNonce is optional on
// decode. A payload that stops early is a
// STANDARD_PRIVATE payload.
type LegacyCodec struct{}

var _ interfaces.PayloadCodec = LegacyCodec{}

// Encode writes the full layout.
func (LegacyCodec) Encode( // A
	p model.EncodedPayload,
) ([]byte, error) {
	if !p.PrivacyMode.Valid() {
		return nil, fmt.Errorf(
			"encode payload: invalid privacy mode %d",
			p.PrivacyMode,
		)
	}
	w := &frameWriter{}
	w.field(p.SenderKey[:])
	w.field(p.CipherText)
	w.field(p.CipherTextNonce[:])
	w.array(p.RecipientBoxes)
	w.field(p.RecipientNonce[:])
	w.array(keysToBytes(p.RecipientKeys))

	w.long(int64(p.PrivacyMode))
	hashes := p.AffectedHashes()
	w.long(int64(len(hashes)))
	for _, h := range hashes {
		w.field(h[:])
		w.field(p.AffectedContractTransactions[h])
	}
	w.field(p.ExecHash)
	w.array(keysToBytes(p.MandatoryRecipients))
	w.field(p.PrivacyGroupID)
	return w.bytes(), nil
}

// Decode parses data, accepting the shorter legacy
// layouts.
func (LegacyCodec) Decode( // A
	data []byte,
) (model.EncodedPayload, error) {
	var p model.EncodedPayload
	r := newFrameReader(data)

	var err error
	if p.SenderKey, err = r.key(); err != nil {
		return p, fmt.Errorf("decode sender: %w", err)
	}
	if p.CipherText, err = r.field(); err != nil {
		return p, fmt.Errorf("decode cipher text: %w", err)
	}
	if p.CipherTextNonce, err = r.nonce(); err != nil {
		return p, fmt.Errorf("decode nonce: %w", err)
	}
	if p.RecipientBoxes, err = r.array(); err != nil {
		return p, fmt.Errorf("decode boxes: %w", err)
	}
	if p.RecipientNonce, err = r.nonce(); err != nil {
		return p, fmt.Errorf("decode recipient nonce: %w", err)
	}
	if r.remaining() == 0 {
		return p, p.CheckShape()
	}
	if p.RecipientKeys, err = r.keys(); err != nil {
		return p, fmt.Errorf("decode recipient keys: %w", err)
	}
	if r.remaining() == 0 {
		return p, p.CheckShape()
	}
	if err := decodeEnhanced(r, &p); err != nil {
		return p, err
	}
	if err := r.done(); err != nil {
		return p, err
	}
	return p, p.CheckShape()
}

func decodeEnhanced(r *frameReader, p *model.EncodedPayload) error { // A
	flag, err := r.long()
	if err != nil {
		return fmt.Errorf("decode privacy flag: %w", err)
	}
	mode, err := model.PrivacyModeFromFlag(flag)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrIntegrity, err)
	}
	p.PrivacyMode = mode

	count, err := r.long()
	if err != nil {
		return fmt.Errorf("decode affected count: %w", err)
	}
	if count > int64(r.remaining()/(2*lengthSize)) {
		return fmt.Errorf(
			"%w: %d affected transactions exceed input",
			model.ErrIntegrity,
			count,
		)
	}
	if count > 0 {
		p.AffectedContractTransactions = make(
			map[model.MessageHash][]byte, count,
		)
	}
	for i := int64(0); i < count; i++ {
		raw, err := r.field()
		if err != nil {
			return fmt.Errorf("decode affected hash: %w", err)
		}
		h, err := model.MessageHashFromBytes(raw)
		if err != nil {
			return err
		}
		sec, err := r.field()
		if err != nil {
			return fmt.Errorf("decode security hash: %w", err)
		}
		p.AffectedContractTransactions[h] = sec
	}

	if p.ExecHash, err = r.field(); err != nil {
		return fmt.Errorf("decode exec hash: %w", err)
	}
	if r.remaining() == 0 {
		return nil
	}
	if p.MandatoryRecipients, err = r.keys(); err != nil {
		return fmt.Errorf("decode mandatory recipients: %w", err)
	}
	if r.remaining() == 0 {
		return nil
	}
	if p.PrivacyGroupID, err = r.field(); err != nil {
		return fmt.Errorf("decode privacy group id: %w", err)
	}
	return nil
}
