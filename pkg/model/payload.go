package model

import (
	"fmt"
)

// EncodedPayload is the encrypted form of a
// transaction as it is stored and exchanged.
//
// RecipientBoxes is aligned index for index with
// RecipientKeys. An empty box means the holder of
// this copy is not allowed to open that slot.
// Legacy payloads may carry no RecipientKeys at
// all; then every box has to be tried.
type EncodedPayload struct {
	SenderKey       PublicKey
	CipherText      []byte
	CipherTextNonce Nonce
	RecipientBoxes  [][]byte
	RecipientNonce  Nonce
	RecipientKeys   []PublicKey

	PrivacyMode PrivacyMode
	// AffectedContractTransactions maps each
	// affected transaction to its security hash.
	AffectedContractTransactions map[MessageHash][]byte
	ExecHash                     []byte
	MandatoryRecipients          []PublicKey
	PrivacyGroupID               []byte
}

// Hash derives the content address of the payload.
func (p EncodedPayload) Hash() MessageHash {
	return HashCipherText(p.CipherText)
}

// CheckShape verifies the structural invariants of
// a decoded payload.
func (p EncodedPayload) CheckShape() error { // A
	if len(p.CipherText) == 0 {
		return fmt.Errorf("%w: empty cipher text", ErrIntegrity)
	}
	if len(p.RecipientKeys) > 0 &&
		len(p.RecipientKeys) != len(p.RecipientBoxes) {
		return fmt.Errorf(
			"%w: %d recipient keys but %d boxes",
			ErrIntegrity,
			len(p.RecipientKeys),
			len(p.RecipientBoxes),
		)
	}
	if !p.PrivacyMode.Valid() {
		return fmt.Errorf(
			"%w: invalid privacy mode %d",
			ErrIntegrity,
			p.PrivacyMode,
		)
	}
	return nil
}

// Clone returns a deep copy.
func (p EncodedPayload) Clone() EncodedPayload { // A
	out := p
	out.CipherText = cloneBytes(p.CipherText)
	out.RecipientBoxes = make([][]byte, len(p.RecipientBoxes))
	for i, b := range p.RecipientBoxes {
		out.RecipientBoxes[i] = cloneBytes(b)
	}
	out.RecipientKeys = append([]PublicKey(nil), p.RecipientKeys...)
	out.MandatoryRecipients = append(
		[]PublicKey(nil), p.MandatoryRecipients...,
	)
	out.ExecHash = cloneBytes(p.ExecHash)
	out.PrivacyGroupID = cloneBytes(p.PrivacyGroupID)
	if p.AffectedContractTransactions != nil {
		out.AffectedContractTransactions = make(
			map[MessageHash][]byte,
			len(p.AffectedContractTransactions),
		)
		for h, sec := range p.AffectedContractTransactions {
			out.AffectedContractTransactions[h] = cloneBytes(sec)
		}
	}
	return out
}

// IndexOf returns the position of key in
// RecipientKeys or -1.
func (p EncodedPayload) IndexOf(key PublicKey) int {
	for i, k := range p.RecipientKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// BoxFor returns the non-empty box addressed to key.
func (p EncodedPayload) BoxFor(key PublicKey) ([]byte, bool) { // A
	i := p.IndexOf(key)
	if i < 0 || i >= len(p.RecipientBoxes) {
		return nil, false
	}
	if len(p.RecipientBoxes[i]) == 0 {
		return nil, false
	}
	return p.RecipientBoxes[i], true
}

// OpenableKeys lists the recipient keys whose box
// is present in this copy.
func (p EncodedPayload) OpenableKeys() []PublicKey { // A
	out := make([]PublicKey, 0, len(p.RecipientKeys))
	for i, k := range p.RecipientKeys {
		if i < len(p.RecipientBoxes) && len(p.RecipientBoxes[i]) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// ForRecipients returns the least-privilege view
// for a peer that manages keys. The recipient key
// list stays complete while boxes for every other
// key are blanked. Payloads without recipient keys
// cannot be narrowed and are returned whole.
func (p EncodedPayload) ForRecipients(keys []PublicKey) EncodedPayload { // A
	out := p.Clone()
	if len(out.RecipientKeys) == 0 {
		return out
	}
	for i, k := range out.RecipientKeys {
		if !ContainsKey(keys, k) {
			out.RecipientBoxes[i] = nil
		}
	}
	return out
}

// AffectedHashes returns the sorted set of affected
// transaction hashes.
func (p EncodedPayload) AffectedHashes() []MessageHash { // A
	out := make([]MessageHash, 0, len(p.AffectedContractTransactions))
	for h := range p.AffectedContractTransactions {
		out = append(out, h)
	}
	SortHashes(out)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
