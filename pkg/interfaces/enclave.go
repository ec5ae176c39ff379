package interfaces

import (
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// KeyProvider supplies the key pairs a node manages.
// Where the keys come from (files, a vault) is up to
// the implementation.
type KeyProvider interface { // A
	KeyPairs() ([]model.KeyPair, error)
}

// EnclaveStatus reports whether crypto is available.
type EnclaveStatus uint8

const (
	EnclaveUp EnclaveStatus = iota
	EnclaveDown
)

func (s EnclaveStatus) String() string {
	if s == EnclaveDown {
		return "DOWN"
	}
	return "UP"
}

// MasterKeyMaterial is what is needed to reproduce
// an encryption byte for byte.
type MasterKeyMaterial struct { // A
	MasterKey       model.MasterKey
	CipherTextNonce model.Nonce
	RecipientNonce  model.Nonce
}

// Enclave owns the managed keys and performs all
// payload cryptography.
type Enclave interface { // A
	EncryptPayload(
		message []byte,
		sender model.PublicKey,
		recipients []model.PublicKey,
		meta model.PrivacyMetadata,
	) (model.EncodedPayload, error)
	EncryptPayloadWithMaterial(
		message []byte,
		material MasterKeyMaterial,
		sender model.PublicKey,
		recipients []model.PublicKey,
		meta model.PrivacyMetadata,
	) (model.EncodedPayload, error)
	RecoverMaterial(
		payload model.EncodedPayload,
	) (MasterKeyMaterial, error)
	DecryptPayload(
		payload model.EncodedPayload,
		identity model.PublicKey,
	) ([]byte, error)
	CreateNewRecipientBox(
		payload model.EncodedPayload,
		recipient model.PublicKey,
	) ([]byte, error)
	FindInvalidSecurityHashes(
		payload model.EncodedPayload,
		affected []model.AffectedTransaction,
	) ([]model.MessageHash, error)
	PublicKeys() []model.PublicKey
	DefaultPublicKey() model.PublicKey
	ForwardingKeys() []model.PublicKey
	Status() EnclaveStatus
}
