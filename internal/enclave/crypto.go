package enclave

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/sha3"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

type sharedKeyID struct {
	peer model.PublicKey
	own  model.PublicKey
}

// sharedKey returns the precomputed box key between
// peer and the managed key own.
func (e *Enclave) sharedKey( // A
	peer model.PublicKey,
	own model.PublicKey,
	ownPriv model.PrivateKey,
) *[32]byte {
	id := sharedKeyID{peer: peer, own: own}
	if v, ok := e.shared.Get(id); ok {
		return v.(*[32]byte)
	}
	var shared [32]byte
	box.Precompute(
		&shared,
		(*[32]byte)(&peer),
		(*[32]byte)(&ownPriv),
	)
	e.shared.Add(id, &shared)
	return &shared
}

func (e *Enclave) sealMasterKey( // A
	master model.MasterKey,
	nonce model.Nonce,
	recipient model.PublicKey,
	sender model.PublicKey,
	senderPriv model.PrivateKey,
) []byte {
	shared := e.sharedKey(recipient, sender, senderPriv)
	return box.SealAfterPrecomputation(
		nil,
		master[:],
		(*[model.NonceSize]byte)(&nonce),
		shared,
	)
}

func openBox(
	sealed []byte,
	nonce model.Nonce,
	shared *[32]byte,
) (model.MasterKey, bool) {
	var master model.MasterKey
	if len(sealed) == 0 {
		return master, false
	}
	out, ok := box.OpenAfterPrecomputation(
		nil,
		sealed,
		(*[model.NonceSize]byte)(&nonce),
		shared,
	)
	if !ok || len(out) != model.KeySize {
		return master, false
	}
	copy(master[:], out)
	return master, true
}

// openMasterKey recovers the master key of payload
// using the managed key identity.
//
// As a recipient, identity opens the box at its own
// index. As the sender, identity opens its own box
// or any recipient box with the shared key of that
// recipient. Payloads without recipient keys are
// tried box by box.
func (e *Enclave) openMasterKey( // A
	ks *keySet,
	payload model.EncodedPayload,
	identity model.PublicKey,
) (model.MasterKey, error) {
	priv, ok := ks.lookup(identity)
	if !ok {
		return model.MasterKey{}, fmt.Errorf(
			"%w: key %s is not managed here",
			model.ErrEnclaveUnavailable,
			identity,
		)
	}

	if identity == payload.SenderKey {
		if sealed, ok := payload.BoxFor(identity); ok {
			shared := e.sharedKey(identity, identity, priv)
			if master, ok := openBox(sealed, payload.RecipientNonce, shared); ok {
				return master, nil
			}
		}
		for i, rk := range payload.RecipientKeys {
			if i >= len(payload.RecipientBoxes) {
				break
			}
			shared := e.sharedKey(rk, identity, priv)
			master, ok := openBox(
				payload.RecipientBoxes[i],
				payload.RecipientNonce,
				shared,
			)
			if ok {
				return master, nil
			}
		}
	}

	shared := e.sharedKey(payload.SenderKey, identity, priv)
	if len(payload.RecipientKeys) == 0 {
		for _, sealed := range payload.RecipientBoxes {
			if master, ok := openBox(sealed, payload.RecipientNonce, shared); ok {
				return master, nil
			}
		}
	} else if sealed, ok := payload.BoxFor(identity); ok {
		if master, ok := openBox(sealed, payload.RecipientNonce, shared); ok {
			return master, nil
		}
	}

	return model.MasterKey{}, fmt.Errorf(
		"%w: no usable box for %s",
		model.ErrEnclaveUnavailable,
		identity,
	)
}

// securityHash binds a new transaction to one it
// affects: SHA3-512(cipherText | affected cipher
// text | affected master key).
func (e *Enclave) securityHash( // A
	cipherText []byte,
	affected model.EncodedPayload,
) ([]byte, error) {
	material, err := e.RecoverMaterial(affected)
	if err != nil {
		return nil, err
	}
	h := sha3.New512()
	h.Write(cipherText)
	h.Write(affected.CipherText)
	h.Write(material.MasterKey[:])
	return h.Sum(nil), nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
