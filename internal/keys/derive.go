package keys

import (
	"golang.org/x/crypto/curve25519"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// PublicFromPrivate derives the Curve25519 public key.
func PublicFromPrivate(priv model.PrivateKey) model.PublicKey {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, (*[32]byte)(&priv))
	return model.PublicKey(pub)
}
