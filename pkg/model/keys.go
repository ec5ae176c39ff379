package model

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
)

const (
	// KeySize is the length of a Curve25519 key.
	KeySize = 32
	// NonceSize is the length of a NaCl box/secretbox nonce.
	NonceSize = 24
)

// PublicKey is a Curve25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is a Curve25519 private key.
type PrivateKey [KeySize]byte

// MasterKey is the per-transaction symmetric key.
type MasterKey [KeySize]byte

// Nonce is a NaCl nonce.
type Nonce [NonceSize]byte

// KeyPair couples a public key with its private
// counterpart.
type KeyPair struct { // A
	Public  PublicKey
	Private PrivateKey
}

// String returns the standard base64 encoding used
// on the wire and in configuration.
func (k PublicKey) String() string { // A
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether k is the all-zero key.
func (k PublicKey) IsZero() bool { // A
	return k == PublicKey{}
}

// Bytes returns a copy of the key bytes.
func (k PublicKey) Bytes() []byte { // A
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) { // A
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error { // A
	parsed, err := PublicKeyFromBase64(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) { // A
	var k PublicKey
	if len(b) != KeySize {
		return k, fmt.Errorf(
			"public key must be %d bytes, got %d",
			KeySize,
			len(b),
		)
	}
	copy(k[:], b)
	return k, nil
}

// PublicKeyFromBase64 decodes a standard base64
// public key.
func PublicKeyFromBase64(s string) (PublicKey, error) { // A
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf(
			"decode public key: %w", err,
		)
	}
	return PublicKeyFromBytes(raw)
}

// PrivateKeyFromBase64 decodes a standard base64
// private key.
func PrivateKeyFromBase64(s string) (PrivateKey, error) { // A
	var k PrivateKey
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf(
			"decode private key: %w", err,
		)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf(
			"private key must be %d bytes, got %d",
			KeySize,
			len(raw),
		)
	}
	copy(k[:], raw)
	return k, nil
}

// String encodes the private key as base64.
func (k PrivateKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// ContainsKey reports whether key is in keys.
func ContainsKey(keys []PublicKey, key PublicKey) bool { // A
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// DedupKeys removes duplicates, keeping the first
// occurrence of each key.
func DedupKeys(keys []PublicKey) []PublicKey { // A
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[PublicKey]struct{}, len(keys))
	out := make([]PublicKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// SortedKeys returns a sorted, deduplicated copy of
// keys.
func SortedKeys(keys []PublicKey) []PublicKey { // A
	out := DedupKeys(keys)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// SameKeySet reports whether a and b contain the
// same keys, ignoring order and duplicates.
func SameKeySet(a, b []PublicKey) bool { // A
	sa, sb := SortedKeys(a), SortedKeys(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// IsSubset reports whether every key of sub is in
// set.
func IsSubset(sub, set []PublicKey) bool { // A
	for _, k := range sub {
		if !ContainsKey(set, k) {
			return false
		}
	}
	return true
}
