package model

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// HashSize is the length of a MessageHash.
const HashSize = 32

// MessageHash identifies a transaction. It is the
// first 256 bits of SHA3-512 over the cipher text.
type MessageHash [HashSize]byte

// HashCipherText derives the MessageHash of a
// cipher text. Identical cipher text always yields
// the identical hash.
func HashCipherText(cipherText []byte) MessageHash { // A
	sum := sha3.Sum512(cipherText)
	var h MessageHash
	copy(h[:], sum[:HashSize])
	return h
}

// String returns the base64 form of the hash.
func (h MessageHash) String() string { // A
	return base64.StdEncoding.EncodeToString(h[:])
}

// IsZero reports whether h is unset.
func (h MessageHash) IsZero() bool {
	return h == MessageHash{}
}

// Bytes returns a copy of the hash bytes.
func (h MessageHash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// MessageHashFromBytes parses a raw hash.
func MessageHashFromBytes(b []byte) (MessageHash, error) { // A
	var h MessageHash
	if len(b) != HashSize {
		return h, fmt.Errorf(
			"%w: message hash must be %d bytes, got %d",
			ErrIntegrity,
			HashSize,
			len(b),
		)
	}
	copy(h[:], b)
	return h, nil
}

// MessageHashFromBase64 parses a base64 hash.
func MessageHashFromBase64(s string) (MessageHash, error) { // A
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return MessageHash{}, fmt.Errorf(
			"%w: decode message hash: %v",
			ErrIntegrity,
			err,
		)
	}
	return MessageHashFromBytes(raw)
}

// SortHashes sorts hashes in byte order, in place.
func SortHashes(hashes []MessageHash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}
