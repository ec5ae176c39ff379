package model

import (
	"fmt"
	"strings"
)

// PrivacyMode selects how strictly participants and
// affected transactions are checked. The set is
// closed; code switching on it must handle every
// value.
type PrivacyMode uint8

const (
	StandardPrivate        PrivacyMode = 0
	PartyProtection        PrivacyMode = 1
	MandatoryRecipients    PrivacyMode = 2
	PrivateStateValidation PrivacyMode = 3
)

// String returns the wire name of the mode.
func (m PrivacyMode) String() string { // A
	switch m {
	case StandardPrivate:
		return "STANDARD_PRIVATE"
	case PartyProtection:
		return "PARTY_PROTECTION"
	case MandatoryRecipients:
		return "MANDATORY_RECIPIENTS"
	case PrivateStateValidation:
		return "PRIVATE_STATE_VALIDATION"
	default:
		return fmt.Sprintf("PrivacyMode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known mode.
func (m PrivacyMode) Valid() bool {
	return m <= PrivateStateValidation
}

// IsEnhanced reports whether the mode needs the
// enhanced-privacy feature.
func (m PrivacyMode) IsEnhanced() bool {
	return m != StandardPrivate
}

// PrivacyModeFromFlag converts a wire flag into a
// mode.
func PrivacyModeFromFlag(flag int64) (PrivacyMode, error) { // A
	if flag < 0 || flag > int64(PrivateStateValidation) {
		return 0, fmt.Errorf(
			"%w: unknown privacy flag %d",
			ErrPrivacyValidation,
			flag,
		)
	}
	return PrivacyMode(flag), nil
}

// ParsePrivacyMode accepts either the wire name or
// the numeric flag.
func ParsePrivacyMode(s string) (PrivacyMode, error) { // A
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "0", "STANDARD_PRIVATE":
		return StandardPrivate, nil
	case "1", "PARTY_PROTECTION":
		return PartyProtection, nil
	case "2", "MANDATORY_RECIPIENTS":
		return MandatoryRecipients, nil
	case "3", "PRIVATE_STATE_VALIDATION":
		return PrivateStateValidation, nil
	}
	return 0, fmt.Errorf(
		"%w: unknown privacy mode %q",
		ErrPrivacyValidation,
		s,
	)
}

// PrivacyMetadata is the privacy-related input to
// an encryption.
type PrivacyMetadata struct { // A
	Mode                 PrivacyMode
	AffectedTransactions []AffectedTransaction
	ExecHash             []byte
	MandatoryRecipients  []PublicKey
	PrivacyGroupID       []byte
}

// AffectedTransaction is a stored transaction that
// a new one claims to depend on.
type AffectedTransaction struct { // A
	Hash    MessageHash
	Payload EncodedPayload
}

// AffectedHashes returns the sorted hashes of the
// affected transactions.
func (m PrivacyMetadata) AffectedHashes() []MessageHash { // A
	out := make([]MessageHash, 0, len(m.AffectedTransactions))
	seen := make(map[MessageHash]struct{}, len(m.AffectedTransactions))
	for _, a := range m.AffectedTransactions {
		if _, ok := seen[a.Hash]; ok {
			continue
		}
		seen[a.Hash] = struct{}{}
		out = append(out, a.Hash)
	}
	SortHashes(out)
	return out
}
