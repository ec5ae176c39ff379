package model

import "fmt"

// PrivacyGroupType tells where a group came from.
type PrivacyGroupType uint8

const (
	GroupLegacy PrivacyGroupType = iota
	GroupPantheon
	GroupResident
)

func (t PrivacyGroupType) String() string {
	switch t {
	case GroupLegacy:
		return "LEGACY"
	case GroupPantheon:
		return "PANTHEON"
	case GroupResident:
		return "RESIDENT"
	default:
		return fmt.Sprintf("PrivacyGroupType(%d)", uint8(t))
	}
}

// PrivacyGroupState is ACTIVE until a member
// deletes the group.
type PrivacyGroupState uint8

const (
	GroupActive PrivacyGroupState = iota
	GroupDeleted
)

func (s PrivacyGroupState) String() string {
	if s == GroupDeleted {
		return "DELETED"
	}
	return "ACTIVE"
}

// PrivacyGroup is a named, stable set of members.
type PrivacyGroup struct { // A
	ID          []byte            `cbor:"1,keyasint"`
	Name        string            `cbor:"2,keyasint"`
	Description string            `cbor:"3,keyasint"`
	Members     []PublicKey       `cbor:"4,keyasint"`
	Type        PrivacyGroupType  `cbor:"5,keyasint"`
	State       PrivacyGroupState `cbor:"6,keyasint"`
	Seed        []byte            `cbor:"7,keyasint,omitempty"`
}
