package model

import "fmt"

// EncryptedTransaction is one stored row. It is
// immutable after creation except for deletion.
type EncryptedTransaction struct {
	Hash           MessageHash
	EncodedPayload []byte
}

// TxState is the lifecycle position of a
// transaction on this node.
type TxState uint8

const (
	TxCreated TxState = iota
	TxStored
	TxDistributed
	TxResendable
	TxDeleted
)

func (s TxState) String() string {
	switch s {
	case TxCreated:
		return "CREATED"
	case TxStored:
		return "STORED"
	case TxDistributed:
		return "DISTRIBUTED"
	case TxResendable:
		return "RESENDABLE"
	case TxDeleted:
		return "DELETED"
	default:
		return fmt.Sprintf("TxState(%d)", uint8(s))
	}
}

// ValidTransition reports whether a transaction may
// move from one state to the next. A deleted
// transaction can be recreated by a resend that
// reproduces the same cipher text, which re-enters
// STORED.
func ValidTransition(from, to TxState) bool { // A
	switch from {
	case TxCreated:
		return to == TxStored
	case TxStored:
		return to == TxDistributed || to == TxResendable ||
			to == TxDeleted
	case TxDistributed:
		return to == TxResendable || to == TxDeleted
	case TxResendable:
		return to == TxResendable || to == TxDeleted
	case TxDeleted:
		return to == TxStored
	default:
		return false
	}
}
