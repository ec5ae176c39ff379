package interfaces

import (
	"context"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// Discovery answers "who serves this key" and
// maintains the routing registry.
type Discovery interface { // A
	GetCurrentNodeInfo() model.NodeInfo
	UpdateFromRemote(
		remote model.NodeInfo,
	) (model.NodeInfo, error)
	RecipientURL(key model.PublicKey) (string, error)
	RemoteParties() []model.Party
	IsLocalURL(u string) bool
}

// PushAck is the answer to one pushed payload.
type PushAck struct {
	Hash  model.MessageHash
	Error string
}

// ResendItem is one transaction returned by a
// resend request. Receivers verify Hash against the
// payload.
type ResendItem struct {
	Hash    model.MessageHash
	Payload []byte
}

// ResendRequest asks for one page of the
// transactions involving Key. After is the last
// hash of the previous page; the zero hash starts
// from the beginning.
type ResendRequest struct {
	Key   model.PublicKey
	After model.MessageHash
	Limit int
}

// ResendPage is one page of a resend answer. When
// More is set the next request continues after
// Next.
type ResendPage struct {
	Items []ResendItem
	Next  model.MessageHash
	More  bool
}

// PeerClient is the outbound side of the peer
// protocol.
type PeerClient interface { // A
	Push(
		ctx context.Context,
		url string,
		payload []byte,
	) (model.MessageHash, error)
	PushBatch(
		ctx context.Context,
		url string,
		payloads [][]byte,
	) ([]PushAck, error)
	PartyInfo(
		ctx context.Context,
		url string,
		local model.NodeInfo,
	) (model.NodeInfo, error)
	RequestResend(
		ctx context.Context,
		url string,
		req ResendRequest,
	) (ResendPage, error)
	PushPrivacyGroup(
		ctx context.Context,
		url string,
		group []byte,
	) error
}

// PeerHandler is the inbound side of the peer
// protocol.
type PeerHandler interface { // A
	HandlePush(
		ctx context.Context,
		payload []byte,
	) (model.MessageHash, error)
	HandlePushBatch(
		ctx context.Context,
		payloads [][]byte,
	) []PushAck
	HandlePartyInfo(
		ctx context.Context,
		remote model.NodeInfo,
	) (model.NodeInfo, error)
	HandleResendRequest(
		ctx context.Context,
		req ResendRequest,
	) (ResendPage, error)
	HandlePrivacyGroup(
		ctx context.Context,
		group []byte,
	) error
	Upcheck(ctx context.Context) error
}
