package privacy

import (
	"context"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// HandlePush stores a payload pushed by a peer and
// acknowledges it with its hash.
func (n *Node) HandlePush( // A
	ctx context.Context,
	payload []byte,
) (model.MessageHash, error) {
	res, err := n.StorePayloadFromOtherNode(ctx, payload)
	if err != nil {
		return model.MessageHash{}, err
	}
	return res.Hash, nil
}

// HandlePushBatch stores each payload on its own. A
// rejected item does not affect the others.
func (n *Node) HandlePushBatch( // A
	ctx context.Context,
	payloads [][]byte,
) []interfaces.PushAck {
	acks := make([]interfaces.PushAck, len(payloads))
	for i, data := range payloads {
		res, err := n.StorePayloadFromOtherNode(ctx, data)
		if err != nil {
			acks[i].Error = err.Error()
			continue
		}
		acks[i].Hash = res.Hash
	}
	return acks
}

// HandlePartyInfo merges a peer's node info and
// answers with ours.
func (n *Node) HandlePartyInfo(
	_ context.Context,
	remote model.NodeInfo,
) (model.NodeInfo, error) {
	return n.UpdatePartyInfo(remote)
}

// HandleResendRequest serves one page of the
// transactions involving req.Key.
func (n *Node) HandleResendRequest(
	ctx context.Context,
	req interfaces.ResendRequest,
) (interfaces.ResendPage, error) {
	if err := n.ready(); err != nil {
		return interfaces.ResendPage{}, err
	}
	return n.resend.HandleResendRequest(ctx, req)
}

// HandlePrivacyGroup stores a group sent by another
// member.
func (n *Node) HandlePrivacyGroup(ctx context.Context, group []byte) error {
	if err := n.ready(); err != nil {
		return err
	}
	return n.groups.StorePrivacyGroup(ctx, group)
}

// Upcheck reports whether the node can serve.
func (n *Node) Upcheck(ctx context.Context) error {
	if err := n.ready(); err != nil {
		return err
	}
	return n.tx.Upcheck(ctx)
}
