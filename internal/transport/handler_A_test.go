package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// fakeHandler records pushes and answers the other
// operations from fixed data.
type fakeHandler struct { // A
	mu         sync.Mutex
	pushed     [][]byte
	groups     [][]byte
	info       model.NodeInfo
	resend     map[model.PublicKey][]interfaces.ResendItem
	pushErr    error
	upErr      error
	lastSeen   model.NodeInfo
	lastResend interfaces.ResendRequest
}

func newFakeHandler(url string) *fakeHandler {
	return &fakeHandler{
		info:   model.NodeInfo{URL: url},
		resend: make(map[model.PublicKey][]interfaces.ResendItem),
	}
}

func (f *fakeHandler) HandlePush( // A
	_ context.Context,
	payload []byte,
) (model.MessageHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return model.MessageHash{}, f.pushErr
	}
	f.pushed = append(f.pushed, payload)
	return model.HashCipherText(payload), nil
}

func (f *fakeHandler) HandlePushBatch( // A
	ctx context.Context,
	payloads [][]byte,
) []interfaces.PushAck {
	acks := make([]interfaces.PushAck, len(payloads))
	for i, p := range payloads {
		if len(p) == 0 {
			acks[i].Error = fmt.Sprintf("%v: empty payload", model.ErrIntegrity)
			continue
		}
		h, err := f.HandlePush(ctx, p)
		if err != nil {
			acks[i].Error = err.Error()
			continue
		}
		acks[i].Hash = h
	}
	return acks
}

func (f *fakeHandler) HandlePartyInfo( // A
	_ context.Context,
	remote model.NodeInfo,
) (model.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen = remote
	return f.info, nil
}

func (f *fakeHandler) HandleResendRequest( // A
	_ context.Context,
	req interfaces.ResendRequest,
) (interfaces.ResendPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastResend = req
	items, ok := f.resend[req.Key]
	if !ok {
		return interfaces.ResendPage{}, fmt.Errorf("%w: %s", model.ErrKeyNotFound, req.Key)
	}
	return interfaces.ResendPage{Items: items}, nil
}

func (f *fakeHandler) HandlePrivacyGroup( // A
	_ context.Context,
	group []byte,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, group)
	return nil
}

func (f *fakeHandler) Upcheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upErr
}

func (f *fakeHandler) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func testKey(b byte) model.PublicKey {
	var k model.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}
