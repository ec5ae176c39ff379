package encoding

import (
	"fmt"
	"math"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// EncodeNodeInfo writes the party-info exchange
// format:
//
//	url | count | (key, url)* | parties[] | versions[]
//
// The versions array is optional on decode.
func EncodeNodeInfo(info model.NodeInfo) []byte { // A
	w := &frameWriter{}
	w.field([]byte(info.URL))
	w.long(int64(len(info.Recipients)))
	for _, r := range info.Recipients {
		w.field(r.Key[:])
		w.field([]byte(r.URL))
	}
	parties := make([][]byte, len(info.Parties))
	for i, p := range info.Parties {
		parties[i] = []byte(p.URL)
	}
	w.array(parties)
	versions := make([][]byte, len(info.SupportedAPIVersions))
	for i, v := range info.SupportedAPIVersions {
		versions[i] = []byte(v)
	}
	w.array(versions)
	return w.bytes()
}

// DecodeNodeInfo parses what EncodeNodeInfo wrote.
func DecodeNodeInfo(data []byte) (model.NodeInfo, error) { // A
	var info model.NodeInfo
	r := newFrameReader(data)

	u, err := r.field()
	if err != nil {
		return info, fmt.Errorf("decode node url: %w", err)
	}
	info.URL = string(u)

	count, err := r.long()
	if err != nil {
		return info, fmt.Errorf("decode recipient count: %w", err)
	}
	if count > int64(r.remaining()/(2*lengthSize)) {
		return info, fmt.Errorf(
			"%w: %d recipients exceed input",
			model.ErrIntegrity,
			count,
		)
	}
	for i := int64(0); i < count; i++ {
		k, err := r.key()
		if err != nil {
			return info, fmt.Errorf("decode recipient key: %w", err)
		}
		ru, err := r.field()
		if err != nil {
			return info, fmt.Errorf("decode recipient url: %w", err)
		}
		info.Recipients = append(info.Recipients, model.Recipient{
			Key: k,
			URL: string(ru),
		})
	}

	parties, err := r.array()
	if err != nil {
		return info, fmt.Errorf("decode parties: %w", err)
	}
	for _, p := range parties {
		info.Parties = append(info.Parties, model.Party{URL: string(p)})
	}

	if r.remaining() > 0 {
		versions, err := r.array()
		if err != nil {
			return info, fmt.Errorf("decode versions: %w", err)
		}
		for _, v := range versions {
			info.SupportedAPIVersions = append(
				info.SupportedAPIVersions, string(v),
			)
		}
	}
	return info, r.done()
}

// EncodeByteArrays frames a list of opaque items.
func EncodeByteArrays(items [][]byte) []byte {
	w := &frameWriter{}
	w.array(items)
	return w.bytes()
}

// DecodeByteArrays parses what EncodeByteArrays
// wrote.
func DecodeByteArrays(data []byte) ([][]byte, error) {
	r := newFrameReader(data)
	items, err := r.array()
	if err != nil {
		return nil, err
	}
	return items, r.done()
}

// EncodeResendRequest frames the key, the cursor
// and the page limit.
func EncodeResendRequest(req interfaces.ResendRequest) []byte { // A
	w := &frameWriter{}
	w.field(req.Key[:])
	w.field(req.After[:])
	w.long(int64(req.Limit))
	return w.bytes()
}

// DecodeResendRequest parses what
// EncodeResendRequest wrote.
func DecodeResendRequest(data []byte) (interfaces.ResendRequest, error) { // A
	r := newFrameReader(data)
	key, err := r.key()
	if err != nil {
		return interfaces.ResendRequest{}, err
	}
	raw, err := r.field()
	if err != nil {
		return interfaces.ResendRequest{}, err
	}
	after, err := model.MessageHashFromBytes(raw)
	if err != nil {
		return interfaces.ResendRequest{}, err
	}
	limit, err := r.long()
	if err != nil {
		return interfaces.ResendRequest{}, err
	}
	if limit < 0 || limit > math.MaxInt32 {
		return interfaces.ResendRequest{}, fmt.Errorf(
			"%w: resend limit %d out of range",
			model.ErrIntegrity,
			limit,
		)
	}
	return interfaces.ResendRequest{
		Key:   key,
		After: after,
		Limit: int(limit),
	}, r.done()
}

// EncodeResendPage frames (hash, payload) pairs
// followed by the cursor and the more flag.
func EncodeResendPage(page interfaces.ResendPage) []byte { // A
	w := &frameWriter{}
	w.long(int64(len(page.Items)))
	for _, it := range page.Items {
		w.field(it.Hash[:])
		w.field(it.Payload)
	}
	w.field(page.Next[:])
	if page.More {
		w.long(1)
	} else {
		w.long(0)
	}
	return w.bytes()
}

// DecodeResendPage parses what EncodeResendPage
// wrote. An item whose hash field is malformed
// fails the whole page since framing is lost.
func DecodeResendPage(data []byte) (interfaces.ResendPage, error) { // A
	r := newFrameReader(data)
	count, err := r.long()
	if err != nil {
		return interfaces.ResendPage{}, err
	}
	if count < 0 || count > int64(r.remaining()/(2*lengthSize)) {
		return interfaces.ResendPage{}, fmt.Errorf(
			"%w: %d resend items exceed input",
			model.ErrIntegrity,
			count,
		)
	}
	page := interfaces.ResendPage{
		Items: make([]interfaces.ResendItem, 0, count),
	}
	for i := int64(0); i < count; i++ {
		raw, err := r.field()
		if err != nil {
			return interfaces.ResendPage{}, err
		}
		h, err := model.MessageHashFromBytes(raw)
		if err != nil {
			return interfaces.ResendPage{}, err
		}
		payload, err := r.field()
		if err != nil {
			return interfaces.ResendPage{}, err
		}
		page.Items = append(page.Items, interfaces.ResendItem{Hash: h, Payload: payload})
	}
	raw, err := r.field()
	if err != nil {
		return interfaces.ResendPage{}, err
	}
	if page.Next, err = model.MessageHashFromBytes(raw); err != nil {
		return interfaces.ResendPage{}, err
	}
	more, err := r.long()
	if err != nil {
		return interfaces.ResendPage{}, err
	}
	page.More = more != 0
	return page, r.done()
}

// EncodePushAcks frames per-item push results.
func EncodePushAcks(acks []interfaces.PushAck) []byte {
	w := &frameWriter{}
	w.long(int64(len(acks)))
	for _, a := range acks {
		w.field(a.Hash[:])
		w.field([]byte(a.Error))
	}
	return w.bytes()
}

// DecodePushAcks parses what EncodePushAcks wrote.
func DecodePushAcks(data []byte) ([]interfaces.PushAck, error) { // A
	r := newFrameReader(data)
	count, err := r.long()
	if err != nil {
		return nil, err
	}
	if count > int64(r.remaining()/(2*lengthSize)) {
		return nil, fmt.Errorf(
			"%w: %d acks exceed input",
			model.ErrIntegrity,
			count,
		)
	}
	out := make([]interfaces.PushAck, 0, count)
	for i := int64(0); i < count; i++ {
		raw, err := r.field()
		if err != nil {
			return nil, err
		}
		var h model.MessageHash
		if len(raw) == model.HashSize {
			copy(h[:], raw)
		}
		msg, err := r.field()
		if err != nil {
			return nil, err
		}
		out = append(out, interfaces.PushAck{Hash: h, Error: string(msg)})
	}
	return out, r.done()
}
