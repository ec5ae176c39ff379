package encoding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

func genKey(t *rapid.T, label string) model.PublicKey {
	var k model.PublicKey
	copy(k[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, label))
	return k
}

func genNonce(t *rapid.T, label string) model.Nonce {
	var n model.Nonce
	copy(n[:], rapid.SliceOfN(rapid.Byte(), 24, 24).Draw(t, label))
	return n
}

func optionalBytes(t *rapid.T, label string, min int) []byte {
	b := rapid.SliceOfN(rapid.Byte(), min, 64).Draw(t, label)
	if len(b) == 0 {
		return nil
	}
	return b
}

func genPayload(t *rapid.T) model.EncodedPayload {
	n := rapid.IntRange(1, 5).Draw(t, "recipients")
	p := model.EncodedPayload{
		SenderKey:       genKey(t, "sender"),
		CipherText:      optionalBytes(t, "cipherText", 1),
		CipherTextNonce: genNonce(t, "nonce"),
		RecipientNonce:  genNonce(t, "recipientNonce"),
		PrivacyMode: model.PrivacyMode(
			rapid.IntRange(0, 3).Draw(t, "mode"),
		),
		ExecHash:       optionalBytes(t, "execHash", 0),
		PrivacyGroupID: optionalBytes(t, "groupID", 0),
	}
	for i := 0; i < n; i++ {
		p.RecipientKeys = append(p.RecipientKeys, genKey(t, "recipient"))
		p.RecipientBoxes = append(p.RecipientBoxes, optionalBytes(t, "box", 0))
	}
	m := rapid.IntRange(0, 2).Draw(t, "mandatory")
	for i := 0; i < m; i++ {
		p.MandatoryRecipients = append(
			p.MandatoryRecipients, genKey(t, "mandatoryKey"),
		)
	}
	a := rapid.IntRange(0, 3).Draw(t, "affected")
	for i := 0; i < a; i++ {
		if p.AffectedContractTransactions == nil {
			p.AffectedContractTransactions = map[model.MessageHash][]byte{}
		}
		var h model.MessageHash
		copy(h[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "affectedHash"))
		p.AffectedContractTransactions[h] = optionalBytes(t, "securityHash", 1)
	}
	return p
}

func TestPayloadCodecsRoundTrip(t *testing.T) { // A
	t.Parallel()
	cborCodec, err := NewCBORCodec()
	require.NoError(t, err)

	for name, codec := range map[string]interfaces.PayloadCodec{
		CodecLegacy: LegacyCodec{},
		CodecCBOR:   cborCodec,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rapid.Check(t, func(rt *rapid.T) {
				p := genPayload(rt)
				data, err := codec.Encode(p)
				if err != nil {
					rt.Fatalf("encode: %v", err)
				}
				got, err := codec.Decode(data)
				if err != nil {
					rt.Fatalf("decode: %v", err)
				}
				assert.Equal(rt, p, got)
				assert.Equal(rt, p.Hash(), got.Hash())
			})
		})
	}
}

func TestLegacyEncodingIsDeterministic(t *testing.T) { // A
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		p := genPayload(rt)
		a, err := LegacyCodec{}.Encode(p)
		if err != nil {
			rt.Fatalf("encode: %v", err)
		}
		b, err := LegacyCodec{}.Encode(p.Clone())
		if err != nil {
			rt.Fatalf("encode: %v", err)
		}
		assert.Equal(rt, a, b)
	})
}

func TestLegacyDecodesShortLayouts(t *testing.T) { // A
	t.Parallel()
	var sender model.PublicKey
	sender[0] = 7
	var nonce, rnonce model.Nonce
	nonce[0], rnonce[0] = 1, 2

	w := &frameWriter{}
	w.field(sender[:])
	w.field([]byte("cipher"))
	w.field(nonce[:])
	w.array([][]byte{[]byte("box-1"), []byte("box-2")})
	w.field(rnonce[:])

	p, err := LegacyCodec{}.Decode(w.bytes())
	require.NoError(t, err)
	assert.Equal(t, sender, p.SenderKey)
	assert.Nil(t, p.RecipientKeys)
	assert.Len(t, p.RecipientBoxes, 2)
	assert.Equal(t, model.StandardPrivate, p.PrivacyMode)

	var k1, k2 model.PublicKey
	k1[0], k2[0] = 1, 2
	w.array([][]byte{k1[:], k2[:]})
	p, err = LegacyCodec{}.Decode(w.bytes())
	require.NoError(t, err)
	assert.Equal(t, []model.PublicKey{k1, k2}, p.RecipientKeys)
}

func TestLegacyRejectsMalformedInput(t *testing.T) { // A
	t.Parallel()
	valid, err := LegacyCodec{}.Encode(model.EncodedPayload{
		CipherText:     []byte("c"),
		RecipientKeys:  []model.PublicKey{{1}},
		RecipientBoxes: [][]byte{[]byte("b")},
	})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     nil,
		"truncated": valid[:len(valid)/2],
		"trailing":  append(append([]byte(nil), valid...), 0xff),
		"huge":      {0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	for name, data := range cases {
		_, err := LegacyCodec{}.Decode(data)
		assert.Truef(t, errors.Is(err, model.ErrIntegrity),
			"%s: got %v", name, err)
	}
}

func TestLegacyRejectsMisalignedBoxes(t *testing.T) { // A
	t.Parallel()
	data, err := LegacyCodec{}.Encode(model.EncodedPayload{
		CipherText:     []byte("c"),
		RecipientKeys:  []model.PublicKey{{1}, {2}},
		RecipientBoxes: [][]byte{[]byte("b")},
	})
	require.NoError(t, err)
	_, err = LegacyCodec{}.Decode(data)
	assert.True(t, errors.Is(err, model.ErrIntegrity))
}

func TestNewCodec(t *testing.T) { // A
	t.Parallel()
	c, err := NewCodec("")
	require.NoError(t, err)
	assert.IsType(t, LegacyCodec{}, c)

	c, err = NewCodec("CBOR")
	require.NoError(t, err)
	assert.IsType(t, &CBORCodec{}, c)

	_, err = NewCodec("protobuf")
	assert.Error(t, err)
}

func TestNodeInfoRoundTrip(t *testing.T) { // A
	t.Parallel()
	info := model.NodeInfo{
		URL: "http://a:9000",
		Recipients: []model.Recipient{
			{Key: model.PublicKey{1}, URL: "http://a:9000"},
			{Key: model.PublicKey{2}, URL: "http://b:9000"},
		},
		Parties: []model.Party{
			{URL: "http://a:9000"},
			{URL: "http://b:9000"},
		},
		SupportedAPIVersions: []string{"v1", "v2"},
	}
	got, err := DecodeNodeInfo(EncodeNodeInfo(info))
	require.NoError(t, err)
	assert.Equal(t, info, got)

	// Without the versions tail.
	w := &frameWriter{}
	w.field([]byte("http://c:9000"))
	w.long(0)
	w.array(nil)
	got, err = DecodeNodeInfo(w.bytes())
	require.NoError(t, err)
	assert.Equal(t, "http://c:9000", got.URL)
	assert.Empty(t, got.SupportedAPIVersions)
}

func TestResendPagesAndAcks(t *testing.T) { // A
	t.Parallel()
	items := []interfaces.ResendItem{
		{Hash: model.HashCipherText([]byte("a")), Payload: []byte("pa")},
		{Hash: model.HashCipherText([]byte("b")), Payload: []byte("pb")},
	}
	page := interfaces.ResendPage{Items: items, Next: items[1].Hash, More: true}
	got, err := DecodeResendPage(EncodeResendPage(page))
	require.NoError(t, err)
	assert.Equal(t, page, got)

	last, err := DecodeResendPage(EncodeResendPage(interfaces.ResendPage{}))
	require.NoError(t, err)
	assert.Empty(t, last.Items)
	assert.False(t, last.More)

	req := interfaces.ResendRequest{Key: model.PublicKey{7}, After: items[0].Hash, Limit: 50}
	gotReq, err := DecodeResendRequest(EncodeResendRequest(req))
	require.NoError(t, err)
	assert.Equal(t, req, gotReq)
	_, err = DecodeResendRequest(req.Key[:])
	assert.ErrorIs(t, err, model.ErrIntegrity)

	acks := []interfaces.PushAck{
		{Hash: items[0].Hash},
		{Error: "integrity violation"},
	}
	gotAcks, err := DecodePushAcks(EncodePushAcks(acks))
	require.NoError(t, err)
	assert.Equal(t, acks, gotAcks)

	arrays := [][]byte{[]byte("x"), []byte("yy")}
	gotArrays, err := DecodeByteArrays(EncodeByteArrays(arrays))
	require.NoError(t, err)
	assert.Equal(t, arrays, gotArrays)
}

func TestPrivacyGroupRoundTrip(t *testing.T) { // A
	t.Parallel()
	g := model.PrivacyGroup{
		ID:          []byte("id"),
		Name:        "group",
		Description: "desc",
		Members:     []model.PublicKey{{1}, {2}},
		Type:        model.GroupPantheon,
		State:       model.GroupActive,
		Seed:        []byte("seed"),
	}
	data, err := EncodePrivacyGroup(g)
	require.NoError(t, err)
	got, err := DecodePrivacyGroup(data)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	_, err = DecodePrivacyGroup([]byte{0xff})
	assert.True(t, errors.Is(err, model.ErrIntegrity))
}
