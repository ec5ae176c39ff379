package privacy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-privacy/internal/config"
	"github.com/i5heu/ouroboros-privacy/internal/keys"
	"github.com/i5heu/ouroboros-privacy/internal/transport"
	"github.com/i5heu/ouroboros-privacy/pkg/logging"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	urlA = "http://node-a:9001"
	urlB = "http://node-b:9001"
	urlC = "http://node-c:9001"
)

func settings(url string, peers ...string) config.Config {
	return config.Config{
		Server: config.Server{AdvertisedURL: url},
		Peers:  peers,
		Resend: config.Resend{MaxAttempts: 2, Backoff: time.Millisecond},
	}
}

type testNode struct {
	*Node
	key model.PublicKey
}

func startNode( // A
	t *testing.T,
	lb *transport.Loopback,
	s config.Config,
) testNode {
	t.Helper()
	pair, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	n, err := New(Config{
		Settings:    s,
		Logger:      logging.Discard(),
		KeyProvider: keys.NewStaticProvider(pair),
		Network:     lb,
		InMemory:    true,
		ManualTasks: true,
	})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	return testNode{Node: n, key: pair.Public}
}

func (n testNode) raw(t *testing.T, h model.MessageHash) ([]byte, bool) {
	t.Helper()
	row, found, err := n.store.RetrieveByHash(context.Background(), h)
	require.NoError(t, err)
	return row.EncodedPayload, found
}

func threeNodes(t *testing.T) (testNode, testNode, testNode) { // A
	t.Helper()
	lb := transport.NewLoopback(logging.Discard())
	a := startNode(t, lb, settings(urlA, urlB, urlC))
	b := startNode(t, lb, settings(urlB, urlA))
	c := startNode(t, lb, settings(urlC, urlA))

	ctx := context.Background()
	require.NoError(t, a.PollPartyInfo(ctx))
	require.NoError(t, b.PollPartyInfo(ctx))
	require.NoError(t, c.PollPartyInfo(ctx))
	return a, b, c
}

func TestScenarioSendDeleteRecreate(t *testing.T) { // A
	t.Parallel()
	a, b, c := threeNodes(t)
	ctx := context.Background()

	resp, err := a.Send(ctx, SendRequest{
		Payload:    []byte("hello"),
		Recipients: []model.PublicKey{b.key, c.key},
	})
	require.NoError(t, err)
	require.Empty(t, resp.FailedPeers)
	h := resp.Hash
	original, found := a.raw(t, h)
	require.True(t, found)

	got, err := b.Receive(ctx, ReceiveRequest{Hash: h, Recipient: b.key})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)

	bView, found := b.raw(t, h)
	require.True(t, found)
	assert.NotEqual(t, original, bView)
	_, err = c.Receive(ctx, ReceiveRequest{Hash: h, Recipient: c.key})
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx, h))
	_, err = a.Receive(ctx, ReceiveRequest{Hash: h})
	require.ErrorIs(t, err, model.ErrTransactionNotFound)

	res, err := c.ResendAll(ctx, a.key)
	require.NoError(t, err)
	assert.Equal(t, ResendResult{Total: 1, Published: 1}, res)

	recreated, found := a.raw(t, h)
	require.True(t, found)
	assert.Equal(t, original, recreated)

	got, err = a.Receive(ctx, ReceiveRequest{Hash: h})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestScenarioRecover(t *testing.T) { // A
	t.Parallel()
	a, b, c := threeNodes(t)
	ctx := context.Background()

	resp, err := a.Send(ctx, SendRequest{
		Payload:    []byte("recover me"),
		Recipients: []model.PublicKey{b.key, c.key},
	})
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, resp.Hash))

	report, err := a.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", report.Status.String())
	assert.Equal(t, 1, report.Received)
	assert.Equal(t, 1, report.Duplicate)

	got, err := a.Receive(ctx, ReceiveRequest{Hash: resp.Hash})
	require.NoError(t, err)
	assert.Equal(t, []byte("recover me"), got.Payload)
}

func TestDiscoveryGossip(t *testing.T) { // A
	t.Parallel()
	a, b, c := threeNodes(t)

	info, err := b.GetPartyInfo()
	require.NoError(t, err)
	assert.Equal(t, []model.PublicKey{c.key}, info.KeysAt(urlC))
	assert.Len(t, info.Recipients, 3)

	removed, err := b.RemoveRecipients(urlC)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = b.Send(context.Background(), SendRequest{
		Payload:    []byte("x"),
		Recipients: []model.PublicKey{c.key},
	})
	require.ErrorIs(t, err, model.ErrKeyNotFound)

	_, err = a.Send(context.Background(), SendRequest{
		Payload:    []byte("x"),
		Recipients: []model.PublicKey{c.key},
	})
	require.NoError(t, err)
}

func TestPrivacyGroupAcrossNodes(t *testing.T) { // A
	t.Parallel()
	a, b, _ := threeNodes(t)
	ctx := context.Background()

	g, err := a.CreatePrivacyGroup(ctx, "group", "desc", a.key,
		[]model.PublicKey{a.key, b.key}, []byte("seed"))
	require.NoError(t, err)

	got, err := b.RetrievePrivacyGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "group", got.Name)

	found, err := b.FindPrivacyGroup(ctx, []model.PublicKey{b.key, a.key})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = a.DeletePrivacyGroup(ctx, a.key, g.ID)
	require.NoError(t, err)
	found, err = b.FindPrivacyGroup(ctx, []model.PublicKey{b.key, a.key})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestNodeLifecycle(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	_, err := New(Config{Settings: settings(urlA)})
	require.Error(t, err)

	pair, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	n, err := New(Config{
		Settings:    settings(urlA),
		Logger:      logging.Discard(),
		KeyProvider: keys.NewStaticProvider(pair),
		Network:     transport.NewLoopback(logging.Discard()),
		InMemory:    true,
		ManualTasks: true,
	})
	require.NoError(t, err)

	_, err = n.Send(ctx, SendRequest{Payload: []byte("x")})
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, n.Start(ctx))
	require.NoError(t, n.Start(ctx))
	require.NoError(t, n.Upcheck(ctx))
	managed, err := n.PublicKeys()
	require.NoError(t, err)
	assert.Equal(t, []model.PublicKey{pair.Public}, managed)

	require.NoError(t, n.Close(ctx))
	require.NoError(t, n.Close(ctx))
	_, err = n.GetPartyInfo()
	require.ErrorIs(t, err, ErrClosed)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestNodesOverHTTP(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	addrA, addrB := freeAddr(t), freeAddr(t)

	start := func(addr string, peers ...string) testNode {
		pair, err := keys.GenerateKeyPair()
		require.NoError(t, err)
		s := settings("http://"+addr, peers...)
		s.Server.ListenAddr = addr
		s.Server.RequestTimeout = 5 * time.Second
		n, err := New(Config{
			Settings:    s,
			Logger:      logging.Discard(),
			KeyProvider: keys.NewStaticProvider(pair),
			InMemory:    true,
			ManualTasks: true,
		})
		require.NoError(t, err)
		require.NoError(t, n.Start(ctx))
		t.Cleanup(func() { _ = n.Close(context.Background()) })
		return testNode{Node: n, key: pair.Public}
	}
	a := start(addrA, "http://"+addrB)
	b := start(addrB)
	assert.Equal(t, addrA, a.ListenAddr())

	require.NoError(t, a.PollPartyInfo(ctx))
	resp, err := a.Send(ctx, SendRequest{
		Payload:    []byte("over http"),
		Recipients: []model.PublicKey{b.key},
	})
	require.NoError(t, err)
	require.Empty(t, resp.FailedPeers)

	got, err := b.Receive(ctx, ReceiveRequest{Hash: resp.Hash, Recipient: b.key})
	require.NoError(t, err)
	assert.Equal(t, []byte("over http"), got.Payload)
}
