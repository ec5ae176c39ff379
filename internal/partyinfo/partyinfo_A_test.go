package partyinfo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/logging"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	urlA = "http://node-a:9001"
	urlB = "http://node-b:9001"
	urlC = "http://node-c:9001"
)

type staticKeys []model.PublicKey

func (k staticKeys) PublicKeys() []model.PublicKey { return k }

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func key(b byte) model.PublicKey {
	var k model.PublicKey
	k[0] = b
	return k
}

func newService(t *testing.T, cfg Config) (*Service, *fakeClock) { // A
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	if cfg.URL == "" {
		cfg.URL = urlA
	}
	if cfg.Keys == nil {
		cfg.Keys = staticKeys{key(1)}
	}
	cfg.Now = clock.Now
	cfg.Logger = logging.Discard()
	return New(cfg), clock
}

func infoFrom(u string, keys ...model.PublicKey) model.NodeInfo {
	info := model.NodeInfo{URL: u}
	for _, k := range keys {
		info.Recipients = append(info.Recipients, model.Recipient{Key: k, URL: u})
	}
	return info
}

func TestCurrentNodeInfoAdvertisesLocalKeys(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{Peers: []string{urlB + "/", urlA}})

	info := s.GetCurrentNodeInfo()
	assert.Equal(t, urlA, info.URL)
	assert.Equal(t, []model.PublicKey{key(1)}, info.KeysAt(urlA))
	require.Len(t, info.Parties, 1)
	assert.Equal(t, urlB, info.Parties[0].URL)
	assert.Equal(t, APIVersions, info.SupportedAPIVersions)
}

func TestUpdateFromRemoteLearnsRoutes(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})

	reply, err := s.UpdateFromRemote(infoFrom(urlB, key(2), key(3)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.PublicKey{key(2), key(3)}, reply.KeysAt(urlB))

	got, err := s.RecipientURL(key(2))
	require.NoError(t, err)
	assert.Equal(t, urlB, got)

	got, err = s.RecipientURL(key(1))
	require.NoError(t, err)
	assert.Equal(t, urlA, got)

	_, err = s.RecipientURL(key(9))
	require.ErrorIs(t, err, model.ErrKeyNotFound)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRemoteCannotClaimLocalKey(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})

	_, err := s.UpdateFromRemote(infoFrom(urlB, key(1)))
	require.NoError(t, err)
	got, err := s.RecipientURL(key(1))
	require.NoError(t, err)
	assert.Equal(t, urlA, got)
	assert.Equal(t, []model.PublicKey{key(1)}, s.GetCurrentNodeInfo().KeysAt(urlA))
}

func TestNewestClaimWins(t *testing.T) { // A
	t.Parallel()
	s, clock := newService(t, Config{})

	_, err := s.UpdateFromRemote(infoFrom(urlB, key(5)))
	require.NoError(t, err)

	// Same instant: existing route is kept.
	_, err = s.UpdateFromRemote(infoFrom(urlC, key(5)))
	require.NoError(t, err)
	got, _ := s.RecipientURL(key(5))
	assert.Equal(t, urlB, got)

	clock.Advance(time.Second)
	_, err = s.UpdateFromRemote(infoFrom(urlC, key(5)))
	require.NoError(t, err)
	got, _ = s.RecipientURL(key(5))
	assert.Equal(t, urlC, got)
}

func TestMergeIsMonotonic(t *testing.T) { // A
	t.Parallel()
	s, clock := newService(t, Config{})

	_, err := s.UpdateFromRemote(infoFrom(urlB, key(2), key(3)))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.UpdateFromRemote(infoFrom(urlC, key(3), key(4)))
	require.NoError(t, err)

	// A later partial answer removes nothing.
	clock.Advance(time.Second)
	_, err = s.UpdateFromRemote(model.NodeInfo{URL: urlB})
	require.NoError(t, err)

	for _, k := range []model.PublicKey{key(2), key(3), key(4)} {
		_, err := s.RecipientURL(k)
		require.NoError(t, err, "key %s", k)
	}
	assert.Len(t, s.RemoteParties(), 2)
}

func TestGossipedPartiesAreLearned(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})

	remote := infoFrom(urlB, key(2))
	remote.Parties = []model.Party{{URL: urlC}, {URL: urlA}}
	_, err := s.UpdateFromRemote(remote)
	require.NoError(t, err)

	parties := s.RemoteParties()
	require.Len(t, parties, 2)
	assert.Equal(t, urlB, parties[0].URL)
	assert.False(t, parties[0].LastContacted.IsZero())
	assert.Equal(t, urlC, parties[1].URL)
	assert.True(t, parties[1].LastContacted.IsZero())
}

func TestDiscoveryDisabled(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{
		Peers:                []string{urlB},
		DisablePeerDiscovery: true,
	})

	_, err := s.UpdateFromRemote(infoFrom(urlC, key(4)))
	require.ErrorIs(t, err, ErrUnknownPeer)
	require.ErrorIs(t, err, model.ErrPrivacyValidation)

	remote := infoFrom(urlB, key(2))
	remote.Recipients = append(remote.Recipients, model.Recipient{Key: key(4), URL: urlC})
	remote.Parties = []model.Party{{URL: urlC}}
	_, err = s.UpdateFromRemote(remote)
	require.NoError(t, err)

	_, err = s.RecipientURL(key(2))
	require.NoError(t, err)
	_, err = s.RecipientURL(key(4))
	require.ErrorIs(t, err, model.ErrKeyNotFound)
	assert.Len(t, s.RemoteParties(), 1)
}

func TestRemoveRecipient(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{Peers: []string{urlB}})

	_, err := s.UpdateFromRemote(infoFrom(urlB, key(2)))
	require.NoError(t, err)
	_, err = s.UpdateFromRemote(infoFrom(urlC, key(3)))
	require.NoError(t, err)

	assert.Equal(t, 1, s.RemoveRecipient(urlC))
	_, err = s.RecipientURL(key(3))
	require.ErrorIs(t, err, model.ErrKeyNotFound)
	assert.Len(t, s.RemoteParties(), 1)

	// Configured peers stay known.
	assert.Equal(t, 1, s.RemoveRecipient(urlB))
	assert.Len(t, s.RemoteParties(), 1)
}

func TestRemoteNodeInfos(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})
	_, err := s.UpdateFromRemote(infoFrom(urlB, key(2), key(3)))
	require.NoError(t, err)
	_, err = s.UpdateFromRemote(infoFrom(urlC))
	require.NoError(t, err)

	infos := s.RemoteNodeInfos()
	require.Len(t, infos, 2)
	assert.Equal(t, urlB, infos[0].URL)
	assert.Len(t, infos[0].Recipients, 2)
	assert.Equal(t, urlC, infos[1].URL)
	assert.Empty(t, infos[1].Recipients)
}

func TestUpdateFromRemoteValidation(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})

	_, err := s.UpdateFromRemote(model.NodeInfo{})
	require.ErrorIs(t, err, model.ErrIntegrity)

	reply, err := s.UpdateFromRemote(infoFrom(urlA, key(7)))
	require.NoError(t, err)
	assert.Empty(t, reply.Parties)
	_, err = s.RecipientURL(key(7))
	require.ErrorIs(t, err, model.ErrKeyNotFound)
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("http://peer-%d:9001", i)
			_, err := s.UpdateFromRemote(infoFrom(u, key(byte(10+i))))
			assert.NoError(t, err)
			_ = s.GetCurrentNodeInfo()
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.RemoteParties(), 8)
	assert.Len(t, s.GetCurrentNodeInfo().Recipients, 9)
}

// fakePeers answers PartyInfo from a fixed table.
type fakePeers struct {
	interfaces.PeerClient
	mu    sync.Mutex
	infos map[string]model.NodeInfo
	calls []string
}

func (f *fakePeers) PartyInfo( // A
	_ context.Context,
	url string,
	_ model.NodeInfo,
) (model.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	info, ok := f.infos[url]
	if !ok {
		return model.NodeInfo{}, fmt.Errorf("%w: %s down", model.ErrNetwork, url)
	}
	return info, nil
}

func TestPollOnceIsolatesFailures(t *testing.T) { // A
	t.Parallel()
	m := metrics.New()
	s, _ := newService(t, Config{Peers: []string{urlB, urlC}, Metrics: m})
	peers := &fakePeers{infos: map[string]model.NodeInfo{
		urlC: infoFrom(urlC, key(3)),
	}}
	p := NewPoller(s, peers, time.Second, logging.Discard())

	err := p.PollOnce(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrNetwork)
	assert.Equal(t, []string{urlB, urlC}, peers.calls)

	got, err := s.RecipientURL(key(3))
	require.NoError(t, err)
	assert.Equal(t, urlC, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PartyInfoPolls.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PartyInfoPolls.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnownRecipients))
}

func TestPollOnceUnionAcrossPeers(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{Peers: []string{urlB, urlC}})
	peers := &fakePeers{infos: map[string]model.NodeInfo{
		urlB: infoFrom(urlB, key(2), key(3)),
		urlC: infoFrom(urlC, key(4)),
	}}
	p := NewPoller(s, peers, time.Second, logging.Discard())
	require.NoError(t, p.PollOnce(context.Background()))

	// B drops key 3 and C goes away; nothing is forgotten.
	peers.infos[urlB] = infoFrom(urlB, key(2))
	delete(peers.infos, urlC)
	err := p.PollOnce(context.Background())
	require.True(t, errors.Is(err, model.ErrNetwork))

	for _, k := range []model.PublicKey{key(2), key(3), key(4)} {
		_, err := s.RecipientURL(k)
		require.NoError(t, err)
	}
}

func TestPollerTaskRuns(t *testing.T) { // A
	t.Parallel()
	s, _ := newService(t, Config{})
	p := NewPoller(s, &fakePeers{}, time.Second, logging.Discard())
	task := p.Task()
	require.NoError(t, task.RunNow(context.Background()))
	assert.Equal(t, pollTaskName, task.Name())
}
