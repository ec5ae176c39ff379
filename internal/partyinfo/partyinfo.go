// Package partyinfo keeps the routing registry of a
// privacy node: which peers exist and which peer
// serves each public key.
package partyinfo

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// APIVersions is advertised when no other list is
// configured.
var APIVersions = []string{"v1", "v2"}

// ErrUnknownPeer rejects party info from a node
// that is not configured while peer discovery is
// disabled.
var ErrUnknownPeer = fmt.Errorf(
	"%w: peer discovery disabled and peer is not configured",
	model.ErrPrivacyValidation,
)

// KeySource lists the keys managed by this node.
type KeySource interface {
	PublicKeys() []model.PublicKey
}

// Config configures a Service.
type Config struct {
	URL   string
	Keys  KeySource
	Peers []string
	// DisablePeerDiscovery restricts updates to the
	// configured peers.
	DisablePeerDiscovery bool
	APIVersions          []string
	Metrics              *metrics.Metrics
	Logger               *slog.Logger
	// Now is the clock used to stamp claims.
	Now func() time.Time
}

// route is one claim that key is served at url.
type route struct {
	url       string
	claimedAt time.Time
}

// snapshot is immutable once published.
type snapshot struct {
	routes  map[model.PublicKey]route
	parties map[string]model.Party
}

// Service implements interfaces.Discovery. Readers
// load the current snapshot without locking; a
// single writer at a time builds the next one.
type Service struct { // A
	url         string
	keys        KeySource
	configured  map[string]bool
	discovery   bool
	apiVersions []string
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

var _ interfaces.Discovery = (*Service)(nil)

// New creates a registry seeded with the
// configured peers.
func New(cfg Config) *Service { // A
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.APIVersions) == 0 {
		cfg.APIVersions = APIVersions
	}
	s := &Service{
		url:         model.NormalizeURL(cfg.URL),
		keys:        cfg.Keys,
		configured:  make(map[string]bool, len(cfg.Peers)),
		discovery:   !cfg.DisablePeerDiscovery,
		apiVersions: append([]string(nil), cfg.APIVersions...),
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
	initial := &snapshot{
		routes:  make(map[model.PublicKey]route),
		parties: make(map[string]model.Party),
	}
	for _, p := range cfg.Peers {
		u := model.NormalizeURL(p)
		if u == "" || u == s.url {
			continue
		}
		s.configured[u] = true
		initial.parties[u] = model.Party{URL: u}
	}
	s.current.Store(initial)
	s.observe(initial)
	return s
}

// URL returns the advertised URL of this node.
func (s *Service) URL() string {
	return s.url
}

// IsLocalURL reports whether u addresses this node.
func (s *Service) IsLocalURL(u string) bool {
	return model.NormalizeURL(u) == s.url
}

func (s *Service) localKeys() []model.PublicKey {
	if s.keys == nil {
		return nil
	}
	return s.keys.PublicKeys()
}

// GetCurrentNodeInfo returns what this node
// advertises: its own keys at its own URL, the
// routes it learned and every known party.
func (s *Service) GetCurrentNodeInfo() model.NodeInfo { // A
	snap := s.current.Load()
	local := s.localKeys()

	info := model.NodeInfo{
		URL:                  s.url,
		SupportedAPIVersions: append([]string(nil), s.apiVersions...),
	}
	for _, k := range local {
		info.Recipients = append(info.Recipients, model.Recipient{
			Key: k,
			URL: s.url,
		})
	}
	for k, r := range snap.routes {
		if model.ContainsKey(local, k) {
			continue
		}
		info.Recipients = append(info.Recipients, model.Recipient{
			Key: k,
			URL: r.url,
		})
	}
	sortRecipients(info.Recipients)
	info.Parties = sortedParties(snap.parties)
	return info
}

// UpdateFromRemote merges the routing info a peer
// sent and returns this node's info as the reply.
// Local keys are never rerouted. A key claimed by
// two peers resolves to the newer claim; an equal
// timestamp keeps the existing route. Nothing is
// removed by a merge.
func (s *Service) UpdateFromRemote( // A
	remote model.NodeInfo,
) (model.NodeInfo, error) {
	claimant := model.NormalizeURL(remote.URL)
	if claimant == "" {
		return model.NodeInfo{}, fmt.Errorf(
			"%w: party info without url",
			model.ErrIntegrity,
		)
	}
	if claimant == s.url {
		return s.GetCurrentNodeInfo(), nil
	}
	if !s.discovery && !s.configured[claimant] {
		s.log.Debug("party info from unknown peer ignored",
			"peer", claimant)
		return model.NodeInfo{}, fmt.Errorf("%w: %s", ErrUnknownPeer, claimant)
	}

	local := s.localKeys()
	now := s.now()

	s.writeMu.Lock()
	old := s.current.Load()
	next := &snapshot{
		routes:  make(map[model.PublicKey]route, len(old.routes)+len(remote.Recipients)),
		parties: make(map[string]model.Party, len(old.parties)+len(remote.Parties)+1),
	}
	for k, r := range old.routes {
		next.routes[k] = r
	}
	for u, p := range old.parties {
		next.parties[u] = p
	}

	next.parties[claimant] = model.Party{URL: claimant, LastContacted: now}
	if s.discovery {
		for _, p := range remote.Parties {
			u := model.NormalizeURL(p.URL)
			if u == "" || u == s.url {
				continue
			}
			if _, ok := next.parties[u]; !ok {
				next.parties[u] = model.Party{URL: u}
			}
		}
	}

	changed := 0
	for _, rec := range remote.Recipients {
		target := model.NormalizeURL(rec.URL)
		if target == "" || target == s.url || model.ContainsKey(local, rec.Key) {
			continue
		}
		if !s.discovery && target != claimant {
			continue
		}
		if existing, ok := next.routes[rec.Key]; ok {
			if existing.url == target {
				next.routes[rec.Key] = route{url: target, claimedAt: now}
				continue
			}
			if !now.After(existing.claimedAt) {
				continue
			}
		}
		next.routes[rec.Key] = route{url: target, claimedAt: now}
		changed++
		if s.discovery {
			if _, ok := next.parties[target]; !ok {
				next.parties[target] = model.Party{URL: target}
			}
		}
	}
	s.current.Store(next)
	s.writeMu.Unlock()

	if changed > 0 {
		s.log.Debug("routes updated",
			"peer", claimant,
			"changed", changed)
	}
	s.observe(next)
	return s.GetCurrentNodeInfo(), nil
}

// RecipientURL resolves the peer serving key. Keys
// managed locally resolve to this node.
func (s *Service) RecipientURL(key model.PublicKey) (string, error) { // A
	if model.ContainsKey(s.localKeys(), key) {
		return s.url, nil
	}
	r, ok := s.current.Load().routes[key]
	if !ok {
		return "", fmt.Errorf("%w: no route for %s", model.ErrKeyNotFound, key)
	}
	return r.url, nil
}

// RemoteParties lists every known peer except this
// node.
func (s *Service) RemoteParties() []model.Party {
	return sortedParties(s.current.Load().parties)
}

// RemoteNodeInfos groups the learned routes by the
// peer that serves them.
func (s *Service) RemoteNodeInfos() []model.NodeInfo { // A
	snap := s.current.Load()
	byURL := make(map[string][]model.Recipient)
	for _, p := range snap.parties {
		byURL[p.URL] = nil
	}
	for k, r := range snap.routes {
		byURL[r.url] = append(byURL[r.url], model.Recipient{Key: k, URL: r.url})
	}
	out := make([]model.NodeInfo, 0, len(byURL))
	for u, recs := range byURL {
		sortRecipients(recs)
		out = append(out, model.NodeInfo{URL: u, Recipients: recs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// RemoveRecipient forgets a peer and every route
// to it. Configured peers stay known as parties.
func (s *Service) RemoveRecipient(u string) int { // A
	target := model.NormalizeURL(u)

	s.writeMu.Lock()
	old := s.current.Load()
	next := &snapshot{
		routes:  make(map[model.PublicKey]route, len(old.routes)),
		parties: make(map[string]model.Party, len(old.parties)),
	}
	removed := 0
	for k, r := range old.routes {
		if r.url == target {
			removed++
			continue
		}
		next.routes[k] = r
	}
	for pu, p := range old.parties {
		if pu == target && !s.configured[pu] {
			continue
		}
		next.parties[pu] = p
	}
	s.current.Store(next)
	s.writeMu.Unlock()

	s.log.Info("recipient url removed",
		"url", target,
		"routes", removed)
	s.observe(next)
	return removed
}

func (s *Service) observe(snap *snapshot) {
	s.metrics.KnownRecipients.Set(float64(len(snap.routes)))
	s.metrics.KnownParties.Set(float64(len(snap.parties)))
}

func sortedParties(parties map[string]model.Party) []model.Party {
	out := make([]model.Party, 0, len(parties))
	for _, p := range parties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func sortRecipients(recs []model.Recipient) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].URL != recs[j].URL {
			return recs[i].URL < recs[j].URL
		}
		return recs[i].Key.String() < recs[j].Key.String()
	})
}
