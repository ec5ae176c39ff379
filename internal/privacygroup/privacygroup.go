// Package privacygroup manages named, stable sets of
// members that transactions can be addressed to.
package privacygroup

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/sha3"

	"github.com/i5heu/ouroboros-privacy/internal/encoding"
	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/internal/store"
	"github.com/i5heu/ouroboros-privacy/internal/transport"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	legacyName        = "legacy"
	legacyDescription = "Privacy groups to support the creation of groups by privateFor and privateFrom"
)

// KeySource lists the keys managed by this node.
type KeySource interface {
	PublicKeys() []model.PublicKey
}

// Config wires a Manager.
type Config struct {
	Store     store.GroupStore
	Keys      KeySource
	Discovery interfaces.Discovery
	Client    interfaces.PeerClient
	Retry     transport.RetryPolicy
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Manager creates, stores and distributes privacy
// groups.
type Manager struct { // A
	store     store.GroupStore
	keys      KeySource
	discovery interfaces.Discovery
	client    interfaces.PeerClient
	retry     transport.RetryPolicy
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New validates the wiring and returns a Manager.
func New(cfg Config) (*Manager, error) { // A
	if cfg.Store == nil || cfg.Keys == nil {
		return nil, fmt.Errorf("privacy group manager needs a store and keys")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Manager{
		store:     cfg.Store,
		keys:      cfg.Keys,
		discovery: cfg.Discovery,
		client:    cfg.Client,
		retry:     cfg.Retry,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}, nil
}

// GenerateID derives a group id from its members and
// seed. Member order does not matter.
func GenerateID(members []model.PublicKey, seed []byte) []byte { // A
	h := sha3.New256()
	for _, k := range model.SortedKeys(model.DedupKeys(members)) {
		h.Write(k[:])
	}
	h.Write(seed)
	return h.Sum(nil)
}

// GenerateLookupID derives the id under which groups
// with the same member set are indexed.
func GenerateLookupID(members []model.PublicKey) []byte {
	return GenerateID(members, nil)
}

// CreatePrivacyGroup creates a group on behalf of
// from, stores it and sends it to the nodes of the
// other members. If publishing fails the group stays
// stored and the error wraps model.ErrNetwork.
func (m *Manager) CreatePrivacyGroup( // A
	ctx context.Context,
	name string,
	description string,
	from model.PublicKey,
	members []model.PublicKey,
	seed []byte,
) (model.PrivacyGroup, error) {
	members = model.DedupKeys(members)
	if !model.ContainsKey(members, from) {
		return model.PrivacyGroup{}, fmt.Errorf(
			"%w: group creator %s is not a member",
			model.ErrPrivacyValidation,
			from,
		)
	}
	if !model.ContainsKey(m.keys.PublicKeys(), from) {
		return model.PrivacyGroup{}, fmt.Errorf(
			"%w: %s is not managed by this node",
			model.ErrKeyNotFound,
			from,
		)
	}
	targets, err := m.resolve(members)
	if err != nil {
		return model.PrivacyGroup{}, err
	}

	g := model.PrivacyGroup{
		ID:          GenerateID(members, seed),
		Name:        name,
		Description: description,
		Members:     members,
		Type:        model.GroupPantheon,
		State:       model.GroupActive,
		Seed:        append([]byte(nil), seed...),
	}
	data, err := m.save(ctx, g)
	if err != nil {
		return model.PrivacyGroup{}, err
	}
	m.metrics.PrivacyGroups.Inc()
	m.log.Info("privacy group created",
		"id", encodeID(g.ID),
		"members", len(members))
	return g, m.publish(ctx, g.ID, data, targets)
}

// CreateLegacyPrivacyGroup returns the implicit group
// of a sender and its recipients, storing it on first
// use. Legacy groups are never published.
func (m *Manager) CreateLegacyPrivacyGroup( // A
	ctx context.Context,
	from model.PublicKey,
	recipients []model.PublicKey,
) (model.PrivacyGroup, error) {
	members := model.DedupKeys(append([]model.PublicKey{from}, recipients...))
	g := model.PrivacyGroup{
		ID:          GenerateLookupID(members),
		Name:        legacyName,
		Description: legacyDescription,
		Members:     members,
		Type:        model.GroupLegacy,
		State:       model.GroupActive,
	}
	_, found, err := m.store.RetrieveGroup(ctx, g.ID)
	if err != nil {
		return model.PrivacyGroup{}, err
	}
	if found {
		return g, nil
	}
	if _, err := m.save(ctx, g); err != nil {
		return model.PrivacyGroup{}, err
	}
	return g, nil
}

// SaveResidentGroup stores or replaces a resident
// group. Its id is its name.
func (m *Manager) SaveResidentGroup( // A
	ctx context.Context,
	name string,
	description string,
	members []model.PublicKey,
) (model.PrivacyGroup, error) {
	if name == "" {
		return model.PrivacyGroup{}, fmt.Errorf(
			"%w: resident group needs a name", model.ErrPrivacyValidation,
		)
	}
	g := model.PrivacyGroup{
		ID:          []byte(name),
		Name:        name,
		Description: description,
		Members:     model.DedupKeys(members),
		Type:        model.GroupResident,
		State:       model.GroupActive,
	}
	if _, err := m.save(ctx, g); err != nil {
		return model.PrivacyGroup{}, err
	}
	return g, nil
}

// FindPrivacyGroup returns the active groups with
// exactly the given member set.
func (m *Manager) FindPrivacyGroup( // A
	ctx context.Context,
	members []model.PublicKey,
) ([]model.PrivacyGroup, error) {
	raw, err := m.store.FindGroupsByLookupID(ctx, GenerateLookupID(members))
	if err != nil {
		return nil, err
	}
	// A replaced resident group can leave a stale
	// lookup entry behind.
	return decodeActive(raw, func(g model.PrivacyGroup) bool {
		return model.SameKeySet(g.Members, members)
	})
}

// FindPrivacyGroupByType returns every active group
// of type t.
func (m *Manager) FindPrivacyGroupByType( // A
	ctx context.Context,
	t model.PrivacyGroupType,
) ([]model.PrivacyGroup, error) {
	raw, err := m.store.RetrieveAllGroups(ctx)
	if err != nil {
		return nil, err
	}
	return decodeActive(raw, func(g model.PrivacyGroup) bool { return g.Type == t })
}

// RetrievePrivacyGroup loads a group by id,
// whatever its state.
func (m *Manager) RetrievePrivacyGroup( // A
	ctx context.Context,
	id []byte,
) (model.PrivacyGroup, error) {
	data, found, err := m.store.RetrieveGroup(ctx, id)
	if err != nil {
		return model.PrivacyGroup{}, err
	}
	if !found {
		return model.PrivacyGroup{}, fmt.Errorf(
			"%w: %s", model.ErrPrivacyGroupNotFound, encodeID(id),
		)
	}
	return encoding.DecodePrivacyGroup(data)
}

// StorePrivacyGroup accepts a group pushed by a peer.
// Only PANTHEON groups travel between nodes; legacy
// and resident groups stay local and a push never
// replaces them.
func (m *Manager) StorePrivacyGroup( // A
	ctx context.Context,
	data []byte,
) error {
	g, err := encoding.DecodePrivacyGroup(data)
	if err != nil {
		return err
	}
	if g.Type != model.GroupPantheon {
		return fmt.Errorf(
			"%w: peers may not push %s privacy groups",
			model.ErrPrivacyValidation,
			g.Type,
		)
	}
	if !bytes.Equal(g.ID, GenerateID(g.Members, g.Seed)) {
		return fmt.Errorf(
			"%w: privacy group id does not match its members",
			model.ErrIntegrity,
		)
	}
	existing, found, err := m.store.RetrieveGroup(ctx, g.ID)
	if err != nil {
		return err
	}
	if found {
		local, err := encoding.DecodePrivacyGroup(existing)
		if err == nil && local.Type != model.GroupPantheon {
			return fmt.Errorf(
				"%w: %s privacy group %s is local",
				model.ErrPrivacyValidation,
				local.Type,
				encodeID(g.ID),
			)
		}
	}
	if err := m.store.SaveGroup(ctx, g.ID, GenerateLookupID(g.Members), data); err != nil {
		return err
	}
	m.log.Debug("privacy group stored",
		"id", encodeID(g.ID),
		"state", g.State.String())
	return nil
}

// DeletePrivacyGroup marks a group deleted on behalf
// of the member from and tells the other members.
func (m *Manager) DeletePrivacyGroup( // A
	ctx context.Context,
	from model.PublicKey,
	id []byte,
) (model.PrivacyGroup, error) {
	g, err := m.RetrievePrivacyGroup(ctx, id)
	if err != nil {
		return model.PrivacyGroup{}, err
	}
	if g.State == model.GroupDeleted {
		return model.PrivacyGroup{}, fmt.Errorf(
			"%w: %s is already deleted",
			model.ErrPrivacyGroupNotFound,
			encodeID(id),
		)
	}
	if !model.ContainsKey(g.Members, from) {
		return model.PrivacyGroup{}, fmt.Errorf(
			"%w: %s is not a member of the group",
			model.ErrPrivacyValidation,
			from,
		)
	}
	targets, err := m.resolve(g.Members)
	if err != nil {
		return model.PrivacyGroup{}, err
	}

	g.State = model.GroupDeleted
	data, err := m.save(ctx, g)
	if err != nil {
		return model.PrivacyGroup{}, err
	}
	m.log.Info("privacy group deleted", "id", encodeID(g.ID))
	return g, m.publish(ctx, g.ID, data, targets)
}

func (m *Manager) save( // A
	ctx context.Context,
	g model.PrivacyGroup,
) ([]byte, error) {
	data, err := encoding.EncodePrivacyGroup(g)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveGroup(ctx, g.ID, GenerateLookupID(g.Members), data); err != nil {
		return nil, err
	}
	return data, nil
}

// resolve maps every remote member to the URL of its
// node before anything is written.
func (m *Manager) resolve(members []model.PublicKey) ([]string, error) { // A
	local := m.keys.PublicKeys()
	seen := make(map[string]bool)
	var urls []string
	for _, k := range members {
		if model.ContainsKey(local, k) {
			continue
		}
		if m.discovery == nil {
			return nil, fmt.Errorf("%w: no discovery for %s", model.ErrKeyNotFound, k)
		}
		u, err := m.discovery.RecipientURL(k)
		if err != nil {
			return nil, err
		}
		if m.discovery.IsLocalURL(u) || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}

func (m *Manager) publish( // A
	ctx context.Context,
	id []byte,
	data []byte,
	urls []string,
) error {
	if len(urls) == 0 || m.client == nil {
		return nil
	}
	var result *multierror.Error
	for _, u := range urls {
		err := m.retry.Do(ctx, func(ctx context.Context) error {
			return m.client.PushPrivacyGroup(ctx, u, data)
		})
		if err != nil {
			m.log.Warn("privacy group publish failed",
				"id", encodeID(id),
				"peer", u,
				"error", err)
			result = multierror.Append(result, fmt.Errorf("publish to %s: %w", u, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrNetwork, err)
	}
	return nil
}

func decodeActive( // A
	raw [][]byte,
	keep func(model.PrivacyGroup) bool,
) ([]model.PrivacyGroup, error) {
	out := make([]model.PrivacyGroup, 0, len(raw))
	for _, data := range raw {
		g, err := encoding.DecodePrivacyGroup(data)
		if err != nil {
			return nil, err
		}
		if g.State == model.GroupActive && keep(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

func encodeID(id []byte) string {
	return base64.StdEncoding.EncodeToString(id)
}
