package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

func TestParseAppliesDefaults(t *testing.T) { // A
	t.Parallel()
	c, err := Parse([]byte("keys:\n  keyFiles: [node.key]\n"))
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, c.Server.Transport)
	assert.Equal(t, "http://localhost:9001", c.Server.AdvertisedURL)
	assert.Equal(t, StorageBadger, c.Storage.Kind)
	assert.Equal(t, "legacy", c.Storage.Codec)
	assert.Equal(t, 5*time.Second, c.PartyInfo.PollInterval)
	assert.Equal(t, 500, c.Resend.BatchSize)
	assert.EqualValues(t, 5, c.Resend.MaxAttempts)
}

func TestLoadFullFile(t *testing.T) { // A
	t.Parallel()
	fwd := model.PublicKey{9}
	yml := `
server:
  advertisedUrl: https://node-a.example:9001
  listenAddr: 0.0.0.0:9001
  transport: quic
peers:
  - https://node-b.example:9001
keys:
  keyFiles: [a.key, b.key]
  forwardingKeys: [` + fwd.String() + `]
storage:
  kind: mysql
  dsn: user:pw@tcp(db:3306)/privacy
  codec: cbor
features:
  enhancedPrivacy: true
partyInfo:
  pollInterval: 2s
resend:
  batchSize: 50
log:
  level: debug
`
	path := filepath.Join(t.TempDir(), "privacy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportQUIC, c.Server.Transport)
	assert.Equal(t, []string{"https://node-b.example:9001"}, c.Peers)
	assert.Equal(t, StorageMySQL, c.Storage.Kind)
	assert.True(t, c.Features.EnhancedPrivacy)
	assert.Equal(t, 2*time.Second, c.PartyInfo.PollInterval)
	assert.Equal(t, 50, c.Resend.BatchSize)

	keys, err := ParseKeys(c.Keys.ForwardingKeys)
	require.NoError(t, err)
	assert.Equal(t, []model.PublicKey{fwd}, keys)
}

func TestValidateRejects(t *testing.T) { // A
	t.Parallel()
	cases := map[string]string{
		"no key files":   "server:\n  transport: http\n",
		"bad transport":  "keys:\n  keyFiles: [k]\nserver:\n  transport: smoke\n",
		"mysql no dsn":   "keys:\n  keyFiles: [k]\nstorage:\n  kind: mysql\n",
		"bad codec":      "keys:\n  keyFiles: [k]\nstorage:\n  codec: json\n",
		"bad forwarding": "keys:\n  keyFiles: [k]\n  forwardingKeys: [notbase64!]\n",
		"unknown field":  "keys:\n  keyFiles: [k]\nbogus: 1\n",
	}
	for name, yml := range cases {
		_, err := Parse([]byte(yml))
		assert.Errorf(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) { // A
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateExternalKeys(t *testing.T) { // A
	t.Parallel()
	c := Default()
	require.Error(t, c.Validate())
	require.NoError(t, c.ValidateExternalKeys())

	c.Storage.Kind = "tape"
	require.Error(t, c.ValidateExternalKeys())
}
