package enclave

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/i5heu/ouroboros-privacy/internal/keys"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/logging"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

func newPair(t testing.TB) model.KeyPair {
	t.Helper()
	p, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	return p
}

func newTestEnclave(t testing.TB, pairs ...model.KeyPair) *Enclave {
	t.Helper()
	e, err := New(Config{
		Provider: keys.NewStaticProvider(pairs...),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return e
}

func TestEncryptDecryptEveryRecipient(t *testing.T) { // A
	t.Parallel()
	a, b, c := newPair(t), newPair(t), newPair(t)
	ea := newTestEnclave(t, a)
	eb := newTestEnclave(t, b)
	ec := newTestEnclave(t, c)

	msg := []byte("transfer 10 units")
	payload, err := ea.EncryptPayload(
		msg,
		a.Public,
		[]model.PublicKey{b.Public, c.Public, a.Public},
		model.PrivacyMetadata{},
	)
	require.NoError(t, err)
	require.Len(t, payload.RecipientBoxes, 3)
	assert.NotEqual(t, payload.CipherTextNonce, payload.RecipientNonce)

	for _, tc := range []struct {
		e  *Enclave
		id model.PublicKey
	}{
		{ea, a.Public},
		{eb, b.Public},
		{ec, c.Public},
	} {
		got, err := tc.e.DecryptPayload(payload, tc.id)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestSenderOpensNarrowedView(t *testing.T) { // A
	t.Parallel()
	a, b, c := newPair(t), newPair(t), newPair(t)
	ea := newTestEnclave(t, a)

	payload, err := ea.EncryptPayload(
		[]byte("hello"),
		a.Public,
		[]model.PublicKey{b.Public, c.Public, a.Public},
		model.PrivacyMetadata{},
	)
	require.NoError(t, err)

	// The copy C holds only has C's box.
	view := payload.ForRecipients([]model.PublicKey{c.Public})
	_, hasOwn := view.BoxFor(a.Public)
	require.False(t, hasOwn)

	got, err := ea.DecryptPayload(view, a.Public)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	eb := newTestEnclave(t, b)
	_, err = eb.DecryptPayload(view, b.Public)
	assert.True(t, errors.Is(err, model.ErrEnclaveUnavailable))
}

func TestEncryptRejectsUnmanagedSender(t *testing.T) { // A
	t.Parallel()
	a, b := newPair(t), newPair(t)
	ea := newTestEnclave(t, a)

	_, err := ea.EncryptPayload(
		[]byte("x"),
		b.Public,
		[]model.PublicKey{a.Public},
		model.PrivacyMetadata{},
	)
	assert.True(t, errors.Is(err, model.ErrEnclaveUnavailable))
}

func TestEncryptRejectsEmptyRecipientKey(t *testing.T) { // A
	t.Parallel()
	a := newPair(t)
	ea := newTestEnclave(t, a)

	_, err := ea.EncryptPayload(
		[]byte("x"),
		a.Public,
		[]model.PublicKey{{}},
		model.PrivacyMetadata{},
	)
	assert.True(t, errors.Is(err, model.ErrKeyNotFound))
}

func TestDownEnclaveStillListsKeys(t *testing.T) { // A
	t.Parallel()
	a := newPair(t)
	ea := newTestEnclave(t, a)
	ea.SetStatus(interfaces.EnclaveDown)

	assert.Equal(t, []model.PublicKey{a.Public}, ea.PublicKeys())
	_, err := ea.EncryptPayload(
		[]byte("x"), a.Public, nil, model.PrivacyMetadata{},
	)
	assert.True(t, errors.Is(err, model.ErrEnclaveUnavailable))

	ea.SetStatus(interfaces.EnclaveUp)
	_, err = ea.EncryptPayload(
		[]byte("x"), a.Public, nil, model.PrivacyMetadata{},
	)
	assert.NoError(t, err)
}

func TestMaterialReproducesIdenticalPayload(t *testing.T) { // A
	t.Parallel()
	a, b := newPair(t), newPair(t)
	ea := newTestEnclave(t, a)
	recipients := []model.PublicKey{b.Public, a.Public}

	first, err := ea.EncryptPayload(
		[]byte("same"), a.Public, recipients, model.PrivacyMetadata{},
	)
	require.NoError(t, err)

	material, err := ea.RecoverMaterial(first)
	require.NoError(t, err)

	second, err := ea.EncryptPayloadWithMaterial(
		[]byte("same"), material, a.Public, recipients,
		model.PrivacyMetadata{},
	)
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), second.Hash())
	assert.Equal(t, first.CipherText, second.CipherText)
	assert.Equal(t, first.RecipientBoxes, second.RecipientBoxes)
}

func TestLegacyPayloadWithoutKeys(t *testing.T) { // A
	t.Parallel()
	a, b, c := newPair(t), newPair(t), newPair(t)
	ea := newTestEnclave(t, a)
	ec := newTestEnclave(t, c)

	payload, err := ea.EncryptPayload(
		[]byte("legacy"),
		a.Public,
		[]model.PublicKey{b.Public, c.Public},
		model.PrivacyMetadata{},
	)
	require.NoError(t, err)
	payload.RecipientKeys = nil

	got, err := ec.DecryptPayload(payload, c.Public)
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy"), got)
}

func TestCreateNewRecipientBox(t *testing.T) { // A
	t.Parallel()
	a, b, d := newPair(t), newPair(t), newPair(t)
	ea := newTestEnclave(t, a)
	ed := newTestEnclave(t, d)

	payload, err := ea.EncryptPayload(
		[]byte("late joiner"),
		a.Public,
		[]model.PublicKey{b.Public, a.Public},
		model.PrivacyMetadata{},
	)
	require.NoError(t, err)

	newBox, err := ea.CreateNewRecipientBox(payload, d.Public)
	require.NoError(t, err)
	payload.RecipientKeys = append(payload.RecipientKeys, d.Public)
	payload.RecipientBoxes = append(payload.RecipientBoxes, newBox)

	got, err := ed.DecryptPayload(payload, d.Public)
	require.NoError(t, err)
	assert.Equal(t, []byte("late joiner"), got)
}

func TestSecurityHashes(t *testing.T) { // A
	t.Parallel()
	a, b := newPair(t), newPair(t)
	ea := newTestEnclave(t, a)
	recipients := []model.PublicKey{b.Public, a.Public}

	affected, err := ea.EncryptPayload(
		[]byte("contract"), a.Public, recipients,
		model.PrivacyMetadata{Mode: model.PartyProtection},
	)
	require.NoError(t, err)
	at := model.AffectedTransaction{
		Hash:    affected.Hash(),
		Payload: affected,
	}

	payload, err := ea.EncryptPayload(
		[]byte("call"), a.Public, recipients,
		model.PrivacyMetadata{
			Mode:                 model.PartyProtection,
			AffectedTransactions: []model.AffectedTransaction{at},
		},
	)
	require.NoError(t, err)
	require.Len(t, payload.AffectedContractTransactions, 1)

	invalid, err := ea.FindInvalidSecurityHashes(
		payload, []model.AffectedTransaction{at},
	)
	require.NoError(t, err)
	assert.Empty(t, invalid)

	payload.AffectedContractTransactions[at.Hash] = []byte("forged")
	invalid, err = ea.FindInvalidSecurityHashes(
		payload, []model.AffectedTransaction{at},
	)
	require.NoError(t, err)
	assert.Equal(t, []model.MessageHash{at.Hash}, invalid)

	delete(payload.AffectedContractTransactions, at.Hash)
	unknown := model.HashCipherText([]byte("never stored"))
	payload.AffectedContractTransactions[unknown] = []byte("claimed")
	invalid, err = ea.FindInvalidSecurityHashes(
		payload, []model.AffectedTransaction{at},
	)
	require.NoError(t, err)
	assert.Equal(t, []model.MessageHash{unknown}, invalid)
}

func TestRefreshSwapsKeySet(t *testing.T) { // A
	t.Parallel()
	a, b := newPair(t), newPair(t)
	pairs := []model.KeyPair{a}
	e, err := New(Config{
		Provider: providerFunc(func() ([]model.KeyPair, error) {
			return pairs, nil
		}),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	assert.False(t, e.IsManaged(b.Public))

	pairs = []model.KeyPair{a, b}
	require.NoError(t, e.Refresh())
	assert.True(t, e.IsManaged(b.Public))
	assert.Equal(t, a.Public, e.DefaultPublicKey())
}

func TestRoundTripProperty(t *testing.T) { // A
	t.Parallel()
	a, b := newPair(t), newPair(t)
	ea := newTestEnclave(t, a)
	eb := newTestEnclave(t, b)

	rapid.Check(t, func(rt *rapid.T) {
		msg := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(rt, "msg")
		payload, err := ea.EncryptPayload(
			msg, a.Public,
			[]model.PublicKey{b.Public, a.Public},
			model.PrivacyMetadata{},
		)
		if err != nil {
			rt.Fatalf("encrypt: %v", err)
		}
		got, err := eb.DecryptPayload(payload, b.Public)
		if err != nil {
			rt.Fatalf("decrypt: %v", err)
		}
		if string(got) != string(msg) {
			rt.Fatalf("round trip mismatch")
		}
	})
}

type providerFunc func() ([]model.KeyPair, error)

func (f providerFunc) KeyPairs() ([]model.KeyPair, error) { return f() }
