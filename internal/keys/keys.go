package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/box"
	"gopkg.in/yaml.v2"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// keyFile is the on-disk form of one key pair.
type keyFile struct {
	PublicKey  string `yaml:"publicKey"`
	PrivateKey string `yaml:"privateKey"`
}

// staticProvider serves a fixed list of key pairs.
type staticProvider struct {
	pairs []model.KeyPair
}

// NewStaticProvider returns a KeyProvider over pairs.
func NewStaticProvider( // A
	pairs ...model.KeyPair,
) interfaces.KeyProvider {
	cp := make([]model.KeyPair, len(pairs))
	copy(cp, pairs)
	return &staticProvider{pairs: cp}
}

func (p *staticProvider) KeyPairs() ([]model.KeyPair, error) { // A
	if len(p.pairs) == 0 {
		return nil, errors.New("no key pairs configured")
	}
	out := make([]model.KeyPair, len(p.pairs))
	copy(out, p.pairs)
	return out, nil
}

// fileProvider re-reads its key files on every call
// so rotated keys are picked up on the next refresh.
type fileProvider struct {
	paths []string
}

// NewFileProvider returns a KeyProvider reading YAML
// key files.
func NewFileProvider( // A
	paths []string,
) interfaces.KeyProvider {
	return &fileProvider{
		paths: append([]string(nil), paths...),
	}
}

func (p *fileProvider) KeyPairs() ([]model.KeyPair, error) { // A
	return LoadKeyFiles(p.paths)
}

// GenerateKeyPair creates a fresh Curve25519 pair.
func GenerateKeyPair() (model.KeyPair, error) { // A
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return model.KeyPair{}, fmt.Errorf(
			"generate key pair: %w", err,
		)
	}
	return model.KeyPair{
		Public:  model.PublicKey(*pub),
		Private: model.PrivateKey(*priv),
	}, nil
}

// LoadKeyFiles reads every path as a key file.
func LoadKeyFiles( // A
	paths []string,
) ([]model.KeyPair, error) {
	if len(paths) == 0 {
		return nil, errors.New("no key files configured")
	}
	out := make([]model.KeyPair, 0, len(paths))
	for _, path := range paths {
		pair, err := LoadKeyFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, nil
}

// LoadKeyFile reads one YAML key file and checks
// that the public key belongs to the private key.
func LoadKeyFile(path string) (model.KeyPair, error) { // A
	data, err := os.ReadFile(path)
	if err != nil {
		return model.KeyPair{}, fmt.Errorf(
			"read key file %s: %w", path, err,
		)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return model.KeyPair{}, fmt.Errorf(
			"parse key file %s: %w", path, err,
		)
	}
	pub, err := model.PublicKeyFromBase64(kf.PublicKey)
	if err != nil {
		return model.KeyPair{}, fmt.Errorf(
			"key file %s: %w", path, err,
		)
	}
	priv, err := model.PrivateKeyFromBase64(kf.PrivateKey)
	if err != nil {
		return model.KeyPair{}, fmt.Errorf(
			"key file %s: %w", path, err,
		)
	}
	if derived := PublicFromPrivate(priv); derived != pub {
		return model.KeyPair{}, fmt.Errorf(
			"key file %s: public key does not match private key",
			path,
		)
	}
	return model.KeyPair{Public: pub, Private: priv}, nil
}

// WriteKeyFile stores pair at path with owner-only
// permissions.
func WriteKeyFile(path string, pair model.KeyPair) error { // A
	data, err := yaml.Marshal(keyFile{
		PublicKey:  pair.Public.String(),
		PrivateKey: pair.Private.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file %s: %w", path, err)
	}
	return nil
}
