// Package config loads the YAML configuration of a
// privacy node.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/i5heu/ouroboros-privacy/internal/encoding"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const (
	TransportHTTP = "http"
	TransportQUIC = "quic"

	StorageBadger = "badger"
	StorageMySQL  = "mysql"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Peers     []string  `yaml:"peers"`
	Keys      Keys      `yaml:"keys"`
	Storage   Storage   `yaml:"storage"`
	Features  Features  `yaml:"features"`
	PartyInfo PartyInfo `yaml:"partyInfo"`
	Resend    Resend    `yaml:"resend"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	// AdvertisedURL is the URL peers use to reach
	// this node.
	AdvertisedURL string `yaml:"advertisedUrl"`
	ListenAddr    string `yaml:"listenAddr"`
	Transport     string `yaml:"transport"`
	MetricsAddr   string `yaml:"metricsAddr"`
	// RequestTimeout bounds every outbound peer call.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type Keys struct {
	KeyFiles            []string `yaml:"keyFiles"`
	ForwardingKeys      []string `yaml:"forwardingKeys"`
	MandatoryRecipients []string `yaml:"mandatoryRecipients"`
}

type Storage struct {
	Kind          string `yaml:"kind"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	CacheSize     int    `yaml:"cacheSize"`
	MinimumFreeGB uint64 `yaml:"minimumFreeGB"`
	Codec         string `yaml:"codec"`
}

type Features struct {
	EnhancedPrivacy      bool `yaml:"enhancedPrivacy"`
	DisablePeerDiscovery bool `yaml:"disablePeerDiscovery"`
}

type PartyInfo struct {
	PollInterval time.Duration `yaml:"pollInterval"`
}

type Resend struct {
	BatchSize            int           `yaml:"batchSize"`
	MaxAttempts          uint64        `yaml:"maxAttempts"`
	Backoff              time.Duration `yaml:"backoff"`
	HousekeepingInterval time.Duration `yaml:"housekeepingInterval"`
	PublishWorkers       int           `yaml:"publishWorkers"`
}

type Log struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"noColor"`
}

// Default returns a configuration with every
// default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// Load reads path, applies defaults and validates.
func Load(path string) (Config, error) { // A
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and
// validates.
func Parse(data []byte) (Config, error) { // A
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() { // A
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "localhost:9001"
	}
	if c.Server.AdvertisedURL == "" {
		c.Server.AdvertisedURL = "http://" + c.Server.ListenAddr
	}
	if c.Server.Transport == "" {
		c.Server.Transport = TransportHTTP
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageBadger
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data"
	}
	if c.Storage.Codec == "" {
		c.Storage.Codec = encoding.CodecLegacy
	}
	if c.PartyInfo.PollInterval == 0 {
		c.PartyInfo.PollInterval = 5 * time.Second
	}
	if c.Resend.BatchSize == 0 {
		c.Resend.BatchSize = 500
	}
	if c.Resend.MaxAttempts == 0 {
		c.Resend.MaxAttempts = 5
	}
	if c.Resend.Backoff == 0 {
		c.Resend.Backoff = 100 * time.Millisecond
	}
	if c.Resend.HousekeepingInterval == 0 {
		c.Resend.HousekeepingInterval = 10 * time.Minute
	}
	if c.Resend.PublishWorkers == 0 {
		c.Resend.PublishWorkers = 8
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks values that defaults cannot fix.
func (c Config) Validate() error {
	return c.validate(true)
}

// ValidateExternalKeys is Validate for a node whose
// key provider is supplied in code, so no key files
// are needed.
func (c Config) ValidateExternalKeys() error {
	return c.validate(false)
}

func (c Config) validate(needKeyFiles bool) error { // A
	var errs []error
	switch c.Server.Transport {
	case TransportHTTP, TransportQUIC:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Server.Transport))
	}
	switch c.Storage.Kind {
	case StorageBadger:
	case StorageMySQL:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage kind %q", c.Storage.Kind))
	}
	switch c.Storage.Codec {
	case encoding.CodecLegacy, encoding.CodecCBOR:
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Storage.Codec))
	}
	if needKeyFiles && len(c.Keys.KeyFiles) == 0 {
		errs = append(errs, errors.New("keys.keyFiles must name at least one file"))
	}
	if c.Resend.BatchSize < 0 || c.Resend.PublishWorkers < 0 {
		errs = append(errs, errors.New("resend sizes must not be negative"))
	}
	if _, err := ParseKeys(c.Keys.ForwardingKeys); err != nil {
		errs = append(errs, fmt.Errorf("keys.forwardingKeys: %w", err))
	}
	if _, err := ParseKeys(c.Keys.MandatoryRecipients); err != nil {
		errs = append(errs, fmt.Errorf("keys.mandatoryRecipients: %w", err))
	}
	return errors.Join(errs...)
}

// ParseKeys decodes a list of base64 public keys.
func ParseKeys(raw []string) ([]model.PublicKey, error) {
	out := make([]model.PublicKey, 0, len(raw))
	for _, s := range raw {
		k, err := model.PublicKeyFromBase64(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return model.DedupKeys(out), nil
}
