package model

import (
	"net/url"
	"strings"
	"time"
)

// Party is a peer node known by its URL.
type Party struct {
	URL           string
	LastContacted time.Time
}

// Recipient maps a public key to the URL of the
// node that manages it.
type Recipient struct {
	Key PublicKey
	URL string
}

// NodeInfo is the routing information a node
// advertises about itself and what it knows.
type NodeInfo struct { // A
	URL                  string
	Recipients           []Recipient
	Parties              []Party
	SupportedAPIVersions []string
}

// KeysAt returns the recipient keys routed to url.
func (n NodeInfo) KeysAt(u string) []PublicKey { // A
	u = NormalizeURL(u)
	var out []PublicKey
	for _, r := range n.Recipients {
		if NormalizeURL(r.URL) == u {
			out = append(out, r.Key)
		}
	}
	return out
}

// NormalizeURL trims whitespace and a trailing
// slash and lowercases scheme and host so the same
// peer always maps to the same map key.
func NormalizeURL(raw string) string { // A
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
