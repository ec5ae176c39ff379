// Package transport carries the peer protocol
// between privacy nodes. The operations are the
// same for every binding (HTTP, QUIC, in-process
// loopback); only the round trip differs.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// DefaultTimeout bounds a single peer call when the
// caller does not configure one.
const DefaultTimeout = 10 * time.Second

// ErrRejected marks an error the remote node
// returned on purpose. Such calls are not retried
// unless the remote reported itself unavailable.
var ErrRejected = errors.New("rejected by peer")

// Response codes shared by every binding.
const (
	codeOK uint8 = iota
	codeInternal
	codeIntegrity
	codePrivacy
	codeNotFound
	codeUnavailable
	codeBadRequest
)

// errorCode classifies a handler error for the
// wire.
func errorCode(err error) uint8 { // A
	switch {
	case err == nil:
		return codeOK
	case errors.Is(err, model.ErrIntegrity):
		return codeIntegrity
	case errors.Is(err, model.ErrPrivacyValidation):
		return codePrivacy
	case errors.Is(err, model.ErrNotFound):
		return codeNotFound
	case errors.Is(err, model.ErrEnclaveUnavailable):
		return codeUnavailable
	default:
		return codeInternal
	}
}

// remoteError rebuilds a classified error from a
// response code.
func remoteError(url string, code uint8, msg string) error { // A
	var kind error
	switch code {
	case codeIntegrity:
		kind = model.ErrIntegrity
	case codePrivacy:
		kind = model.ErrPrivacyValidation
	case codeNotFound:
		kind = model.ErrNotFound
	case codeUnavailable:
		kind = model.ErrEnclaveUnavailable
	case codeBadRequest:
		kind = model.ErrIntegrity
	default:
		kind = model.ErrNetwork
	}
	return fmt.Errorf("%w: %s: %w: %s", ErrRejected, url, kind, msg)
}

func httpStatus(code uint8) int {
	switch code {
	case codeOK:
		return http.StatusOK
	case codeIntegrity, codeBadRequest:
		return http.StatusBadRequest
	case codePrivacy:
		return http.StatusForbidden
	case codeNotFound:
		return http.StatusNotFound
	case codeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeFromStatus(status int) uint8 {
	switch status {
	case http.StatusOK:
		return codeOK
	case http.StatusBadRequest:
		return codeIntegrity
	case http.StatusForbidden:
		return codePrivacy
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusServiceUnavailable:
		return codeUnavailable
	default:
		return codeInternal
	}
}

func networkError(op MessageType, url string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", model.ErrNetwork, op, url, err)
}
