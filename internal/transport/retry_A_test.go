package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

func TestRetryPolicyRetriesNetworkErrors(t *testing.T) { // A
	t.Parallel()
	p := RetryPolicy{Attempts: 3, Base: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: down", model.ErrNetwork)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryPolicyGivesUp(t *testing.T) { // A
	t.Parallel()
	p := RetryPolicy{Attempts: 2, Base: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("%w: down", model.ErrNetwork)
	})
	require.ErrorIs(t, err, model.ErrNetwork)
	require.Equal(t, 2, calls)
}

func TestRetryPolicyStopsOnRejection(t *testing.T) { // A
	t.Parallel()
	p := RetryPolicy{Attempts: 5, Base: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return remoteError("http://peer", codePrivacy, "denied")
	})
	require.ErrorIs(t, err, model.ErrPrivacyValidation)
	require.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) { // A
	t.Parallel()
	require.False(t, Retryable(context.Canceled))
	require.True(t, Retryable(errors.New("transient")))
	require.True(t, Retryable(remoteError("u", codeUnavailable, "busy")))
	require.True(t, Retryable(remoteError("u", codeInternal, "boom")))
	require.False(t, Retryable(remoteError("u", codeNotFound, "gone")))
}

func TestErrorCodeMapping(t *testing.T) { // A
	t.Parallel()
	require.Equal(t, codeOK, errorCode(nil))
	require.Equal(t, codeNotFound, errorCode(model.ErrTransactionNotFound))
	require.Equal(t, codePrivacy, errorCode(model.ErrEnhancedPrivacyDisabled))
	require.Equal(t, codeIntegrity, errorCode(model.ErrIntegrity))
	require.Equal(t, codeUnavailable, errorCode(model.ErrEnclaveUnavailable))
	require.Equal(t, codeInternal, errorCode(errors.New("x")))
	for _, code := range []uint8{codeIntegrity, codePrivacy, codeNotFound, codeUnavailable, codeInternal} {
		require.Equal(t, code, codeFromStatus(httpStatus(code)), "code %d", code)
	}
}
