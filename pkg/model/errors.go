package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Wrap
// with %w and classify with errors.Is.
var (
	ErrNotFound = errors.New("not found")

	ErrKeyNotFound = fmt.Errorf(
		"key %w", ErrNotFound,
	)
	ErrTransactionNotFound = fmt.Errorf(
		"transaction %w", ErrNotFound,
	)
	ErrPrivacyGroupNotFound = fmt.Errorf(
		"privacy group %w", ErrNotFound,
	)

	ErrIntegrity          = errors.New("integrity violation")
	ErrEnclaveUnavailable = errors.New("enclave unavailable")
	ErrPrivacyValidation  = errors.New("privacy validation failed")
	ErrPersistence        = errors.New("persistence failure")
	ErrNetwork            = errors.New("network failure")

	ErrEnhancedPrivacyDisabled = fmt.Errorf(
		"%w: enhanced privacy is not enabled",
		ErrPrivacyValidation,
	)
)
