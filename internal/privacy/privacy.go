// Package privacy checks privacy-mode rules for
// outgoing send requests and incoming payloads.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// Config configures a Validator.
type Config struct {
	Store interfaces.TransactionStore
	Codec interfaces.PayloadCodec
	// EnhancedPrivacy enables every mode other than
	// STANDARD_PRIVATE.
	EnhancedPrivacy bool
	Logger          *slog.Logger
}

// Validator looks up affected transactions and
// enforces the mode rules.
type Validator struct { // A
	store    interfaces.TransactionStore
	codec    interfaces.PayloadCodec
	enhanced bool
	log      *slog.Logger
}

// NewValidator builds a Validator.
func NewValidator(cfg Config) (*Validator, error) { // A
	if cfg.Store == nil {
		return nil, errors.New("privacy: store is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("privacy: codec is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Validator{
		store:    cfg.Store,
		codec:    cfg.Codec,
		enhanced: cfg.EnhancedPrivacy,
		log:      cfg.Logger,
	}, nil
}

// EnhancedPrivacy reports whether non-standard modes
// are accepted.
func (v *Validator) EnhancedPrivacy() bool {
	return v.enhanced
}

// FindAffectedFromSendRequest loads every named
// transaction. A hash that is not stored here is a
// privacy violation.
func (v *Validator) FindAffectedFromSendRequest( // A
	ctx context.Context,
	hashes []model.MessageHash,
) ([]model.AffectedTransaction, error) {
	found, missing, err := v.load(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf(
			"%w: affected transaction %s not found",
			model.ErrPrivacyValidation,
			missing[0],
		)
	}
	return found, nil
}

// FindAffectedFromPayload loads the affected
// transactions an incoming payload names. Missing
// ones are skipped.
func (v *Validator) FindAffectedFromPayload( // A
	ctx context.Context,
	payload model.EncodedPayload,
) ([]model.AffectedTransaction, error) {
	found, missing, err := v.load(ctx, payload.AffectedHashes())
	if err != nil {
		return nil, err
	}
	for _, h := range missing {
		v.log.Debug("affected transaction not found",
			"hash", h.String(),
			"for", payload.Hash().String())
	}
	return found, nil
}

func (v *Validator) load( // A
	ctx context.Context,
	hashes []model.MessageHash,
) ([]model.AffectedTransaction, []model.MessageHash, error) {
	if len(hashes) == 0 {
		return nil, nil, nil
	}
	seen := make(map[model.MessageHash]struct{}, len(hashes))
	var found []model.AffectedTransaction
	var missing []model.MessageHash
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		tx, ok, err := v.store.RetrieveByHash(ctx, h)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			missing = append(missing, h)
			continue
		}
		p, err := v.codec.Decode(tx.EncodedPayload)
		if err != nil {
			return nil, nil, fmt.Errorf("decode affected %s: %w", h, err)
		}
		found = append(found, model.AffectedTransaction{Hash: h, Payload: p})
	}
	return found, missing, nil
}

// SendRequest is what ValidateSendRequest checks.
type SendRequest struct {
	Mode                model.PrivacyMode
	Recipients          []model.PublicKey
	Affected            []model.AffectedTransaction
	MandatoryRecipients []model.PublicKey
	ExecHash            []byte
}

// ValidateSendRequest applies the mode rules to an
// outgoing transaction before anything is stored.
func (v *Validator) ValidateSendRequest(req SendRequest) error { // A
	if req.Mode.IsEnhanced() && !v.enhanced {
		return model.ErrEnhancedPrivacyDisabled
	}

	switch req.Mode {
	case model.StandardPrivate, model.PartyProtection:
		if len(req.MandatoryRecipients) > 0 {
			return violation(
				"mandatory recipients need %s", model.MandatoryRecipients,
			)
		}
	case model.MandatoryRecipients:
		if len(req.MandatoryRecipients) == 0 {
			return violation("no mandatory recipients given")
		}
		if !model.IsSubset(req.MandatoryRecipients, req.Recipients) {
			return violation("recipients do not include all mandatory recipients")
		}
	case model.PrivateStateValidation:
		if len(req.ExecHash) == 0 {
			return violation("%s requires an exec hash", req.Mode)
		}
		for _, a := range req.Affected {
			if !model.SameKeySet(req.Recipients, a.Payload.RecipientKeys) {
				return violation(
					"recipients mismatched for affected transaction %s",
					a.Hash,
				)
			}
		}
	default:
		return violation("unknown privacy mode %d", uint8(req.Mode))
	}

	for _, a := range req.Affected {
		if a.Payload.PrivacyMode != req.Mode {
			return violation(
				"privacy mode mismatched with affected transaction %s",
				a.Hash,
			)
		}
		if req.Mode == model.MandatoryRecipients &&
			!model.IsSubset(a.Payload.MandatoryRecipients, req.MandatoryRecipients) {
			return violation(
				"mandatory recipients mismatched with affected transaction %s",
				a.Hash,
			)
		}
	}
	return nil
}

// ValidatePayload checks an incoming payload. It
// returns false when the payload should be ignored
// and an error when it violates its own mode.
func (v *Validator) ValidatePayload( // A
	hash model.MessageHash,
	payload model.EncodedPayload,
	affected []model.AffectedTransaction,
) (bool, error) {
	mode := payload.PrivacyMode
	if mode.IsEnhanced() && !v.enhanced {
		return false, model.ErrEnhancedPrivacyDisabled
	}
	for _, a := range affected {
		if a.Payload.PrivacyMode != mode {
			v.log.Info("affected transaction mode mismatch, ignoring",
				"affected", a.Hash.String(),
				"affectedMode", a.Payload.PrivacyMode.String(),
				"hash", hash.String(),
				"mode", mode.String())
			return false, nil
		}
	}

	switch mode {
	case model.StandardPrivate, model.PartyProtection:
		return true, nil
	case model.MandatoryRecipients:
		if !model.IsSubset(payload.MandatoryRecipients, payload.RecipientKeys) {
			return false, violation(
				"transaction %s misses mandatory recipients", hash,
			)
		}
		for _, a := range affected {
			if !model.IsSubset(a.Payload.MandatoryRecipients, payload.MandatoryRecipients) {
				v.log.Info("mandatory recipients mismatch, ignoring",
					"affected", a.Hash.String(),
					"hash", hash.String())
				return false, nil
			}
		}
		return true, nil
	case model.PrivateStateValidation:
		if len(payload.ExecHash) == 0 {
			return false, violation("transaction %s has no exec hash", hash)
		}
		if len(affected) != len(payload.AffectedContractTransactions) {
			v.log.Info("not all affected transactions found, ignoring",
				"hash", hash.String())
			return false, nil
		}
		for _, a := range affected {
			if !model.ContainsKey(a.Payload.RecipientKeys, payload.SenderKey) {
				v.log.Info("sender is not a party to affected transaction",
					"affected", a.Hash.String(),
					"hash", hash.String())
				return false, nil
			}
			if !model.SameKeySet(payload.RecipientKeys, a.Payload.RecipientKeys) {
				return false, violation(
					"recipients mismatched for affected transaction %s",
					a.Hash,
				)
			}
		}
		return true, nil
	default:
		return false, violation("unknown privacy mode %d", uint8(mode))
	}
}

// SanitisePayload drops invalid security hashes.
// For PRIVATE_STATE_VALIDATION any invalid hash
// rejects the payload.
func (v *Validator) SanitisePayload( // A
	hash model.MessageHash,
	payload model.EncodedPayload,
	invalid []model.MessageHash,
) (model.EncodedPayload, error) {
	if len(invalid) == 0 {
		return payload, nil
	}
	if payload.PrivacyMode == model.PrivateStateValidation {
		return payload, violation(
			"invalid security hashes for %s: %v", hash, invalid,
		)
	}
	out := payload.Clone()
	for _, h := range invalid {
		delete(out.AffectedContractTransactions, h)
	}
	v.log.Debug("discarded invalid security hashes",
		"hash", hash.String(),
		"count", len(invalid))
	return out, nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf(
		"%w: %s",
		model.ErrPrivacyValidation,
		fmt.Sprintf(format, args...),
	)
}
