package resend

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/i5heu/ouroboros-privacy/internal/scheduler"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const recoveryTaskName = "resend-recovery"

// FetchResult counts the items of one resend
// request.
type FetchResult struct {
	Received  int
	Duplicate int
	// Ignored items did not fit the local state and
	// were dropped without error.
	Ignored int
	Failed  int
}

func (r *FetchResult) add(o FetchResult) {
	r.Received += o.Received
	r.Duplicate += o.Duplicate
	r.Ignored += o.Ignored
	r.Failed += o.Failed
}

// RequestResendFromPeer fetches every transaction
// involving key from the peer at url, one page at a
// time, and stores them. A bad item is counted and
// skipped. The error is set only when a page request
// fails; the counts of the pages stored before it
// are still returned.
func (m *Manager) RequestResendFromPeer( // A
	ctx context.Context,
	url string,
	key model.PublicKey,
) (FetchResult, error) {
	var (
		res   FetchResult
		after model.MessageHash
		pages int
	)
	for {
		req := interfaces.ResendRequest{Key: key, After: after, Limit: m.batchSize}
		var page interfaces.ResendPage
		err := m.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = m.client.RequestResend(ctx, url, req)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("resend request to %s: %w", url, err)
		}
		pages++
		m.storePage(ctx, url, page.Items, &res)
		if !page.More {
			break
		}
		if bytes.Compare(page.Next[:], after[:]) <= 0 {
			return res, fmt.Errorf(
				"resend request to %s: %w: cursor %s does not advance",
				url,
				model.ErrIntegrity,
				page.Next,
			)
		}
		after = page.Next
	}
	m.log.Debug("resend request finished",
		"peer", url,
		"key", key.String(),
		"pages", pages,
		"received", res.Received,
		"duplicate", res.Duplicate,
		"failed", res.Failed)
	return res, nil
}

func (m *Manager) storePage( // A
	ctx context.Context,
	url string,
	items []interfaces.ResendItem,
	res *FetchResult,
) {
	for _, it := range items {
		stored, err := m.inbound.StoreVerifiedPayload(ctx, it.Hash, it.Payload)
		switch {
		case err != nil:
			res.Failed++
			m.metrics.ResendReceived.WithLabelValues("failed").Inc()
			m.log.Warn("resend item rejected",
				"peer", url,
				"hash", it.Hash.String(),
				"error", err)
		case stored.Ignored:
			res.Ignored++
			m.metrics.ResendReceived.WithLabelValues("ignored").Inc()
		case stored.Created:
			res.Received++
			m.metrics.ResendReceived.WithLabelValues("received").Inc()
		default:
			res.Duplicate++
			m.metrics.ResendReceived.WithLabelValues("duplicate").Inc()
		}
	}
}

// RecoveryStatus summarises a recovery run.
type RecoveryStatus uint8

const (
	RecoverySuccess RecoveryStatus = iota
	RecoveryPartialSuccess
	RecoveryFailure
)

func (s RecoveryStatus) String() string {
	switch s {
	case RecoverySuccess:
		return "SUCCESS"
	case RecoveryPartialSuccess:
		return "PARTIAL_SUCCESS"
	case RecoveryFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("RecoveryStatus(%d)", uint8(s))
	}
}

// RecoveryReport is the outcome of Recover.
type RecoveryReport struct {
	Status RecoveryStatus
	FetchResult
	Requests       int
	FailedRequests int
}

// Recover asks every remote party to resend what it
// holds for each local key. Every failure is
// aggregated into the returned error.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) { // A
	var (
		report RecoveryReport
		errs   *multierror.Error
	)
	localKeys := m.enclave.PublicKeys()
	for _, party := range m.discovery.RemoteParties() {
		for _, key := range localKeys {
			if err := ctx.Err(); err != nil {
				errs = multierror.Append(errs, err)
				report.Status = recoveryStatus(report)
				return report, errs.ErrorOrNil()
			}
			report.Requests++
			res, err := m.RequestResendFromPeer(ctx, party.URL, key)
			report.add(res)
			if err != nil {
				report.FailedRequests++
				errs = multierror.Append(errs, err)
				m.log.Warn("recovery request failed",
					"peer", party.URL,
					"key", key.String(),
					"error", err)
			}
		}
	}
	report.Status = recoveryStatus(report)
	m.log.Info("recovery finished",
		"status", report.Status.String(),
		"requests", report.Requests,
		"failedRequests", report.FailedRequests,
		"received", report.Received,
		"failed", report.Failed)
	return report, errs.ErrorOrNil()
}

func recoveryStatus(r RecoveryReport) RecoveryStatus {
	switch {
	case r.FailedRequests == 0 && r.Failed == 0:
		return RecoverySuccess
	case r.Requests > 0 && r.FailedRequests == r.Requests:
		return RecoveryFailure
	default:
		return RecoveryPartialSuccess
	}
}

// Task runs Recover as a housekeeping task.
func (m *Manager) Task() *scheduler.Task {
	return scheduler.NewTask(recoveryTaskName, func(ctx context.Context) error {
		_, err := m.Recover(ctx)
		return err
	}, scheduler.Options{
		Observer: m.metrics.ObserveTask,
		Logger:   m.log,
	})
}
