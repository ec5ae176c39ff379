package transaction

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

// PeerView returns the copy of payload a peer
// serving keys receives. MANDATORY_RECIPIENTS
// payloads travel whole so every mandatory party can
// check the full recipient set; every other mode
// only carries the boxes of the peer's own keys.
func PeerView( // A
	payload model.EncodedPayload,
	keys []model.PublicKey,
) model.EncodedPayload {
	if payload.PrivacyMode == model.MandatoryRecipients {
		return payload.Clone()
	}
	return payload.ForRecipients(keys)
}

// publish pushes the view of every peer on the
// worker pool and waits for all of them. It returns
// the sorted URLs that failed.
func (m *Manager) publish( // A
	ctx context.Context,
	hash model.MessageHash,
	payload model.EncodedPayload,
	routes map[string][]model.PublicKey,
) []string {
	if len(routes) == 0 {
		return nil
	}
	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)
	for url, keys := range routes {
		wg.Add(1)
		m.pool.Submit(func() {
			defer wg.Done()
			if err := m.pushView(ctx, url, hash, PeerView(payload, keys)); err != nil {
				m.metrics.PublishFailures.Inc()
				m.log.Warn("publish failed",
					"hash", hash.String(),
					"peer", url,
					"error", err)
				mu.Lock()
				failed = append(failed, url)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	sort.Strings(failed)
	return failed
}

func (m *Manager) pushView( // A
	ctx context.Context,
	url string,
	hash model.MessageHash,
	view model.EncodedPayload,
) error {
	data, err := m.codec.Encode(view)
	if err != nil {
		return err
	}
	var ack model.MessageHash
	err = m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		ack, err = m.client.Push(ctx, url, data)
		return err
	})
	if err != nil {
		return err
	}
	if ack != hash {
		return fmt.Errorf(
			"%w: peer %s acknowledged %s for %s",
			model.ErrIntegrity,
			url,
			ack,
			hash,
		)
	}
	return nil
}
