package partyinfo

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/internal/scheduler"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
)

// DefaultPollInterval is the pause between two
// rounds of party info exchange.
const DefaultPollInterval = 5 * time.Second

const pollTaskName = "partyinfo-poll"

// Poller exchanges party info with every known
// peer, one peer after the other.
type Poller struct { // A
	svc     *Service
	client  interfaces.PeerClient
	timeout time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewPoller creates a poller. timeout bounds each
// single exchange.
func NewPoller( // A
	svc *Service,
	client interfaces.PeerClient,
	timeout time.Duration,
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poller{
		svc:     svc,
		client:  client,
		timeout: timeout,
		metrics: svc.metrics,
		log:     logger,
	}
}

// PollOnce contacts each remote party. A failing
// peer is logged and skipped; the returned error
// aggregates every failure of the round.
func (p *Poller) PollOnce(ctx context.Context) error { // A
	var result *multierror.Error
	for _, party := range p.svc.RemoteParties() {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := p.pollPeer(ctx, party.URL); err != nil {
			p.metrics.PartyInfoPolls.WithLabelValues("failure").Inc()
			p.log.Warn("party info exchange failed",
				"peer", party.URL,
				"error", err)
			result = multierror.Append(result, err)
			continue
		}
		p.metrics.PartyInfoPolls.WithLabelValues("success").Inc()
	}
	return result.ErrorOrNil()
}

func (p *Poller) pollPeer(ctx context.Context, url string) error { // A
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	remote, err := p.client.PartyInfo(ctx, url, p.svc.GetCurrentNodeInfo())
	if err != nil {
		return err
	}
	if remote.URL == "" {
		remote.URL = url
	}
	_, err = p.svc.UpdateFromRemote(remote)
	return err
}

// Task wraps PollOnce for the scheduler.
func (p *Poller) Task() *scheduler.Task {
	return scheduler.NewTask(pollTaskName, p.PollOnce, scheduler.Options{
		Observer: p.metrics.ObserveTask,
		Logger:   p.log,
	})
}
