package transaction

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/i5heu/ouroboros-privacy/pkg/model"
)

const defaultLifecycleSize = 10_000

// Lifecycle tracks the state of recently touched
// transactions. Rows that fell out of the cache are
// treated as STORED, which is what a row on disk is.
type Lifecycle struct { // A
	mu     sync.Mutex
	states *lru.Cache
	log    *slog.Logger
}

// NewLifecycle creates a tracker holding up to size
// entries.
func NewLifecycle(size int, logger *slog.Logger) (*Lifecycle, error) { // A
	if size <= 0 {
		size = defaultLifecycleSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("lifecycle cache: %w", err)
	}
	return &Lifecycle{states: c, log: logger}, nil
}

// State returns the tracked state of hash.
func (l *Lifecycle) State(hash model.MessageHash) (model.TxState, bool) {
	v, ok := l.states.Get(hash)
	if !ok {
		return 0, false
	}
	return v.(model.TxState), true
}

// Advance moves hash to state to. An invalid move is
// logged and rejected.
func (l *Lifecycle) Advance(hash model.MessageHash, to model.TxState) error { // A
	l.mu.Lock()
	defer l.mu.Unlock()

	from, ok := l.State(hash)
	if !ok {
		from = model.TxStored
		if to == model.TxStored {
			from = model.TxCreated
		}
	}
	if !model.ValidTransition(from, to) {
		l.log.Warn("invalid lifecycle transition",
			"hash", hash.String(),
			"from", from.String(),
			"to", to.String())
		return fmt.Errorf(
			"%w: transaction %s cannot move from %s to %s",
			model.ErrIntegrity,
			hash,
			from,
			to,
		)
	}
	l.states.Add(hash, to)
	return nil
}

// begin records a freshly encrypted transaction.
func (l *Lifecycle) begin(hash model.MessageHash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states.Add(hash, model.TxCreated)
}
