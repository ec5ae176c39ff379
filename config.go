package privacy

import (
	"log/slog"

	"github.com/i5heu/ouroboros-privacy/internal/config"
	"github.com/i5heu/ouroboros-privacy/internal/metrics"
	"github.com/i5heu/ouroboros-privacy/internal/transport"
	"github.com/i5heu/ouroboros-privacy/pkg/interfaces"
	"github.com/i5heu/ouroboros-privacy/pkg/logging"
)

// Config configures a Node.
type Config struct {
	// Settings is the file configuration. Defaults
	// are applied by New.
	Settings config.Config
	// Logger is an optional structured logger. If nil,
	// a stderr logger at the configured level is used.
	Logger *slog.Logger
	// Metrics is an optional collector set. If nil,
	// the node creates its own registry.
	Metrics *metrics.Metrics
	// KeyProvider replaces the key files named in
	// Settings.
	KeyProvider interfaces.KeyProvider
	// Network attaches the node to an in-process
	// network instead of listening on a socket.
	Network *transport.Loopback
	// InMemory keeps the badger store in memory.
	InMemory bool
	// ManualTasks leaves party info polling and
	// recovery to the caller.
	ManualTasks bool
}

func defaultLogger(settings config.Config) *slog.Logger { // A
	return logging.New(logging.Options{
		Level:   logging.ParseLevel(settings.Log.Level),
		NoColor: settings.Log.NoColor,
	})
}
