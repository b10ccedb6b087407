// Package rfid serves RFID reader/writer devices over TCP.
package rfid

import (
	"context"
	"net"
	"slices"
	"sync"
	"time"

	rfid_internal "github.com/marmos91/rfidgate/internal/adapter/rfid"
	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/pkg/adapter"
	"github.com/marmos91/rfidgate/pkg/metrics"
)

// Config configures the device listener.
type Config struct {
	BindAddress        string
	Port               int
	MaxConnections     int
	ShutdownTimeout    time.Duration
	MetricsLogInterval time.Duration

	// Session tunes sub-command timeouts and retries.
	Session session.Config
}

// Adapter accepts device connections and runs one session per connection
// against a shared dispatch handler.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	handler *rfid_internal.Handler
	metrics metrics.RFIDMetrics

	// sessions maps session id to *session.Session for status reporting.
	sessions sync.Map
}

var (
	_ adapter.Adapter           = (*Adapter)(nil)
	_ adapter.ConnectionFactory = (*Adapter)(nil)
	_ adapter.Interrupter       = (*Connection)(nil)
)

// New creates a stopped adapter. m may be nil.
func New(config Config, handler *rfid_internal.Handler, m metrics.RFIDMetrics) *Adapter {
	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:        config.BindAddress,
		Port:               config.Port,
		MaxConnections:     config.MaxConnections,
		ShutdownTimeout:    config.ShutdownTimeout,
		MetricsLogInterval: config.MetricsLogInterval,
	}, "RFID")
	if m != nil {
		base.Metrics = m
	}

	if handler.Metrics == nil {
		handler.Metrics = m
	}

	return &Adapter{
		BaseAdapter: base,
		config:      config,
		handler:     handler,
		metrics:     m,
	}
}

// Serve binds the listener and accepts devices until ctx is cancelled.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a, nil)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return NewConnection(a, conn)
}

// Sessions returns a snapshot of connected devices, oldest first.
func (a *Adapter) Sessions() []session.Info {
	var out []session.Info
	a.sessions.Range(func(_, value any) bool {
		out = append(out, value.(*session.Session).Info())
		return true
	})
	slices.SortFunc(out, func(x, y session.Info) int {
		return x.ConnectedAt.Compare(y.ConnectedAt)
	})
	return out
}
