package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/metrics"
)

// ConnectionHandler serves one accepted connection. Serve blocks until the
// connection is closed or ctx is cancelled, and must close the connection
// before returning.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// Interrupter is implemented by connection handlers that can stop waiting
// for their next request without cutting off one already in progress.
// Handlers that do not implement it get a short read deadline on shutdown.
type Interrupter interface {
	Interrupt()
}

// ConnectionFactory creates connection handlers for accepted TCP
// connections. Protocol adapters implement it and pass themselves to
// BaseAdapter.ServeWithFactory.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds configuration common to all protocol adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 picks a free port.
	Port int

	// MaxConnections limits the number of concurrent connections.
	// 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to finish during graceful shutdown before they are force-closed.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is the interval at which to log the connection
	// count. 0 disables periodic logging.
	MetricsLogInterval time.Duration
}

// OnConnectionClose is an optional callback invoked when a connection's serve
// goroutine completes, before its slot is released.
type OnConnectionClose func(addr string)

// BaseAdapter provides TCP lifecycle management for protocol adapters:
// listener, per-connection goroutines, connection limits, graceful shutdown
// and metrics.
//
// Thread safety:
// All exported methods are safe for concurrent use. Shutdown is idempotent.
type BaseAdapter struct {
	// Config holds the shared configuration.
	Config BaseConfig

	// protocolName is used in log messages (e.g. "RFID").
	protocolName string

	// Metrics records connection lifecycle events. May be nil.
	Metrics metrics.ConnectionMetrics

	listener   net.Listener
	listenerMu sync.RWMutex

	// activeConns tracks running connection goroutines for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once

	// Shutdown is closed when graceful shutdown begins.
	Shutdown chan struct{}

	// ConnCount is the current number of active connections.
	ConnCount atomic.Int32

	// connSemaphore limits concurrent connections. nil when unlimited.
	connSemaphore chan struct{}

	// ShutdownCtx is passed to every connection and cancelled during
	// shutdown.
	ShutdownCtx context.Context

	// CancelRequests cancels ShutdownCtx.
	CancelRequests context.CancelFunc

	// ActiveConnections maps remote address to net.Conn for forced closure.
	ActiveConnections sync.Map

	// handlers maps remote address to the ConnectionHandler serving it.
	handlers sync.Map

	// ListenerReady is closed once the listener is bound or binding failed.
	ListenerReady chan struct{}
}

// NewBaseAdapter creates a stopped adapter. Call ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug(protocol+" connection limit", "max_connections", config.MaxConnections)
	} else {
		logger.Debug(protocol+" connection limit", "max_connections", "unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// ServeWithFactory binds the listener and runs the accept loop, handing each
// connection to a handler from factory on its own goroutine.
//
// Parameters:
//   - ctx: controls the server lifecycle. Cancellation triggers graceful shutdown.
//   - factory: creates a handler for each accepted connection.
//   - onClose: optional callback invoked when a connection's goroutine exits.
//
// Returns:
//   - error if the listener cannot be bound
//   - nil on graceful shutdown
//   - error if the shutdown timeout forced connections closed
func (b *BaseAdapter) ServeWithFactory(
	ctx context.Context,
	factory ConnectionFactory,
	onClose OnConnectionClose,
) error {
	listenAddr := net.JoinHostPort(b.Config.BindAddress, fmt.Sprint(b.Config.Port))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		close(b.ListenerReady)
		return fmt.Errorf("failed to create %s listener on %s: %w", b.protocolName, listenAddr, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" server listening", logger.KeyListenAddr, listener.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocolName+" shutdown signal received", logger.KeyError, ctx.Err())
			b.initiateShutdown()
		case <-b.Shutdown:
		}
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return b.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}

			select {
			case <-b.Shutdown:
				return b.gracefulShutdown()
			default:
				logger.Warn("Error accepting "+b.protocolName+" connection", logger.KeyError, err)
				continue
			}
		}

		// Frames are small and latency-sensitive.
		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.KeyError, err)
			}
		}

		b.activeConns.Add(1)
		b.ConnCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		b.ActiveConnections.Store(connAddr, tcpConn)

		currentConns := b.ConnCount.Load()
		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
			b.Metrics.SetActiveConnections(currentConns)
		}

		logger.Info(b.protocolName+" client connected",
			logger.KeyClientAddr, connAddr, logger.KeyActiveConns, currentConns)

		conn := factory.NewConnection(tcpConn)
		b.handlers.Store(connAddr, conn)

		// Shutdown may have begun between Accept and the Store above.
		select {
		case <-b.Shutdown:
			b.interrupt(connAddr, tcpConn)
		default:
		}

		go func(addr string) {
			defer func() {
				if onClose != nil {
					onClose(addr)
				}

				b.handlers.Delete(addr)
				b.ActiveConnections.Delete(addr)

				b.activeConns.Done()
				b.ConnCount.Add(-1)
				if b.connSemaphore != nil {
					<-b.connSemaphore
				}

				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
					b.Metrics.SetActiveConnections(b.ConnCount.Load())
				}

				logger.Info(b.protocolName+" client disconnected",
					logger.KeyClientAddr, addr, logger.KeyActiveConns, b.ConnCount.Load())
			}()

			conn.Serve(b.ShutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown stops accepting, wakes connections blocked waiting for
// their next frame, and cancels ShutdownCtx.
//
// Thread safety:
// Safe to call multiple times and from multiple goroutines.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")

		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", logger.KeyError, err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads wakes every connection waiting for its next
// request. Handlers implementing Interrupter decide what is safe to cut
// short; the rest get a 100ms read deadline on the raw connection.
func (b *BaseAdapter) interruptBlockingReads() {
	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			b.interrupt(key.(string), conn)
		}
		return true
	})
}

func (b *BaseAdapter) interrupt(addr string, conn net.Conn) {
	if h, ok := b.handlers.Load(addr); ok {
		if i, ok := h.(Interrupter); ok {
			i.Interrupt()
			return
		}
	}
	if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		logger.Debug("Error setting shutdown deadline on connection",
			logger.KeyClientAddr, addr, logger.KeyError, err)
	}
}

// gracefulShutdown waits for active connections to finish, force-closing
// them once ShutdownTimeout passes.
func (b *BaseAdapter) gracefulShutdown() error {
	activeCount := b.ConnCount.Load()
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		logger.KeyActiveConns, activeCount, "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded - forcing closure",
			logger.KeyActiveConns, remaining, "timeout", b.Config.ShutdownTimeout)

		b.forceCloseConnections()

		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

func (b *BaseAdapter) forceCloseConnections() {
	closedCount := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", logger.KeyClientAddr, addr, logger.KeyError, err)
		} else {
			closedCount++
			if b.Metrics != nil {
				b.Metrics.RecordConnectionForceClosed()
			}
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed connections", "count", closedCount)
	}
}

// Stop initiates graceful shutdown and waits for connections to drain or ctx
// to be done.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" shutdown context cancelled",
			logger.KeyActiveConns, b.ConnCount.Load(), logger.KeyError, ctx.Err())
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Shutdown:
			return
		case <-ticker.C:
			logger.Info(b.protocolName+" metrics", logger.KeyActiveConns, b.ConnCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetListenerAddr returns the bound address, blocking until the listener is
// ready. Returns "" if binding failed.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the protocol name.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
