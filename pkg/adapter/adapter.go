// Package adapter provides the TCP listener shared by device-facing
// protocol servers.
package adapter

import "context"

// Adapter is a protocol server managed by the start command.
//
// Lifecycle:
//  1. Creation: protocol-specific constructor (e.g. rfid.New)
//  2. Serve: binds and accepts until ctx is cancelled
//  3. Stop: initiates shutdown and waits for connections to drain
//
// Serve must return a non-nil error when the listener cannot be bound; the
// caller treats that as fatal.
type Adapter interface {
	// Serve starts the server and blocks until ctx is cancelled or a fatal
	// error occurs. Returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. Safe to call more than once and
	// concurrently with Serve.
	Stop(ctx context.Context) error

	// Protocol returns a human-readable name for logging.
	Protocol() string

	// Port returns the configured TCP port.
	Port() int
}
