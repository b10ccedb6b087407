package rfid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/internal/logger"
)

// Connection serves one device.
type Connection struct {
	adapter *Adapter
	sess    *session.Session
}

// NewConnection wraps conn in a session.
func NewConnection(a *Adapter, conn net.Conn) *Connection {
	return &Connection{
		adapter: a,
		sess:    session.New(conn, a.config.Session, a.metrics),
	}
}

// Serve reads frames and dispatches them until the device disconnects, a
// transport error occurs, or ctx is cancelled. Panics are recovered so one
// misbehaving device cannot take the server down.
//
// The connection is closed when:
//   - The device closes the stream
//   - A read or write fails
//   - The idle timeout fires
//   - The context is cancelled (server shutdown)
func (c *Connection) Serve(ctx context.Context) {
	sess := c.sess
	c.adapter.sessions.Store(sess.ID(), sess)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in device connection handler",
				logger.KeyClientAddr, sess.RemoteAddr(),
				logger.KeyError, fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
		c.adapter.sessions.Delete(sess.ID())
		_ = sess.Close()
	}()

	ctx = logger.WithContext(ctx, logger.NewLogContext(sess.ID(), sess.RemoteAddr()))
	logger.DebugCtx(ctx, "Device session started")

	for {
		select {
		case <-ctx.Done():
			logger.DebugCtx(ctx, "Device session closed due to shutdown")
			return
		default:
		}

		line, err := sess.ReadFrame()
		if err != nil {
			c.logReadError(ctx, err)
			return
		}

		res := c.adapter.handler.Dispatch(ctx, sess, line)
		if res.Err != nil {
			logger.WarnCtx(ctx, "Device connection lost during exchange", logger.KeyError, res.Err)
			return
		}
		if res.Reply == "" {
			continue
		}
		if err := sess.WriteLine(res.Reply); err != nil {
			logger.WarnCtx(ctx, "Failed to send reply", logger.Reply(res.Reply), logger.KeyError, err)
			return
		}
		logger.DebugCtx(ctx, "Reply sent", logger.Reply(res.Reply))
	}
}

// Interrupt implements adapter.Interrupter. A session waiting for its next
// frame stops; a tag cycle in progress finishes first.
func (c *Connection) Interrupt() {
	c.sess.Interrupt()
}

func (c *Connection) logReadError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugCtx(ctx, "Device closed connection")
	case errors.Is(err, session.ErrInterrupted):
		logger.DebugCtx(ctx, "Device session closed due to shutdown")
	case session.IsIdleTimeout(err) && ctx.Err() != nil:
		logger.DebugCtx(ctx, "Device session closed due to shutdown")
	case session.IsIdleTimeout(err):
		logger.InfoCtx(ctx, "Device idle timeout")
	default:
		logger.WarnCtx(ctx, "Device read error", logger.KeyError, err)
	}
}
