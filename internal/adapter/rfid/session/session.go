// Package session owns one device connection: framing, the nested
// READ_BLOCK/WRITE_BLOCK sub-protocol, and device classification.
//
// A Session is single-owner. Only the goroutine serving the connection reads
// or writes it, and at most one exchange is in flight. Accessors used for
// reporting (Info, Kind, LastActivity) are safe from other goroutines.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/rfidgate/pkg/metrics"
)

// ErrClosed wraps every transport-fatal error: the peer closed the stream,
// the connection was reset, or a write could not be delivered. The owner must
// tear the session down.
var ErrClosed = errors.New("device connection closed")

// ErrInterrupted is returned by ReadFrame once Interrupt has been called.
var ErrInterrupted = errors.New("device session interrupted")

// errTimeout marks a read whose deadline passed before a full line arrived.
var errTimeout = errors.New("read timeout")

// Config tunes the sub-command exchanges.
type Config struct {
	// ResponseTimeout bounds the wait for each sub-command response.
	ResponseTimeout time.Duration

	// WriteAttempts is the total number of WRITE_BLOCK attempts, including
	// the first.
	WriteAttempts int

	// RetryDelay is the pause between failed write attempts.
	RetryDelay time.Duration

	// IdleTimeout closes a session that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each line written to the device. Zero disables it.
	WriteTimeout time.Duration
}

// DefaultConfig matches the timings deployed devices expect.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: 5 * time.Second,
		WriteAttempts:   3,
		RetryDelay:      500 * time.Millisecond,
	}
}

// Session wraps one device connection.
type Session struct {
	id      string
	conn    net.Conn
	addr    string
	reader  *bufio.Reader
	cfg     Config
	metrics metrics.RFIDMetrics

	// pending holds the start of a line whose remainder has not arrived yet,
	// e.g. when a response timeout fires mid-line.
	pending []byte

	// sleep waits between write attempts.
	sleep func(time.Duration)
	now   func() time.Time

	// readMu guards the read deadline against Interrupt. idle is set while
	// ReadFrame waits for the next frame.
	readMu      sync.Mutex
	idle        bool
	interrupted bool

	mu           sync.RWMutex
	kind         Kind
	connectedAt  time.Time
	lastActivity time.Time
}

// New wraps conn. m may be nil.
func New(conn net.Conn, cfg Config, m metrics.RFIDMetrics) *Session {
	if cfg.WriteAttempts < 1 {
		cfg.WriteAttempts = 1
	}
	now := time.Now()
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		addr:         conn.RemoteAddr().String(),
		reader:       bufio.NewReader(conn),
		cfg:          cfg,
		metrics:      m,
		sleep:        time.Sleep,
		now:          time.Now,
		kind:         KindUnknown,
		connectedAt:  now,
		lastActivity: now,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the device's address as host:port.
func (s *Session) RemoteAddr() string { return s.addr }

// Close closes the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// ReadFrame returns the next non-blank line with surrounding whitespace
// removed. It blocks until a line arrives, the idle timeout fires, or the
// stream ends; io.EOF is returned on a clean end of stream. A final line
// without a terminator is still delivered before io.EOF. After Interrupt it
// returns ErrInterrupted.
func (s *Session) ReadFrame() (string, error) {
	for {
		var deadline time.Time
		if s.cfg.IdleTimeout > 0 {
			deadline = s.now().Add(s.cfg.IdleTimeout)
		}
		line, err := s.readLine(deadline, true)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			if errors.Is(err, errTimeout) && s.isInterrupted() {
				return "", ErrInterrupted
			}
			return "", err
		}
		if line == "" {
			continue
		}
		return line, nil
	}
}

// WriteLine sends text followed by a newline.
func (s *Session) WriteLine(text string) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: set write deadline: %v", ErrClosed, err)
		}
	}
	if _, err := io.WriteString(s.conn, text+"\n"); err != nil {
		return fmt.Errorf("%w: write: %v", ErrClosed, err)
	}
	return nil
}

// awaitResponse reads the next non-blank line within the response timeout.
func (s *Session) awaitResponse() (string, error) {
	deadline := s.now().Add(s.cfg.ResponseTimeout)
	for {
		line, err := s.readLine(deadline, false)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

// readLine reads up to and including '\n' with the given read deadline (zero
// means none) and returns the trimmed line. On timeout the bytes read so far
// are kept in s.pending and errTimeout is returned. idle marks a wait for the
// next frame, which Interrupt may cut short.
func (s *Session) readLine(deadline time.Time, idle bool) (string, error) {
	if err := s.armRead(deadline, idle); err != nil {
		return "", err
	}

	chunk, err := s.reader.ReadString('\n')
	if idle {
		s.readMu.Lock()
		s.idle = false
		s.readMu.Unlock()
	}
	if err != nil {
		s.pending = append(s.pending, chunk...)
		switch {
		case isTimeout(err):
			return "", errTimeout
		case errors.Is(err, io.EOF) && len(s.pending) > 0:
			line := string(s.pending)
			s.pending = nil
			s.touch()
			return strings.TrimSpace(line), nil
		case errors.Is(err, io.EOF):
			return "", io.EOF
		default:
			return "", fmt.Errorf("%w: read: %v", ErrClosed, err)
		}
	}

	line := chunk
	if len(s.pending) > 0 {
		line = string(s.pending) + chunk
		s.pending = nil
	}
	s.touch()
	return strings.TrimSpace(line), nil
}

func (s *Session) armRead(deadline time.Time, idle bool) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if idle && s.interrupted {
		return ErrInterrupted
	}
	s.idle = idle
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set read deadline: %v", ErrClosed, err)
	}
	return nil
}

// Interrupt wakes a session waiting in ReadFrame and makes every later
// ReadFrame return ErrInterrupted. A sub-command exchange in flight keeps its
// own deadline and runs to completion. Safe to call from any goroutine.
func (s *Session) Interrupt() {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.interrupted = true
	if s.idle {
		_ = s.conn.SetReadDeadline(time.Now())
	}
}

func (s *Session) isInterrupted() bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.interrupted
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsIdleTimeout reports whether err from ReadFrame means the idle timeout
// fired.
func IsIdleTimeout(err error) bool {
	return errors.Is(err, errTimeout)
}

func (s *Session) touch() {
	t := s.now()
	s.mu.Lock()
	if t.After(s.lastActivity) {
		s.lastActivity = t
	}
	s.mu.Unlock()
}

// LastActivity returns when the device last sent a line.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Info is a point-in-time view of a session for status reporting.
type Info struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	Kind         Kind      `json:"kind"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Info returns a snapshot of the session's reportable state.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:           s.id,
		RemoteAddr:   s.addr,
		Kind:         s.kind,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
	}
}
