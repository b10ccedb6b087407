// Package devicesim simulates an RFID reader/writer speaking the device
// protocol, for load tests, demos and end-to-end tests.
package devicesim

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/rfidgate/internal/protocol"
)

// Tag is the simulated memory of one RFID tag.
type Tag struct {
	UID    string
	Blocks map[int]string
}

// NewTag returns a blank tag.
func NewTag(uid string) *Tag {
	return &Tag{UID: uid, Blocks: make(map[int]string)}
}

// Block returns the contents of block n, or the empty sentinel.
func (t *Tag) Block(n int) string {
	if v, ok := t.Blocks[n]; ok {
		return v
	}
	return "EMPTY"
}

// Device is a simulated reader/writer connected to a server.
//
// A Device is not safe for concurrent use; drive one device per goroutine.
type Device struct {
	conn net.Conn
	r    *bufio.Reader

	// FailWrites makes the next n WRITE_BLOCK commands for a block answer
	// WRITE_FAILED.
	FailWrites map[int]int

	// IgnoreReads makes the device never answer READ_BLOCK.
	IgnoreReads bool

	mu       sync.Mutex
	received []string
}

// Dial connects to a server.
func Dial(ctx context.Context, addr string) (*Device, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Device {
	return &Device{
		conn:       conn,
		r:          bufio.NewReader(conn),
		FailWrites: make(map[int]int),
	}
}

// Close closes the connection.
func (d *Device) Close() error { return d.conn.Close() }

// Received returns the sub-commands the server has sent, in order.
func (d *Device) Received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

// Send writes one raw line.
func (d *Device) Send(ctx context.Context, line string) error {
	d.applyDeadline(ctx)
	_, err := io.WriteString(d.conn, line+"\n")
	return err
}

// ReadLine reads one line from the server.
func (d *Device) ReadLine(ctx context.Context) (string, error) {
	d.applyDeadline(ctx)
	line, err := d.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (d *Device) applyDeadline(ctx context.Context) {
	deadline, _ := ctx.Deadline()
	_ = d.conn.SetDeadline(deadline)
}

// Ready announces the device and returns the server's reply.
func (d *Device) Ready(ctx context.Context) (string, error) {
	return d.Request(ctx, protocol.CmdReaderWriterReady, nil)
}

// Heartbeat sends a liveness probe and returns the server's reply.
func (d *Device) Heartbeat(ctx context.Context) (string, error) {
	return d.Request(ctx, protocol.CmdHeartbeat, nil)
}

// Present reports tag as detected, serves the server's READ_BLOCK and
// WRITE_BLOCK sub-commands against the tag's memory, and returns the final
// reply.
func (d *Device) Present(ctx context.Context, tag *Tag) (string, error) {
	var fields []protocol.Field
	if tag.UID != "" {
		fields = []protocol.Field{{Key: protocol.KeyUID, Value: tag.UID}}
	}
	return d.Request(ctx, protocol.CmdRFIDDetected, tag, fields...)
}

// LogEntry is a legacy RFID_LOG report.
type LogEntry struct {
	UID      string
	Action   string
	Block8   string
	Block9   string
	Sequence int
}

// Log sends a legacy RFID_LOG frame and returns the server's reply.
func (d *Device) Log(ctx context.Context, e LogEntry) (string, error) {
	return d.Request(ctx, protocol.CmdRFIDLog, nil,
		protocol.Field{Key: protocol.KeyUID, Value: e.UID},
		protocol.Field{Key: protocol.KeyAction, Value: e.Action},
		protocol.Field{Key: protocol.KeyBlock8, Value: e.Block8},
		protocol.Field{Key: protocol.KeyBlock9, Value: e.Block9},
		protocol.Field{Key: protocol.KeySeq, Value: strconv.Itoa(e.Sequence)},
	)
}

// Request sends a frame and answers sub-commands against tag (which may be
// nil) until a line that is not a sub-command arrives; that line is returned.
func (d *Device) Request(ctx context.Context, command string, tag *Tag, fields ...protocol.Field) (string, error) {
	frame := protocol.Frame{Command: command, Fields: fields}
	if err := d.Send(ctx, frame.String()); err != nil {
		return "", fmt.Errorf("send %s: %w", command, err)
	}

	for {
		line, err := d.ReadLine(ctx)
		if err != nil {
			return "", fmt.Errorf("await reply to %s: %w", command, err)
		}

		f := protocol.Parse(line)
		switch f.Command {
		case protocol.CmdReadBlock, protocol.CmdWriteBlock:
			d.mu.Lock()
			d.received = append(d.received, line)
			d.mu.Unlock()
			if err := d.answer(ctx, f, tag); err != nil {
				return "", err
			}
		default:
			return line, nil
		}
	}
}

func (d *Device) answer(ctx context.Context, f protocol.Frame, tag *Tag) error {
	block, err := strconv.Atoi(f.Field(protocol.KeyBlock))
	if err != nil {
		return d.Send(ctx, "ERROR_BAD_BLOCK")
	}
	if tag == nil {
		tag = NewTag("")
	}

	switch f.Command {
	case protocol.CmdReadBlock:
		if d.IgnoreReads {
			return nil
		}
		return d.Send(ctx, protocol.CmdReadSuccess+"|"+protocol.KeyData+":"+tag.Block(block))

	default:
		if d.FailWrites[block] > 0 {
			d.FailWrites[block]--
			return d.Send(ctx, protocol.CmdWriteFailed)
		}
		tag.Blocks[block] = f.Field(protocol.KeyData)
		return d.Send(ctx, protocol.CmdWriteSuccess)
	}
}

// Script is a reproducible run of a simulated device.
type Script struct {
	// Tags are presented in order, Rounds times.
	Tags   []*Tag
	Rounds int

	// Interval is the pause between presentations.
	Interval time.Duration
}

// Result summarizes a script run.
type Result struct {
	Replies map[string]int
	Elapsed time.Duration
}

// Run announces the device and presents every tag in the script.
func (d *Device) Run(ctx context.Context, s Script) (Result, error) {
	res := Result{Replies: make(map[string]int)}
	start := time.Now()

	reply, err := d.Ready(ctx)
	if err != nil {
		return res, err
	}
	res.Replies[reply]++

	rounds := max(s.Rounds, 1)
	for range rounds {
		for _, tag := range s.Tags {
			reply, err := d.Present(ctx, tag)
			if err != nil {
				return res, err
			}
			res.Replies[reply]++

			if s.Interval > 0 {
				select {
				case <-ctx.Done():
					return res, ctx.Err()
				case <-time.After(s.Interval):
				}
			}
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}
