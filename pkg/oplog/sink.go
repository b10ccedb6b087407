package oplog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink durably stores records.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Append stores one record.
	Append(ctx context.Context, r Record) error

	Close() error
}

// TimestampLayout is used by the text and CSV sinks. Times are local.
const TimestampLayout = "2006-01-02 15:04:05"

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// ============================================================================
// Text sink
// ============================================================================

// TextSink appends one human-readable line per record, in the format
// operators already grep for:
//
//	[2006-01-02 15:04:05] RFID Operation - UID: 04A1, Block8: 00000042 (written), Block9: WAREHOUSE_IN (written), Status: SUCCESS
//	[2006-01-02 15:04:05] RFID Log - UID: 04A1, Block8: 00000042, Block9: WAREHOUSE_IN, Sequence: 17
type TextSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewTextSink opens (or creates) path for appending.
func NewTextSink(path string) (*TextSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &TextSink{f: f, path: path}, nil
}

func (s *TextSink) Name() string { return "text" }

func (s *TextSink) Append(_ context.Context, r Record) error {
	line := FormatText(r) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteString(line); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// FormatText renders a record as a text log line without the newline.
func FormatText(r Record) string {
	ts := r.Timestamp.Local().Format(TimestampLayout)

	if r.Kind == KindLegacy {
		return fmt.Sprintf("[%s] RFID Log - UID: %s, Block%d: %s, Block%d: %s, Sequence: %s",
			ts, r.UID, r.IDBlock, r.TagID, r.MarkerBlock, r.Marker, r.Sequence)
	}

	how := "existing"
	if r.TagIDWritten {
		how = "written"
	}
	return fmt.Sprintf("[%s] RFID Operation - UID: %s, Block%d: %s (%s), Block%d: %s (written), Status: %s",
		ts, r.UID, r.IDBlock, r.TagID, how, r.MarkerBlock, r.Marker, r.Status)
}

// ============================================================================
// CSV sink
// ============================================================================

// CSVHeader is written once to an empty CSV file.
var CSVHeader = []string{"timestamp", "device", "uid", "operation", "block8", "block9", "status"}

// CSVSink appends one row per record.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// NewCSVSink opens (or creates) path for appending, writing the header when
// the file is empty.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	s := &CSVSink{f: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if err := s.writeRow(CSVHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Append(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRow(CSVRow(r))
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

// CSVRow renders a record in CSVHeader column order.
func CSVRow(r Record) []string {
	return []string{
		r.Timestamp.Local().Format(TimestampLayout),
		r.Device,
		r.UID,
		r.Operation(),
		r.TagID,
		r.Marker,
		string(r.Status),
	}
}
