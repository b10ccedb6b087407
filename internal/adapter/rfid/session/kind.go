package session

import (
	"strings"

	"github.com/marmos91/rfidgate/internal/protocol"
)

// Kind classifies a device from the traffic it sends.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindReader    Kind = "reader"
	KindInReader  Kind = "in-reader"
	KindOutReader Kind = "out-reader"
)

// Kind returns the current classification.
func (s *Session) Kind() Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kind
}

// Classify updates the classification from an inbound frame.
//
//   - READER_WRITER_READY promotes an unknown device to reader.
//   - RFID_DETECTED marks stock coming in, so the device is an in-reader.
//   - RFID_LOG with an ACTION containing OUT marks an out-reader; one
//     containing IN marks an in-reader.
func (s *Session) Classify(f protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f.Command {
	case protocol.CmdReaderWriterReady:
		if s.kind == KindUnknown {
			s.kind = KindReader
		}
	case protocol.CmdRFIDDetected:
		s.kind = KindInReader
	case protocol.CmdRFIDLog:
		action := strings.ToUpper(f.LastField(protocol.KeyAction))
		switch {
		case strings.Contains(action, "OUT"):
			s.kind = KindOutReader
		case strings.Contains(action, "IN"):
			s.kind = KindInReader
		}
	}
}
