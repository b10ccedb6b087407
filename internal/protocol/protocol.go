// Package protocol implements the line-oriented text protocol spoken by RFID
// reader/writer devices.
//
// A frame is one newline-terminated UTF-8 line. Fields are separated by '|';
// the first field is the command token and the rest are KEY:VALUE pairs:
//
//	RFID_DETECTED|UID:04A1B2C3
//	WRITE_BLOCK|BLOCK:8|DATA:00000042
//
// Keys are matched exactly (case-sensitive, no surrounding whitespace). A
// missing key reads as the empty string.
package protocol

// Inbound commands sent by devices.
const (
	CmdReaderWriterReady = "READER_WRITER_READY"
	CmdRFIDDetected      = "RFID_DETECTED"
	CmdRFIDLog           = "RFID_LOG"
	CmdHeartbeat         = "HEARTBEAT"

	// Sub-command responses. Normally consumed by the session that issued
	// the sub-command; when one reaches the dispatcher it is dropped.
	CmdWriteSuccess = "WRITE_SUCCESS"
	CmdWriteFailed  = "WRITE_FAILED"
	CmdReadSuccess  = "READ_SUCCESS"
)

// Outbound sub-commands sent to devices.
const (
	CmdReadBlock  = "READ_BLOCK"
	CmdWriteBlock = "WRITE_BLOCK"
)

// Replies sent to devices.
const (
	ReplyReaderWriterReady = "ACK_READER_WRITER_READY"
	ReplyWriteSuccess      = "ACK_WRITE_SUCCESS"
	ReplyWritePartial      = "ACK_WRITE_PARTIAL"
	ReplyLogged            = "ACK_LOGGED"
	ReplyHeartbeat         = "HEARTBEAT_ACK"
	ReplyNoUID             = "ERROR_NO_UID"
	ReplyUnknownCommand    = "ERROR_UNKNOWN_COMMAND"
	ReplyProcessing        = "ERROR_PROCESSING"
)

// Field keys.
const (
	KeyUID    = "UID"
	KeyBlock  = "BLOCK"
	KeyData   = "DATA"
	KeyAction = "ACTION"
	KeyBlock8 = "BLOCK8"
	KeyBlock9 = "BLOCK9"
	KeySeq    = "SEQ"
)

// Delimiters.
const (
	FieldSep    = "|"
	KeyValueSep = ":"
	LineEnd     = "\n"
)
