package protocol

import (
	"strconv"
	"strings"
)

// Field is one KEY:VALUE pair. A part without a separator has an empty Value
// and the whole part as Key.
type Field struct {
	Key   string
	Value string
}

// Frame is a parsed protocol line.
type Frame struct {
	Command string
	Fields  []Field
}

// Parse splits a line into its command token and fields. Surrounding
// whitespace (including the line terminator) is removed first. Parse never
// fails; an empty line yields a Frame with an empty Command.
func Parse(line string) Frame {
	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}
	}

	parts := strings.Split(line, FieldSep)
	f := Frame{Command: parts[0]}
	if len(parts) > 1 {
		f.Fields = make([]Field, 0, len(parts)-1)
	}
	for _, p := range parts[1:] {
		key, value, _ := strings.Cut(p, KeyValueSep)
		f.Fields = append(f.Fields, Field{Key: key, Value: value})
	}
	return f
}

// Field returns the value of the first field named key, or "".
func (f Frame) Field(key string) string {
	for _, fl := range f.Fields {
		if fl.Key == key {
			return fl.Value
		}
	}
	return ""
}

// LastField returns the value of the last field named key, or "".
func (f Frame) LastField(key string) string {
	for i := len(f.Fields) - 1; i >= 0; i-- {
		if f.Fields[i].Key == key {
			return f.Fields[i].Value
		}
	}
	return ""
}

// Has reports whether any field is named key.
func (f Frame) Has(key string) bool {
	for _, fl := range f.Fields {
		if fl.Key == key {
			return true
		}
	}
	return false
}

// String renders the frame without a line terminator.
func (f Frame) String() string {
	var b strings.Builder
	b.WriteString(f.Command)
	for _, fl := range f.Fields {
		b.WriteString(FieldSep)
		b.WriteString(fl.Key)
		b.WriteString(KeyValueSep)
		b.WriteString(fl.Value)
	}
	return b.String()
}

// ReadBlock builds a READ_BLOCK sub-command.
func ReadBlock(block int) string {
	return Frame{
		Command: CmdReadBlock,
		Fields:  []Field{{KeyBlock, strconv.Itoa(block)}},
	}.String()
}

// WriteBlock builds a WRITE_BLOCK sub-command.
func WriteBlock(block int, data string) string {
	return Frame{
		Command: CmdWriteBlock,
		Fields:  []Field{{KeyBlock, strconv.Itoa(block)}, {KeyData, data}},
	}.String()
}

// readSuccessPrefix is matched literally so that a DATA value containing
// separators survives intact.
const readSuccessPrefix = CmdReadSuccess + FieldSep + KeyData + KeyValueSep

// ParseReadSuccess extracts the block contents from a READ_SUCCESS response.
// The value is whitespace-trimmed. ok is false for any other line.
func ParseReadSuccess(line string) (data string, ok bool) {
	line = strings.TrimSpace(line)
	rest, found := strings.CutPrefix(line, readSuccessPrefix)
	if !found {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// IsWriteSuccess reports whether line is exactly the WRITE_SUCCESS token.
func IsWriteSuccess(line string) bool {
	return strings.TrimSpace(line) == CmdWriteSuccess
}
