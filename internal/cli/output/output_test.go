package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  yaml  ", want: FormatYAML},
		{name: "invalid format", input: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func sampleRecords() Operations {
	return Operations{{
		UID:          "04A1B2",
		TagID:        "00000007",
		TagIDWritten: true,
		Direction:    oplog.DirectionIn,
		Status:       oplog.StatusSuccess,
		Device:       "10.0.0.5:5000",
		Timestamp:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}
}

func TestPrinterTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(sampleRecords()))

	out := buf.String()
	assert.Contains(t, out, "UID")
	assert.Contains(t, out, "TAG ID")
	assert.Contains(t, out, "04A1B2")
	assert.Contains(t, out, "00000007")
	assert.Contains(t, out, "IN")
	assert.Contains(t, out, "SUCCESS")
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).Print(sampleRecords()))

	assert.Contains(t, buf.String(), `"tag_id": "00000007"`)
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(map[string]int{"next_id": 3}))

	assert.Equal(t, "next_id: 3\n", buf.String())
}

func TestPrinterTableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(map[string]int{"next_id": 3}))

	assert.Contains(t, buf.String(), `"next_id": 3`)
}

func TestSessionsRows(t *testing.T) {
	rows := Sessions{{
		ID:           "abc",
		RemoteAddr:   "10.0.0.9:4000",
		Kind:         session.KindOutReader,
		ConnectedAt:  time.Now().Add(-time.Minute),
		LastActivity: time.Now().Add(-5 * time.Second),
	}}.Rows()

	require.Len(t, rows, 1)
	assert.Equal(t, "abc", rows[0][0])
	assert.Equal(t, "out-reader", rows[0][2])
	assert.Equal(t, "5s", rows[0][4])
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{{"Next ID", "3"}, {"Used", "2"}}))

	out := buf.String()
	assert.Contains(t, out, "Next ID")
	assert.Contains(t, out, "Used")
}

func TestPrinterColor(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, FormatTable, true).Success("done")
	assert.Equal(t, "\033[32mdone\033[0m\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, FormatTable, false).Warning("careful")
	assert.Equal(t, "careful\n", buf.String())
}
