package output

import (
	"strconv"
	"time"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

// Operations renders operation records, one per row.
type Operations []oplog.Record

func (o Operations) Headers() []string {
	return []string{"Time", "UID", "Tag ID", "Written", "Operation", "Status", "Device"}
}

func (o Operations) Rows() [][]string {
	rows := make([][]string, 0, len(o))
	for _, r := range o {
		rows = append(rows, []string{
			r.Timestamp.Local().Format(oplog.TimestampLayout),
			r.UID,
			r.TagID,
			strconv.FormatBool(r.TagIDWritten),
			r.Operation(),
			string(r.Status),
			r.Device,
		})
	}
	return rows
}

// Sessions renders connected device sessions.
type Sessions []session.Info

func (s Sessions) Headers() []string {
	return []string{"ID", "Remote", "Kind", "Connected", "Idle"}
}

func (s Sessions) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(s))
	for _, info := range s {
		rows = append(rows, []string{
			info.ID,
			info.RemoteAddr,
			string(info.Kind),
			info.ConnectedAt.Local().Format(oplog.TimestampLayout),
			now.Sub(info.LastActivity).Truncate(time.Second).String(),
		})
	}
	return rows
}
