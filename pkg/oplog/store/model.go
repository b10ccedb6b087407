package store

import (
	"time"

	"github.com/marmos91/rfidgate/pkg/oplog"
)

// OperationRecord is the persisted form of oplog.Record.
type OperationRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Kind         string    `gorm:"size:16;not null"`
	Timestamp    time.Time `gorm:"column:recorded_at;index;not null"`
	SessionID    string    `gorm:"size:36"`
	Device       string    `gorm:"size:64"`
	DeviceKind   string    `gorm:"size:16"`
	UID          string    `gorm:"column:uid;index;size:64"`
	Direction    string    `gorm:"size:8"`
	IDBlock      int
	TagID        string `gorm:"index;size:64"`
	TagIDWritten bool
	MarkerBlock  int
	Marker       string `gorm:"size:64"`
	Status       string `gorm:"index;size:20;not null"`
	Action       string `gorm:"size:64"`
	Sequence     string `gorm:"size:32"`
	CreatedAt    time.Time
}

// TableName returns the table name for OperationRecord.
func (OperationRecord) TableName() string {
	return "operation_records"
}

func fromRecord(r oplog.Record) *OperationRecord {
	return &OperationRecord{
		ID:           r.ID,
		Kind:         string(r.Kind),
		Timestamp:    r.Timestamp,
		SessionID:    r.SessionID,
		Device:       r.Device,
		DeviceKind:   r.DeviceKind,
		UID:          r.UID,
		Direction:    r.Direction,
		IDBlock:      r.IDBlock,
		TagID:        r.TagID,
		TagIDWritten: r.TagIDWritten,
		MarkerBlock:  r.MarkerBlock,
		Marker:       r.Marker,
		Status:       string(r.Status),
		Action:       r.Action,
		Sequence:     r.Sequence,
	}
}

func (m *OperationRecord) toRecord() oplog.Record {
	return oplog.Record{
		ID:           m.ID,
		Kind:         oplog.Kind(m.Kind),
		Timestamp:    m.Timestamp,
		SessionID:    m.SessionID,
		Device:       m.Device,
		DeviceKind:   m.DeviceKind,
		UID:          m.UID,
		Direction:    m.Direction,
		IDBlock:      m.IDBlock,
		TagID:        m.TagID,
		TagIDWritten: m.TagIDWritten,
		MarkerBlock:  m.MarkerBlock,
		Marker:       m.Marker,
		Status:       oplog.Status(m.Status),
		Action:       m.Action,
		Sequence:     m.Sequence,
	}
}
