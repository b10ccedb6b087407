// Package oplog records completed device operations and fans them out to
// durable sinks and in-process observers.
package oplog

import (
	"context"
	"strings"
	"time"
)

// Kind distinguishes records produced by a tag cycle from those relayed
// verbatim from legacy RFID_LOG frames.
type Kind string

const (
	KindCycle  Kind = "cycle"
	KindLegacy Kind = "legacy"
)

// Status is the outcome of an operation.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialFailure Status = "PARTIAL_FAILURE"
	StatusLogged         Status = "LOGGED"
)

// DirectionIn is the direction recorded for tag cycles, which always mark
// stock as arriving.
const DirectionIn = "IN"

// Record is one completed operation. Records are never mutated after they
// are handed to a Recorder.
type Record struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
	Device     string    `json:"device"`
	DeviceKind string    `json:"device_kind,omitempty"`
	UID        string    `json:"uid"`
	Direction  string    `json:"direction,omitempty"`

	IDBlock      int    `json:"id_block"`
	TagID        string `json:"tag_id"`
	TagIDWritten bool   `json:"tag_id_written"`
	MarkerBlock  int    `json:"marker_block"`
	Marker       string `json:"marker"`

	Status Status `json:"status"`

	// Legacy RFID_LOG fields.
	Action   string `json:"action,omitempty"`
	Sequence string `json:"sequence,omitempty"`
}

// Operation is the value of the columnar "operation" column: the direction
// for cycles, the reported action for legacy records.
func (r Record) Operation() string {
	if r.Kind == KindLegacy {
		if r.Action == "" {
			return "LOG"
		}
		return r.Action
	}
	return r.Direction
}

// Filter narrows a history query. Zero fields match everything.
type Filter struct {
	UID    string
	Status Status
	Since  time.Time
	Limit  int
}

// Match reports whether r passes the filter (Limit is not considered).
func (f Filter) Match(r Record) bool {
	if f.UID != "" && !strings.EqualFold(f.UID, r.UID) {
		return false
	}
	if f.Status != "" && f.Status != r.Status {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Lister serves history queries, newest first.
type Lister interface {
	List(ctx context.Context, f Filter) ([]Record, error)
}
