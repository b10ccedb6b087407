package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/idalloc"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

// DefaultOperationsLimit applies when ?limit is absent.
const DefaultOperationsLimit = 50

// StateSource exposes the in-memory allocation table.
type StateSource interface {
	Snapshot() idstate.State
}

// SessionLister lists connected device sessions.
type SessionLister interface {
	Sessions() []session.Info
}

// StateResponse summarizes the allocation table. UsedIDs is only filled when
// the caller asks for ?full=true.
type StateResponse struct {
	NextID    uint64   `json:"next_id"`
	NextTagID string   `json:"next_tag_id"`
	UsedCount int      `json:"used_count"`
	Highest   uint64   `json:"highest"`
	Gaps      uint64   `json:"gaps"`
	UsedIDs   []uint64 `json:"used_ids,omitempty"`
}

// StatusHandler serves the read-only views of the running server.
type StatusHandler struct {
	state      StateSource
	sessions   SessionLister
	operations oplog.Lister
}

// NewStatusHandler creates a status handler. Any source may be nil, in which
// case its endpoint answers with an empty payload.
func NewStatusHandler(state StateSource, sessions SessionLister, operations oplog.Lister) *StatusHandler {
	return &StatusHandler{state: state, sessions: sessions, operations: operations}
}

// State handles GET /api/v1/state.
func (h *StatusHandler) State(w http.ResponseWriter, r *http.Request) {
	st := idstate.Default()
	if h.state != nil {
		st = h.state.Snapshot()
	}

	resp := StateResponse{
		NextID:    st.NextID,
		NextTagID: idalloc.Format(st.NextFree()),
		UsedCount: len(st.UsedIDs),
		Highest:   st.Highest(),
		Gaps:      st.Gaps(),
	}
	if full, _ := strconv.ParseBool(r.URL.Query().Get("full")); full {
		resp.UsedIDs = st.UsedIDs
	}
	writeJSON(w, http.StatusOK, okResponse(resp))
}

// Sessions handles GET /api/v1/sessions.
func (h *StatusHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	infos := []session.Info{}
	if h.sessions != nil {
		infos = h.sessions.Sessions()
	}
	writeJSON(w, http.StatusOK, okResponse(infos))
}

// Operations handles GET /api/v1/operations.
//
// Query parameters:
//   - limit: maximum records returned (default 50)
//   - uid: exact tag UID, case-insensitive
//   - status: SUCCESS, PARTIAL_FAILURE or LOGGED
//   - since: RFC 3339 lower bound on the record timestamp
func (h *StatusHandler) Operations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	records := []oplog.Record{}
	if h.operations != nil {
		records, err = h.operations.List(r.Context(), filter)
		if err != nil {
			logger.Error("Failed to list operations", logger.KeyError, err)
			InternalServerError(w, "Failed to list operations")
			return
		}
	}
	writeJSON(w, http.StatusOK, okResponse(records))
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(r *http.Request) (oplog.Filter, error) {
	q := r.URL.Query()
	f := oplog.Filter{
		UID:   q.Get("uid"),
		Limit: DefaultOperationsLimit,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, filterError("limit must be a positive integer")
		}
		f.Limit = n
	}

	if v := q.Get("status"); v != "" {
		switch s := oplog.Status(strings.ToUpper(v)); s {
		case oplog.StatusSuccess, oplog.StatusPartialFailure, oplog.StatusLogged:
			f.Status = s
		default:
			return f, filterError("unknown status " + strconv.Quote(v))
		}
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, filterError("since must be an RFC 3339 timestamp")
		}
		f.Since = t
	}
	return f, nil
}
