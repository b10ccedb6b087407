package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelsOf(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConnectionAccepted()
		m.RecordConnectionClosed()
		m.RecordConnectionForceClosed()
		m.SetActiveConnections(3)
		m.RecordFrame("HEARTBEAT", "HEARTBEAT_ACK", time.Millisecond)
		m.RecordBlockExchange("write", 9, "failed")
		m.RecordWriteExhausted(9)
		m.RecordCycle("SUCCESS", true, time.Second)
		m.RecordAllocation(false)
		m.SetAllocatorState(4, 3)
		m.RecordOperation("cycle", "SUCCESS")
		m.RecordSinkError("csv")
		m.RecordObserverDrop()
	})
}

func TestNewFromRegistryDisabled(t *testing.T) {
	assert.Nil(t, NewFromRegistry())
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordConnectionAccepted()
	m.SetActiveConnections(2)
	m.RecordFrame("RFID_DETECTED", "ACK_WRITE_PARTIAL", 1200*time.Millisecond)
	m.RecordFrame("WRITE_SUCCESS", "", time.Millisecond)
	m.RecordBlockExchange("write", 9, "failed")
	m.RecordBlockExchange("write", 9, "failed")
	m.RecordWriteExhausted(9)
	m.RecordCycle("PARTIAL_FAILURE", true, 1200*time.Millisecond)
	m.RecordAllocation(true)
	m.SetAllocatorState(5, 4)
	m.RecordObserverDrop()

	families := gather(t, reg)

	active := families["rfidgate_connections_active"]
	require.NotNil(t, active)
	assert.Equal(t, 2.0, active.GetMetric()[0].GetGauge().GetValue())

	frames := families["rfidgate_frames_total"]
	require.NotNil(t, frames)
	replies := map[string]float64{}
	for _, m := range frames.GetMetric() {
		replies[labelsOf(m)["reply"]] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, replies["ACK_WRITE_PARTIAL"])
	assert.Equal(t, 1.0, replies["none"])

	exchanges := families["rfidgate_block_exchanges_total"]
	require.NotNil(t, exchanges)
	require.Len(t, exchanges.GetMetric(), 1)
	assert.Equal(t, map[string]string{"op": "write", "block": "9", "outcome": "failed"}, labelsOf(exchanges.GetMetric()[0]))
	assert.Equal(t, 2.0, exchanges.GetMetric()[0].GetCounter().GetValue())

	cycles := families["rfidgate_cycles_total"]
	require.NotNil(t, cycles)
	assert.Equal(t, "true", labelsOf(cycles.GetMetric()[0])["allocated"])

	next := families["rfidgate_id_next"]
	require.NotNil(t, next)
	assert.Equal(t, 5.0, next.GetMetric()[0].GetGauge().GetValue())

	assert.NotNil(t, families["rfidgate_oplog_observer_drops_total"])
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
