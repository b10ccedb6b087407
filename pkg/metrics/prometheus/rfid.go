package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/rfidgate/pkg/metrics"
)

// Metrics is the Prometheus implementation of the RFID, allocator and oplog
// metric interfaces. All methods are no-ops on a nil receiver.
type Metrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	connectionsActive      prometheus.Gauge

	framesTotal   *prometheus.CounterVec
	frameDuration *prometheus.HistogramVec

	blockExchanges *prometheus.CounterVec
	writeExhausted *prometheus.CounterVec

	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram

	allocations     *prometheus.CounterVec
	allocatorNextID prometheus.Gauge
	allocatorUsed   prometheus.Gauge

	operationsTotal *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec
	observerDrops   prometheus.Counter
}

var (
	_ metrics.RFIDMetrics      = (*Metrics)(nil)
	_ metrics.AllocatorMetrics = (*Metrics)(nil)
	_ metrics.OpLogMetrics     = (*Metrics)(nil)
)

// cycleBuckets covers a cycle of one read plus up to two 3-attempt writes
// with 5s response timeouts.
var cycleBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfidgate_connections_accepted_total",
			Help: "Total device connections accepted",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfidgate_connections_closed_total",
			Help: "Total device connections closed",
		}),
		connectionsForceClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfidgate_connections_force_closed_total",
			Help: "Device connections force-closed after the shutdown timeout",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfidgate_connections_active",
			Help: "Current number of device sessions",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_frames_total",
			Help: "Inbound frames by command and reply",
		}, []string{"command", "reply"}),
		frameDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rfidgate_frame_duration_seconds",
			Help:    "Time from frame receipt to reply",
			Buckets: cycleBuckets,
		}, []string{"command"}),
		blockExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_block_exchanges_total",
			Help: "READ_BLOCK/WRITE_BLOCK exchanges by operation, block and outcome",
		}, []string{"op", "block", "outcome"}),
		writeExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_block_writes_exhausted_total",
			Help: "WRITE_BLOCK commands that failed every attempt",
		}, []string{"block"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_cycles_total",
			Help: "Tag-detection cycles by status and whether an id was allocated",
		}, []string{"status", "allocated"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rfidgate_cycle_duration_seconds",
			Help:    "Tag-detection cycle duration",
			Buckets: cycleBuckets,
		}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_id_allocations_total",
			Help: "Identifiers issued, by whether the snapshot was persisted",
		}, []string{"persisted"}),
		allocatorNextID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfidgate_id_next",
			Help: "Next candidate identifier",
		}),
		allocatorUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfidgate_id_used",
			Help: "Number of identifiers in the used set",
		}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_operations_total",
			Help: "Operation records emitted by kind and status",
		}, []string{"kind", "status"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfidgate_oplog_sink_errors_total",
			Help: "Failed appends by sink",
		}, []string{"sink"}),
		observerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfidgate_oplog_observer_drops_total",
			Help: "Operation records dropped because an observer was not keeping up",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectionsAccepted,
			m.connectionsClosed,
			m.connectionsForceClosed,
			m.connectionsActive,
			m.framesTotal,
			m.frameDuration,
			m.blockExchanges,
			m.writeExhausted,
			m.cyclesTotal,
			m.cycleDuration,
			m.allocations,
			m.allocatorNextID,
			m.allocatorUsed,
			m.operationsTotal,
			m.sinkErrors,
			m.observerDrops,
		)
	}
	return m
}

// NewFromRegistry registers with the process-wide registry, or returns nil
// when metrics.InitRegistry has not been called.
func NewFromRegistry() *Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return New(metrics.GetRegistry())
}

func (m *Metrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *Metrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connectionsForceClosed.Inc()
}

func (m *Metrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.connectionsActive.Set(float64(count))
}

func (m *Metrics) RecordFrame(command, reply string, duration time.Duration) {
	if m == nil {
		return
	}
	if reply == "" {
		reply = "none"
	}
	m.framesTotal.WithLabelValues(command, reply).Inc()
	m.frameDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *Metrics) RecordBlockExchange(op string, block int, outcome string) {
	if m == nil {
		return
	}
	m.blockExchanges.WithLabelValues(op, strconv.Itoa(block), outcome).Inc()
}

func (m *Metrics) RecordWriteExhausted(block int) {
	if m == nil {
		return
	}
	m.writeExhausted.WithLabelValues(strconv.Itoa(block)).Inc()
}

func (m *Metrics) RecordCycle(status string, allocated bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(status, strconv.FormatBool(allocated)).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordAllocation(persisted bool) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

func (m *Metrics) SetAllocatorState(nextID uint64, used int) {
	if m == nil {
		return
	}
	m.allocatorNextID.Set(float64(nextID))
	m.allocatorUsed.Set(float64(used))
}

func (m *Metrics) RecordOperation(kind, status string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) RecordObserverDrop() {
	if m == nil {
		return
	}
	m.observerDrops.Inc()
}
