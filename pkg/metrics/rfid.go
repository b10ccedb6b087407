package metrics

import "time"

// ConnectionMetrics tracks the device listener. It matches the recorder the
// TCP acceptor in pkg/adapter expects.
type ConnectionMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// RFIDMetrics provides observability for device sessions.
//
// Implementations must be safe for concurrent use. A nil RFIDMetrics
// disables collection.
type RFIDMetrics interface {
	ConnectionMetrics

	// RecordFrame records one inbound frame by command and the reply sent
	// ("" when the frame is answered with nothing).
	RecordFrame(command, reply string, duration time.Duration)

	// RecordBlockExchange records one READ_BLOCK or WRITE_BLOCK exchange.
	// op is "read" or "write"; outcome is "success", "failed", "timeout",
	// "unexpected" or "transport".
	RecordBlockExchange(op string, block int, outcome string)

	// RecordWriteExhausted records a WRITE_BLOCK that failed every attempt.
	RecordWriteExhausted(block int)

	// RecordCycle records a completed tag-detection cycle.
	RecordCycle(status string, allocated bool, duration time.Duration)
}

// AllocatorMetrics provides observability for identifier allocation.
type AllocatorMetrics interface {
	// RecordAllocation records one issued identifier and whether the snapshot
	// was persisted afterwards.
	RecordAllocation(persisted bool)

	// SetAllocatorState publishes the next candidate id and the used-id count.
	SetAllocatorState(nextID uint64, used int)
}

// OpLogMetrics provides observability for operation record fan-out.
type OpLogMetrics interface {
	// RecordOperation records one record accepted for fan-out.
	RecordOperation(kind, status string)

	// RecordSinkError records a failed append to the named sink.
	RecordSinkError(sink string)

	// RecordObserverDrop records a record dropped because an observer was full.
	RecordObserverDrop()
}
